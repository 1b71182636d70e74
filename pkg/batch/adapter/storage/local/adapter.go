// Package local implements the storage adapter on the local file system. A bucket is a
// directory below base_dir and an object is a file below it.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// ProviderType is the adapter.storage type served by this package.
const ProviderType = "local"

// Adapter implements storage.StorageConnection on a directory tree.
type Adapter struct {
	cfg  storageconfig.StorageConfig
	name string
}

var _ storage.StorageConnection = (*Adapter)(nil)

// NewAdapter creates an Adapter, creating base_dir if it does not exist.
func NewAdapter(cfg storageconfig.StorageConfig, name string) (*Adapter, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base_dir must be set", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage '%s': failed to create base_dir '%s': %w", name, cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage '%s': failed to stat base_dir '%s': %w", name, cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage '%s': base_dir '%s' is not a directory", name, cfg.BaseDir)
	}
	return &Adapter{cfg: cfg, name: name}, nil
}

// Close implements storage.StorageConnection. It holds no resources.
func (a *Adapter) Close() error { return nil }

// Type implements storage.StorageConnection.
func (a *Adapter) Type() string { return ProviderType }

// Name implements storage.StorageConnection.
func (a *Adapter) Name() string { return a.name }

// Upload implements storage.StorageConnection. The object appears atomically: data is
// written to a temporary file that is renamed into place.
func (a *Adapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in '%s': %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move upload into '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded '%s' (local storage '%s', %s).", fullPath, a.name, contentType)
	return nil
}

// Download implements storage.StorageConnection.
func (a *Adapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", fullPath, err)
	}
	return f, nil
}

// ListObjects implements storage.StorageConnection. Object names use forward slashes and
// are relative to the bucket. A missing bucket lists nothing.
func (a *Adapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return err
	}
	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == basePath {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(basePath, path)
		if err != nil {
			return err
		}
		objectName := filepath.ToSlash(rel)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

// DeleteObject implements storage.StorageConnection. Deleting a missing object is not an error.
func (a *Adapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete '%s': %w", fullPath, err)
	}
	return nil
}

// resolvePath maps bucket/objectName below base_dir and rejects paths escaping it.
func (a *Adapter) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	base, err := filepath.Abs(a.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base_dir '%s': %w", a.cfg.BaseDir, err)
	}
	full := filepath.Join(base, bucket, filepath.FromSlash(objectName))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object '%s/%s' resolves outside of base_dir '%s'", bucket, objectName, a.cfg.BaseDir)
	}
	return full, nil
}

// Provider implements storage.StorageProvider for local connections.
type Provider struct {
	connections map[string]*Adapter
	mu          sync.Mutex
}

// NewProvider creates the local storage provider.
func NewProvider() *Provider {
	return &Provider{connections: make(map[string]*Adapter)}
}

// Type implements storage.StorageProvider.
func (p *Provider) Type() string { return ProviderType }

// GetConnection implements storage.StorageProvider.
func (p *Provider) GetConnection(name string, cfg storageconfig.StorageConfig) (storage.StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	conn, err := NewAdapter(cfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	return conn, nil
}

// CloseAll implements storage.StorageProvider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections = make(map[string]*Adapter)
	return nil
}

// Module contributes the local provider to the storage_providers group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewProvider,
		fx.As(new(storage.StorageProvider)),
		fx.ResultTags(`group:"`+storage.StorageProviderGroup+`"`),
	)),
)
