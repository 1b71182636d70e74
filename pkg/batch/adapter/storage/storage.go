// Package storage defines the object storage adapter used to publish job reports.
// Connections are named under adapter.storage and served by the provider of their type.
package storage

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/fx"

	storageconfig "github.com/tigerroll/batchmig/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/configbinder"
)

// StorageProviderGroup is the fx value group StorageProviders are collected into.
const StorageProviderGroup = "storage_providers"

// StorageConnection is a connection to one bucket-style object store.
type StorageConnection interface {
	// Upload writes data to bucket/objectName, replacing any existing object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName.
	DeleteObject(ctx context.Context, bucket, objectName string) error

	Close() error
	// Type returns the provider type, e.g. "local".
	Type() string
	// Name returns the connection name.
	Name() string
}

// StorageProvider hands out connections of one storage type.
type StorageProvider interface {
	GetConnection(name string, cfg storageconfig.StorageConfig) (StorageConnection, error)
	CloseAll() error
	Type() string
}

// StorageConnectionResolver resolves named storage connections.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}

// DecodeStorageConfig reads the named entry of adapter.storage.
func DecodeStorageConfig(cfg *config.Config, name string) (storageconfig.StorageConfig, error) {
	var out storageconfig.StorageConfig
	section, _ := cfg.BatchMig.AdapterConfigs["storage"].(map[string]interface{})
	if section == nil {
		return out, fmt.Errorf("no 'adapter.storage' configuration found")
	}
	raw, ok := section[name]
	if !ok {
		return out, fmt.Errorf("storage configuration '%s' not found under 'adapter.storage'", name)
	}
	if err := configbinder.Bind(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return out, nil
}

// Resolver dispatches to the provider registered for a connection's type.
type Resolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// ResolverParams are the fx dependencies of NewResolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

// NewResolver creates a resolver over the grouped providers.
func NewResolver(p ResolverParams) *Resolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return &Resolver{providers: providers, cfg: p.Cfg}
}

// ResolveStorageConnection implements StorageConnectionResolver.
func (r *Resolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	storageCfg, err := DecodeStorageConfig(r.cfg, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[storageCfg.Type]
	if !ok {
		return nil, fmt.Errorf("no StorageProvider for type '%s' (connection '%s')", storageCfg.Type, name)
	}
	return provider.GetConnection(name, storageCfg)
}

// CloseAll closes the connections of every provider.
func (r *Resolver) CloseAll() error {
	var firstErr error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Module provides the Resolver. Providers come from sub-packages such as local.
var Module = fx.Options(
	fx.Provide(
		NewResolver,
		func(r *Resolver) StorageConnectionResolver { return r },
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Resolver) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return r.CloseAll() }})
	}),
)
