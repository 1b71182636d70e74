// Package support provides the registry that maps migration identities to the
// application's Definition implementations.
package support

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	model "github.com/tigerroll/batchmig/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// MigrationDefinitionGroup is the fx value group MigrationEntry values are collected into.
const MigrationDefinitionGroup = "migration_definitions"

// MigrationEntry binds a Definition to its project and filename.
type MigrationEntry struct {
	Project    string
	Filename   string
	Definition model.Definition
}

// Timestamp returns the timestamp prefix of the entry's filename.
func (e MigrationEntry) Timestamp() string {
	ts, _ := model.ParseMigrationFilename(e.Filename)
	return ts
}

// MigrationRegistry holds the Definitions known to this process. Definitions are code,
// so the registry is rebuilt on every start and never persisted.
type MigrationRegistry struct {
	entries map[string]map[string]MigrationEntry // project -> timestamp -> entry
	mu      sync.RWMutex
}

// RegistryParams collects the grouped entries contributed by application modules.
type RegistryParams struct {
	fx.In
	Entries []MigrationEntry `group:"migration_definitions"`
}

// NewMigrationRegistry creates a registry from the grouped entries. Every invalid
// entry is reported, not just the first.
func NewMigrationRegistry(p RegistryParams) (*MigrationRegistry, error) {
	r := &MigrationRegistry{entries: make(map[string]map[string]MigrationEntry)}
	var errs *multierror.Error
	for _, e := range p.Entries {
		if err := r.Register(e.Project, e.Filename, e.Definition); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, exception.NewBatchError("migration_registry", "invalid migration definitions", err, false, false)
	}
	return r, nil
}

// Register adds def under project and filename. The filename must carry a 14-digit
// timestamp prefix that is unique within the project.
func (r *MigrationRegistry) Register(project, filename string, def model.Definition) error {
	if project == "" {
		return fmt.Errorf("migration %s: project must not be empty", filename)
	}
	if def == nil {
		return fmt.Errorf("migration %s/%s: definition must not be nil", project, filename)
	}
	ts, err := model.ParseMigrationFilename(filename)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byTimestamp, ok := r.entries[project]
	if !ok {
		byTimestamp = make(map[string]MigrationEntry)
		r.entries[project] = byTimestamp
	}
	if existing, dup := byTimestamp[ts]; dup {
		return fmt.Errorf("migration %s/%s: timestamp %s already used by %s", project, filename, ts, existing.Filename)
	}
	byTimestamp[ts] = MigrationEntry{Project: project, Filename: filename, Definition: def}
	logger.Debugf("Registered migration definition %s/%s.", project, filename)
	return nil
}

// Lookup returns the Definition registered for project and timestamp.
func (r *MigrationRegistry) Lookup(project, timestamp string) (model.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[project][timestamp]
	if !ok {
		return nil, false
	}
	return e.Definition, true
}

// Entries returns the project's entries ordered by timestamp.
func (r *MigrationRegistry) Entries(project string) []MigrationEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MigrationEntry, 0, len(r.entries[project]))
	for _, e := range r.entries[project] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// FindByFilename returns the project's entry whose filename or timestamp equals name.
func (r *MigrationRegistry) FindByFilename(project, name string) (MigrationEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[project][name]; ok {
		return e, true
	}
	for _, e := range r.entries[project] {
		if e.Filename == name {
			return e, true
		}
	}
	return MigrationEntry{}, false
}
