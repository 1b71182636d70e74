package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/batchmig/pkg/batch/adapter/database"
	config "github.com/tigerroll/batchmig/pkg/batch/core/config"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

// GormDBConnectionResolver implements database.DBConnectionResolver by dispatching to
// the provider registered for the connection's database type.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider
	cfg         *config.Config
}

// ResolverParams are the fx dependencies of NewGormDBConnectionResolver.
type ResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewGormDBConnectionResolver creates a resolver over the grouped providers.
func NewGormDBConnectionResolver(p ResolverParams) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider, len(p.DBProviders))
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}
	return &GormDBConnectionResolver{dbProviders: providerMap, cfg: p.Cfg}
}

// ResolveDBConnection returns the named connection, reconnecting when a ping fails.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	dbConfig, err := DecodeDatabaseConfig(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: %w", err)
	}

	provider, ok := r.dbProviders[dbConfig.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: no DBProvider for type '%s' (connection '%s')", dbConfig.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}

	if pingErr := conn.RefreshConnection(ctx); pingErr != nil {
		logger.Warnf("DBConnectionResolver: connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		reconnected, reconnectErr := provider.ForceReconnect(name)
		if reconnectErr != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to reconnect '%s': %w", name, reconnectErr)
		}
		return reconnected, nil
	}
	return conn, nil
}

// CloseAll closes every provider's connections.
func (r *GormDBConnectionResolver) CloseAll() error {
	var firstErr error
	for _, p := range r.dbProviders {
		if err := p.CloseAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StaticResolver always resolves to a single connection. It is used by tools and tests
// that open one connection directly.
type StaticResolver struct {
	Conn database.DBConnection
}

// ResolveDBConnection implements database.DBConnectionResolver.
func (s *StaticResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	if s.Conn == nil {
		return nil, fmt.Errorf("no connection configured for '%s'", name)
	}
	return s.Conn, nil
}
