package config

import "go.uber.org/fx"

// NewMigrationConfigProvider exposes the migration section on its own.
func NewMigrationConfigProvider(cfg *Config) *MigrationConfig {
	return &cfg.BatchMig.Migration
}

// Module provides the sections of an already supplied *Config that components take on their own.
var Module = fx.Provide(NewMigrationConfigProvider)
