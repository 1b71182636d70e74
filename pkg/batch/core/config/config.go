// Package config holds the application configuration and its loader.
package config

import "time"

// EmbeddedConfig holds the raw bytes of the YAML configuration, usually embedded in main.
type EmbeddedConfig []byte

// LogLevel names a logging level understood by both the engine logger and GORM.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// SQLLevel controls GORM's own logging. Defaults to SILENT.
	SQLLevel string `yaml:"sql_level"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// RedisConfig holds the Redis connection used by the redis lock backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LockConfig selects and tunes the distributed lock guarding migration runs.
type LockConfig struct {
	// Type is one of "memory", "redis" or "postgres".
	Type string `yaml:"type"`
	// Name is the lock name prefix; the project is appended to it.
	Name       string      `yaml:"name"`
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
}

// MigrationConfig holds the batched migration engine settings.
type MigrationConfig struct {
	// Project scopes registration and execution.
	Project string `yaml:"project"`
	// DefaultBatchSize is used when a definition reports a batch size of zero.
	DefaultBatchSize int64 `yaml:"default_batch_size"`
	// RunDurationMs is the wall-clock budget of one scheduled run. Zero means unbounded.
	RunDurationMs int `yaml:"run_duration_ms"`
	// RunIterations is the iteration budget of one scheduled run. Zero means unbounded.
	RunIterations int `yaml:"run_iterations"`
	// Schedule is a cron spec for the background executor (e.g. "@every 10s").
	Schedule string     `yaml:"schedule"`
	Lock     LockConfig `yaml:"lock"`
}

// InfrastructureConfig holds the logical wiring of storage.
type InfrastructureConfig struct {
	// RepositoryType is "sql" (default) or "memory". The memory repository loses all
	// state on exit and is only meant for demos and tests.
	RepositoryType string `yaml:"repository_type"`
	// RepositoryDBRef names the adapter.database connection holding migration state.
	RepositoryDBRef string `yaml:"repository_db_ref"`
	// AutoMigrateSchema applies the embedded schema on startup.
	AutoMigrateSchema bool `yaml:"auto_migrate_schema"`
	// SchemaMigrationsTable is the bookkeeping table used by the schema migrator.
	SchemaMigrationsTable string `yaml:"schema_migrations_table"`
}

// OTLPConfig configures the OTLP exporters.
type OTLPConfig struct {
	// Protocol is "http" or "grpc".
	Protocol string `yaml:"protocol"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// MetricsBackend is "prometheus", "otel" or "none".
	MetricsBackend string `yaml:"metrics_backend"`
	// MetricsAddr is the listen address of the Prometheus endpoint (e.g. ":9090").
	MetricsAddr    string     `yaml:"metrics_addr"`
	TracingEnabled bool       `yaml:"tracing_enabled"`
	ServiceName    string     `yaml:"service_name"`
	OTLP           OTLPConfig `yaml:"otlp"`
}

// BatchMigConfig holds everything under the "batchmig" top-level key.
type BatchMigConfig struct {
	System         SystemConfig         `yaml:"system"`
	Migration      MigrationConfig      `yaml:"migration"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	// AdapterConfigs holds adapter settings, e.g. adapter.database.<name>.
	AdapterConfigs map[string]interface{} `yaml:"adapter"`
}

// Config is the root configuration.
type Config struct {
	BatchMig       BatchMigConfig `yaml:"batchmig"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		BatchMig: BatchMigConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", SQLLevel: string(LogLevelSilent)},
			},
			Migration: MigrationConfig{
				Project:          "default",
				DefaultBatchSize: 1000,
				RunDurationMs:    60_000,
				Schedule:         "@every 10s",
				Lock: LockConfig{
					Type:       "memory",
					Name:       "batched-migrations",
					TTLSeconds: 300,
					Redis:      RedisConfig{Addr: "localhost:6379"},
				},
			},
			Infrastructure: InfrastructureConfig{
				RepositoryType:        "sql",
				RepositoryDBRef:       "metadata",
				SchemaMigrationsTable: "batchmig_schema_migrations",
			},
			Telemetry: TelemetryConfig{
				MetricsBackend: "prometheus",
				ServiceName:    "batchmig",
				OTLP:           OTLPConfig{Protocol: "http", Endpoint: "localhost:4318"},
			},
			AdapterConfigs: map[string]interface{}{},
		},
	}
}

// RunDuration returns the configured run budget as a time.Duration.
func (c *MigrationConfig) RunDuration() time.Duration {
	return time.Duration(c.RunDurationMs) * time.Millisecond
}

// TTL returns the lock TTL as a time.Duration.
func (c *LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DatabaseConfigs returns the raw adapter.database section, or nil if absent.
func (c *Config) DatabaseConfigs() map[string]interface{} {
	raw, ok := c.BatchMig.AdapterConfigs["database"]
	if !ok {
		return nil
	}
	m, _ := raw.(map[string]interface{})
	return m
}
