package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
batchmig:
  system:
    logging:
      level: DEBUG
  migration:
    project: billing
    default_batch_size: 250
    run_iterations: 5
    lock:
      type: redis
      redis:
        addr: redis:6379
  infrastructure:
    auto_migrate_schema: true
  adapter:
    database:
      metadata:
        type: postgres
        host: ${TEST_DB_HOST:-localhost}
        port: 5432
`

func TestLoadConfig_DefaultsAndYAML(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	m := cfg.BatchMig.Migration
	assert.Equal(t, "billing", m.Project)
	assert.Equal(t, int64(250), m.DefaultBatchSize)
	assert.Equal(t, 5, m.RunIterations)
	assert.Equal(t, 60_000, m.RunDurationMs, "default kept")
	assert.Equal(t, "@every 10s", m.Schedule)
	assert.Equal(t, "redis", m.Lock.Type)
	assert.Equal(t, "redis:6379", m.Lock.Redis.Addr)
	assert.Equal(t, "batched-migrations", m.Lock.Name)
	assert.Equal(t, 300, m.Lock.TTLSeconds)

	assert.Equal(t, "DEBUG", cfg.BatchMig.System.Logging.Level)
	assert.True(t, cfg.BatchMig.Infrastructure.AutoMigrateSchema)
	assert.Equal(t, "sql", cfg.BatchMig.Infrastructure.RepositoryType)
	assert.Equal(t, "prometheus", cfg.BatchMig.Telemetry.MetricsBackend)

	metadata, ok := cfg.DatabaseConfigs()["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "postgres", metadata["type"])
	assert.Equal(t, "localhost", metadata["host"])
	assert.Equal(t, EmbeddedConfig(sampleYAML), cfg.EmbeddedConfig)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "db.internal")
	t.Setenv("BATCHMIG_MIGRATION_PROJECT", "orders")
	t.Setenv("BATCHMIG_MIGRATION_LOCK_TTL_SECONDS", "30")
	t.Setenv("BATCHMIG_TELEMETRY_TRACING_ENABLED", "true")
	t.Setenv("BATCHMIG_ADAPTER_DATABASE_METADATA_PASSWORD", "secret")
	t.Setenv("BATCHMIG_ADAPTER_DATABASE_METADATA_POOL_MAX_OPEN_CONNS", "7")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.BatchMig.Migration.Project)
	assert.Equal(t, 30, cfg.BatchMig.Migration.Lock.TTLSeconds)
	assert.True(t, cfg.BatchMig.Telemetry.TracingEnabled)

	metadata := cfg.DatabaseConfigs()["metadata"].(map[string]interface{})
	assert.Equal(t, "db.internal", metadata["host"])
	assert.Equal(t, "secret", metadata["password"])
	assert.Equal(t, 7, metadata["pool"].(map[string]interface{})["max_open_conns"])
}

func TestLoadConfig_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BATCHMIG_MIGRATION_RUN_DURATION_MS=1500\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BATCHMIG_MIGRATION_RUN_DURATION_MS") })

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.BatchMig.Migration.RunDurationMs)
	assert.Equal(t, "1.5s", cfg.BatchMig.Migration.RunDuration().String())
}

func TestLoadConfig_InvalidEnvValue(t *testing.T) {
	t.Setenv("BATCHMIG_MIGRATION_RUN_ITERATIONS", "many")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCHMIG_MIGRATION_RUN_ITERATIONS")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), EmbeddedConfig("batchmig: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty project", mutate: func(c *Config) { c.BatchMig.Migration.Project = "" }, wantErr: "project must not be empty"},
		{name: "zero batch size", mutate: func(c *Config) { c.BatchMig.Migration.DefaultBatchSize = 0 }, wantErr: "default_batch_size must be positive"},
		{name: "negative budget", mutate: func(c *Config) { c.BatchMig.Migration.RunIterations = -1 }, wantErr: "must not be negative"},
		{name: "unknown lock", mutate: func(c *Config) { c.BatchMig.Migration.Lock.Type = "zookeeper" }, wantErr: "unknown migration.lock.type 'zookeeper'"},
		{name: "unknown repository", mutate: func(c *Config) { c.BatchMig.Infrastructure.RepositoryType = "mongo" }, wantErr: "unknown infrastructure.repository_type"},
		{name: "unknown metrics", mutate: func(c *Config) { c.BatchMig.Telemetry.MetricsBackend = "statsd" }, wantErr: "unknown telemetry.metrics_backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOsEnvironmentExpander(t *testing.T) {
	vars := map[string]string{"SET": "value", "EMPTY": ""}
	e := &OsEnvironmentExpander{lookup: func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}}

	out, err := e.Expand([]byte("a=${SET} b=$SET c=${UNSET} d=${UNSET:-fallback} e=${EMPTY:-fallback} f=${EMPTY}"))
	require.NoError(t, err)
	assert.Equal(t, "a=value b=value c= d=fallback e=fallback f=", string(out))
}
