package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchmig/pkg/batch/support/util/logger"
)

const moduleName = "config"

// envPrefix prefixes every environment override, e.g. BATCHMIG_MIGRATION_PROJECT.
const envPrefix = "BATCHMIG_"

// LoadConfig builds a Config from defaults, the YAML bytes and the environment,
// in that order of precedence (later wins). A .env file is loaded first if present,
// and ${VAR:-default} placeholders in the YAML are expanded after it.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not loaded: %v", err)
	}

	cfg := NewConfig()

	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in config", err, false, false)
	}
	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal config", err, false, false)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(&cfg.BatchMig).Elem(), envPrefix); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	loadDatabaseConfigsFromEnv(cfg, envPrefix+"ADAPTER_DATABASE_")

	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
func Validate(cfg *Config) error {
	m := cfg.BatchMig.Migration
	if m.Project == "" {
		return exception.NewBatchError(moduleName, "migration.project must not be empty", nil, false, false)
	}
	if m.DefaultBatchSize <= 0 {
		return exception.NewBatchErrorf(moduleName, "migration.default_batch_size must be positive, got %d", m.DefaultBatchSize)
	}
	if m.RunDurationMs < 0 || m.RunIterations < 0 {
		return exception.NewBatchError(moduleName, "migration run budgets must not be negative", nil, false, false)
	}
	switch m.Lock.Type {
	case "memory", "redis", "postgres":
	default:
		return exception.NewBatchErrorf(moduleName, "unknown migration.lock.type '%s'", m.Lock.Type)
	}
	switch cfg.BatchMig.Infrastructure.RepositoryType {
	case "sql", "memory":
	default:
		return exception.NewBatchErrorf(moduleName, "unknown infrastructure.repository_type '%s'", cfg.BatchMig.Infrastructure.RepositoryType)
	}
	switch cfg.BatchMig.Telemetry.MetricsBackend {
	case "prometheus", "otel", "none":
	default:
		return exception.NewBatchErrorf(moduleName, "unknown telemetry.metrics_backend '%s'", cfg.BatchMig.Telemetry.MetricsBackend)
	}
	return nil
}

// mergeConfig copies every non-zero value of source into dest.
func mergeConfig(dest, source *Config) {
	d, s := &dest.BatchMig, &source.BatchMig

	if s.System.Timezone != "" {
		d.System.Timezone = s.System.Timezone
	}
	if s.System.Logging.Level != "" {
		d.System.Logging.Level = s.System.Logging.Level
	}
	if s.System.Logging.SQLLevel != "" {
		d.System.Logging.SQLLevel = s.System.Logging.SQLLevel
	}

	mergeMigrationConfig(&d.Migration, &s.Migration)

	if s.Infrastructure.RepositoryType != "" {
		d.Infrastructure.RepositoryType = s.Infrastructure.RepositoryType
	}
	if s.Infrastructure.RepositoryDBRef != "" {
		d.Infrastructure.RepositoryDBRef = s.Infrastructure.RepositoryDBRef
	}
	if s.Infrastructure.AutoMigrateSchema {
		d.Infrastructure.AutoMigrateSchema = true
	}
	if s.Infrastructure.SchemaMigrationsTable != "" {
		d.Infrastructure.SchemaMigrationsTable = s.Infrastructure.SchemaMigrationsTable
	}

	if s.Telemetry.MetricsBackend != "" {
		d.Telemetry.MetricsBackend = s.Telemetry.MetricsBackend
	}
	if s.Telemetry.MetricsAddr != "" {
		d.Telemetry.MetricsAddr = s.Telemetry.MetricsAddr
	}
	if s.Telemetry.TracingEnabled {
		d.Telemetry.TracingEnabled = true
	}
	if s.Telemetry.ServiceName != "" {
		d.Telemetry.ServiceName = s.Telemetry.ServiceName
	}
	if s.Telemetry.OTLP.Protocol != "" {
		d.Telemetry.OTLP.Protocol = s.Telemetry.OTLP.Protocol
	}
	if s.Telemetry.OTLP.Endpoint != "" {
		d.Telemetry.OTLP.Endpoint = s.Telemetry.OTLP.Endpoint
	}
	if s.Telemetry.OTLP.Insecure {
		d.Telemetry.OTLP.Insecure = true
	}

	if s.AdapterConfigs != nil {
		if d.AdapterConfigs == nil {
			d.AdapterConfigs = make(map[string]interface{})
		}
		for k, v := range s.AdapterConfigs {
			d.AdapterConfigs[k] = v
		}
	}
}

func mergeMigrationConfig(dest, source *MigrationConfig) {
	if source.Project != "" {
		dest.Project = source.Project
	}
	if source.DefaultBatchSize != 0 {
		dest.DefaultBatchSize = source.DefaultBatchSize
	}
	if source.RunDurationMs != 0 {
		dest.RunDurationMs = source.RunDurationMs
	}
	if source.RunIterations != 0 {
		dest.RunIterations = source.RunIterations
	}
	if source.Schedule != "" {
		dest.Schedule = source.Schedule
	}
	if source.Lock.Type != "" {
		dest.Lock.Type = source.Lock.Type
	}
	if source.Lock.Name != "" {
		dest.Lock.Name = source.Lock.Name
	}
	if source.Lock.TTLSeconds != 0 {
		dest.Lock.TTLSeconds = source.Lock.TTLSeconds
	}
	if source.Lock.Redis.Addr != "" {
		dest.Lock.Redis.Addr = source.Lock.Redis.Addr
	}
	if source.Lock.Redis.Password != "" {
		dest.Lock.Redis.Password = source.Lock.Redis.Password
	}
	if source.Lock.Redis.DB != 0 {
		dest.Lock.Redis.DB = source.Lock.Redis.DB
	}
}

// loadStructFromEnv walks val recursively and overrides fields from environment
// variables named after their yaml tags (BATCHMIG_MIGRATION_LOCK_TYPE, ...).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Map {
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadDatabaseConfigsFromEnv applies BATCHMIG_ADAPTER_DATABASE_<NAME>_<KEY>=value
// overrides onto the adapter.database map. Keys are lower-cased and a
// POOL_ prefix addresses the nested pool section.
func loadDatabaseConfigsFromEnv(cfg *Config, prefix string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(kv) != 2 {
			continue
		}
		parts := strings.SplitN(kv[0], "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		name := strings.ToLower(parts[0])
		key := strings.ToLower(parts[1])

		dbs := cfg.DatabaseConfigs()
		if dbs == nil {
			dbs = make(map[string]interface{})
			cfg.BatchMig.AdapterConfigs["database"] = dbs
		}
		entry, _ := dbs[name].(map[string]interface{})
		if entry == nil {
			entry = make(map[string]interface{})
			dbs[name] = entry
		}

		target := entry
		if strings.HasPrefix(key, "pool_") {
			pool, _ := entry["pool"].(map[string]interface{})
			if pool == nil {
				pool = make(map[string]interface{})
				entry["pool"] = pool
			}
			target = pool
			key = strings.TrimPrefix(key, "pool_")
		}
		target[key] = coerceEnvValue(kv[1])
	}
}

// coerceEnvValue turns numeric strings into ints so mapstructure can decode them
// into int fields without weak typing.
func coerceEnvValue(v string) interface{} {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}

// setField sets a scalar field from its string representation.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value '%s': %w", value, err)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value '%s': %w", value, err)
		}
		field.SetBool(b)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value '%s': %w", value, err)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
