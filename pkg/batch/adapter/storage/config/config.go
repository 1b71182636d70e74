package config

// StorageConfig holds the settings of one named storage connection (adapter.storage.<name>).
type StorageConfig struct {
	// Type selects the provider, e.g. "local".
	Type string `yaml:"type" mapstructure:"type"`
	// BucketName is the default bucket when callers pass none.
	BucketName string `yaml:"bucket_name" mapstructure:"bucket_name"`
	// BaseDir is the root directory of the local provider.
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
}
