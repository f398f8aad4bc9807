// Package config holds the YAML configuration for the huevec CLI.
// Library users configure the pipeline through functional options
// instead; this package only backs the command-line workflow.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the huevec CLI.
type Config struct {
	Revision  string          `yaml:"revision"`
	TablePath string          `yaml:"table_path"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Store     StoreConfig     `yaml:"store"`
	Blob      BlobConfig      `yaml:"blob"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PipelineConfig holds feature extraction configuration.
type PipelineConfig struct {
	Bins          int    `yaml:"bins"`
	Levels        int    `yaml:"levels"`
	Moments       bool   `yaml:"moments"`
	AllLevels     bool   `yaml:"all_levels"`
	TransformPath string `yaml:"transform_path"`
	Workers       int    `yaml:"workers"` // 0 means GOMAXPROCS
	Stemming      bool   `yaml:"stemming"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "bolt", "memory", "postgres"
	Path    string `yaml:"path"`    // bolt database file; empty means <dir>/.huevec/store.db
	DSNEnv  string `yaml:"dsn_env"` // environment variable holding the Postgres DSN
}

// BlobConfig selects and configures the blob store used by push/pull.
type BlobConfig struct {
	Backend       string `yaml:"backend"` // "local", "s3", "minio"
	Path          string `yaml:"path"`    // local directory
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	RegistryTable string `yaml:"registry_table"` // optional DynamoDB revision registry
	Endpoint      string `yaml:"endpoint"`       // minio host:port
	AccessKeyEnv  string `yaml:"access_key_env"`
	SecretKeyEnv  string `yaml:"secret_key_env"`
	Secure        bool   `yaml:"secure"` // minio TLS
}

// DiscoveryConfig holds the image discovery globs for analyze.
type DiscoveryConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text", "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Revision: "unnamed-revision",
		Pipeline: PipelineConfig{
			Bins:    8,
			Levels:  1,
			Moments: true,
		},
		Store: StoreConfig{
			Backend: "bolt",
			DSNEnv:  "HUEVEC_POSTGRES_DSN",
		},
		Blob: BlobConfig{
			Backend:      "local",
			AccessKeyEnv: "HUEVEC_BLOB_ACCESS_KEY",
			SecretKeyEnv: "HUEVEC_BLOB_SECRET_KEY",
		},
		Discovery: DiscoveryConfig{
			Includes: []string{"**/*.jpg", "**/*.jpeg", "**/*.png", "**/*.gif"},
			Excludes: []string{"**/.git/**", "**/.huevec/**"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for
// huevec.yaml, then .huevec/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "huevec.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".huevec", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StoreDBPath returns the default bolt store path under dir.
func StoreDBPath(dir string) string {
	return filepath.Join(dir, ".huevec", "store.db")
}

// TableArtifactPath returns the default color table path under dir.
func TableArtifactPath(dir string) string {
	return filepath.Join(dir, ".huevec", "table.hvt")
}

// EnsureStateDir ensures the .huevec directory exists.
func EnsureStateDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".huevec"), 0755)
}
