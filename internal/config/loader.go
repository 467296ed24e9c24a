// Package config loads the application configuration.
//
// Precedence, highest first: runtime overrides, MSARCHIVE_* environment
// variables, config file, built-in defaults. The config file is optional;
// msarchive.yaml is searched in the working directory unless
// MSARCHIVE_CONFIG points elsewhere.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix, e.g. MSARCHIVE_OUTPUT_DIR.
const EnvPrefix = "MSARCHIVE"

// Config is the resolved application configuration.
type Config struct {
	// Roots are the job corpus roots, scanned in order.
	Roots []string `mapstructure:"roots"`

	// OutputDir receives archives, the master index, and lock files.
	OutputDir string `mapstructure:"output_dir"`

	// DryRun previews candidates without writing anything; the archive
	// command's --dry-run flag also sets it.
	DryRun bool `mapstructure:"dry_run"`

	Scan        ScanConfig        `mapstructure:"scan"`
	Compression CompressionConfig `mapstructure:"compression"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Reuse       ReuseConfig       `mapstructure:"reuse"`
}

// ScanConfig controls candidate discovery.
type ScanConfig struct {
	AlignmentDir  string `mapstructure:"alignment_dir"`
	UniquePattern string `mapstructure:"unique_pattern"`
	SharedMarker  string `mapstructure:"shared_marker"`
}

// CompressionConfig controls archive packing.
type CompressionConfig struct {
	// Threads selects the parallel compressor when greater than one.
	Threads int `mapstructure:"threads"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Structured bool   `mapstructure:"structured"`
}

// UploadConfig configures the optional object-store mirror.
type UploadConfig struct {
	Bucket      string  `mapstructure:"bucket"`
	Region      string  `mapstructure:"region"`
	Endpoint    string  `mapstructure:"endpoint"`
	Profile     string  `mapstructure:"profile"`
	Prefix      string  `mapstructure:"prefix"`
	Concurrency int     `mapstructure:"concurrency"`
	RateLimit   float64 `mapstructure:"rate_limit"`
}

// ReuseConfig configures the MSA reuse pass.
type ReuseConfig struct {
	JobsDir string `mapstructure:"jobs_dir"`
	MainCSV string `mapstructure:"main_csv"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load resolves the configuration and stores it for GetConfig. Optional
// overrides maps are merged last and win over every other source.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := configFilePath(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// Overrides go through Set so they outrank environment variables.
	for _, override := range overrides {
		applyOverrides(v, "", override)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil when
// Load has not run.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// applyOverrides flattens a nested override map into dotted keys.
func applyOverrides(v *viper.Viper, prefix string, override map[string]any) {
	for key, value := range override {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, full, nested)
			continue
		}
		v.Set(full, value)
	}
}

// setDefaults registers every config key. Viper only surfaces AutomaticEnv
// values for keys it already knows, so a key without a default here would be
// invisible to MSARCHIVE_* environment overrides.
func setDefaults(v *viper.Viper) {
	v.SetDefault("roots", []string{})
	v.SetDefault("output_dir", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("scan.alignment_dir", "output_msa")
	v.SetDefault("scan.unique_pattern", "*_data.json")
	v.SetDefault("scan.shared_marker", "alphafold_input_with_msa.json")
	v.SetDefault("compression.threads", 4)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.structured", false)
	v.SetDefault("upload.bucket", "")
	v.SetDefault("upload.region", "")
	v.SetDefault("upload.endpoint", "")
	v.SetDefault("upload.profile", "")
	v.SetDefault("upload.prefix", "")
	v.SetDefault("upload.concurrency", 4)
	v.SetDefault("upload.rate_limit", 0.0)
	v.SetDefault("reuse.jobs_dir", "")
	v.SetDefault("reuse.main_csv", "folding_jobs.csv")
}

// configFilePath returns the config file to load, or "" when none exists.
func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("msarchive.yaml"); err == nil {
		return "msarchive.yaml"
	}
	return ""
}
