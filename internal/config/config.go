package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Raiccio/demographics-backend/internal/retry"
)

// Config represents the application configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Retry      RetryConfig      `yaml:"retry"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Data       DataConfig       `yaml:"data"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// SourceConfig describes the upstream ArcGIS FeatureServer layer.
type SourceConfig struct {
	// URL is the feature layer query endpoint, e.g.
	// https://services.arcgis.com/.../USA_Census_Counties/FeatureServer/0/query
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PageSize       int    `yaml:"page_size"`
	MaxRecords     int    `yaml:"max_records"`
}

// RetryConfig describes backoff behavior for transient fetch failures.
type RetryConfig struct {
	Mode           string `yaml:"mode"` // fixed|linear|exponential
	InitialSeconds int    `yaml:"initial_seconds"`
	MaxSeconds     int    `yaml:"max_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Policy converts the raw config into an immutable retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.NewPolicy(
		retry.BackoffMode(r.Mode),
		time.Duration(r.InitialSeconds)*time.Second,
		time.Duration(r.MaxSeconds)*time.Second,
		r.MaxRetries,
	)
}

// SchedulerConfig controls the recurring fetch/process jobs.
type SchedulerConfig struct {
	Enabled                *bool `yaml:"enabled"`
	FetchIntervalSeconds   int   `yaml:"fetch_interval_seconds"`
	ProcessIntervalSeconds int   `yaml:"process_interval_seconds"`
}

// IsEnabled reports whether scheduled runs are active. Defaults to true when
// the flag is omitted from the file.
func (s SchedulerConfig) IsEnabled() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// FetchInterval returns the fetch job period.
func (s SchedulerConfig) FetchInterval() time.Duration {
	return time.Duration(s.FetchIntervalSeconds) * time.Second
}

// ProcessInterval returns the process job period.
func (s SchedulerConfig) ProcessInterval() time.Duration {
	return time.Duration(s.ProcessIntervalSeconds) * time.Second
}

// DataConfig describes the snapshot directory layout.
type DataConfig struct {
	Dir        string `yaml:"dir"`
	ArchiveDir string `yaml:"archive_dir"` // subdirectory of Dir
	ErrorDir   string `yaml:"error_dir"`   // subdirectory of Dir
}

// StorageConfig describes the relational store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds listener ports.
type HTTPConfig struct {
	APIPort   int `yaml:"api_port"`
	AdminPort int `yaml:"admin_port"`
}

// MonitoringConfig controls the metrics endpoint on the admin listener.
type MonitoringConfig struct {
	MetricsEnabled *bool  `yaml:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path"`
}

// IsMetricsEnabled reports whether the Prometheus endpoint is served.
func (m MonitoringConfig) IsMetricsEnabled() bool {
	if m.MetricsEnabled == nil {
		return true
	}
	return *m.MetricsEnabled
}

const defaultSourceURL = "https://services.arcgis.com/P3ePLMYs2RVChkJx/ArcGIS/rest/services/USA_Census_Counties/FeatureServer/0/query"

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env if present. Existing process env takes precedence.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a configuration with all defaults applied, used by the
// init command and by tests.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Source.URL == "" {
		c.Source.URL = defaultSourceURL
	}
	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = 30
	}
	if c.Source.PageSize <= 0 {
		c.Source.PageSize = 1000
	}
	if c.Source.MaxRecords <= 0 {
		c.Source.MaxRecords = 5000
	}
	if c.Retry.Mode == "" {
		c.Retry.Mode = string(retry.BackoffLinear)
	}
	if c.Retry.InitialSeconds <= 0 {
		c.Retry.InitialSeconds = 1
	}
	if c.Retry.MaxSeconds <= 0 {
		c.Retry.MaxSeconds = 30
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 2
	}
	if c.Scheduler.FetchIntervalSeconds <= 0 {
		c.Scheduler.FetchIntervalSeconds = 1800
	}
	if c.Scheduler.ProcessIntervalSeconds <= 0 {
		c.Scheduler.ProcessIntervalSeconds = 3600
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "./data"
	}
	if c.Data.ArchiveDir == "" {
		c.Data.ArchiveDir = "processed"
	}
	if c.Data.ErrorDir == "" {
		c.Data.ErrorDir = "error"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/demographics.db"
	}
	if c.HTTP.APIPort == 0 {
		c.HTTP.APIPort = 8080
	}
	if c.HTTP.AdminPort == 0 {
		c.HTTP.AdminPort = 8081
	}
	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
}

// Validate checks configuration invariants beyond what defaults repair.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Source.URL)
	if err != nil {
		return fmt.Errorf("invalid source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported source url scheme: %s", u.Scheme)
	}
	if c.HTTP.APIPort == c.HTTP.AdminPort {
		return fmt.Errorf("api and admin ports must differ (both %d)", c.HTTP.APIPort)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries cannot be negative")
	}
	return nil
}

// Save writes the configuration as YAML to the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
