package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. S3SYNC_API_TOKEN
const EnvPrefix = "S3SYNC"

// Broker modes
const (
	BrokerAPI   = "api"
	BrokerS3    = "s3"
	BrokerMinIO = "minio"
)

// Transfer strategies
const (
	StrategySequential = "sequential"
	StrategyParallel   = "parallel"
)

// Config represents the application configuration
type Config struct {
	API          APIConfig    `yaml:"api"`
	Broker       BrokerConfig `yaml:"broker"`
	S3           S3Config     `yaml:"s3"`
	Upload       Upload       `yaml:"upload"`
	Watch        Watch        `yaml:"watch"`
	Checkpoint   string       `yaml:"checkpoint"`
	MetricsAddr  string       `yaml:"metrics_addr"`
	LogLevel     string       `yaml:"log_level"`
	LogFormat    string       `yaml:"log_format"`
	ShowProgress bool         `yaml:"show_progress"`
}

// APIConfig locates the dashboard REST API
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// BrokerConfig selects how upload authorizations are obtained
type BrokerConfig struct {
	Mode      string        `yaml:"mode"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// S3Config represents S3-compatible storage configuration for direct signing and verification
type S3Config struct {
	Region    string `yaml:"region"`
	Profile   string `yaml:"profile"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// Upload represents upload-session configuration
type Upload struct {
	ProjectID      int64    `yaml:"project_id"`
	CycleID        int64    `yaml:"cycle_id"`
	Directory      string   `yaml:"directory"`
	Prefix         string   `yaml:"prefix"`
	Profile        string   `yaml:"profile"`
	MaxWorkers     int      `yaml:"max_workers"`
	Retries        int      `yaml:"retries"`
	RetryBackoffMs int      `yaml:"retry_backoff_ms"`
	UseFind        bool     `yaml:"use_find"`
	Strategy       string   `yaml:"strategy"`
	Extensions     []string `yaml:"extensions"`
}

// Watch configures session observation
type Watch struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used before any file, environment or flag is applied
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Broker: BrokerConfig{
			Mode:      BrokerAPI,
			ExpiresIn: time.Hour,
		},
		S3: S3Config{
			Region: "us-east-1",
			Secure: true,
		},
		Upload: Upload{
			Profile:        "default",
			MaxWorkers:     1,
			Retries:        3,
			RetryBackoffMs: 500,
			Strategy:       StrategySequential,
		},
		Watch: Watch{
			Interval: 2 * time.Second,
		},
		Checkpoint:   "./uploads.db",
		LogLevel:     "info",
		LogFormat:    "console",
		ShowProgress: true,
	}
}

// Load loads configuration from file, environment and command line flags, in that order
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	strs := map[string]*string{
		"api.base_url":     &cfg.API.BaseURL,
		"api.token":        &cfg.API.Token,
		"broker.mode":      &cfg.Broker.Mode,
		"s3.region":        &cfg.S3.Region,
		"s3.profile":       &cfg.S3.Profile,
		"s3.endpoint":      &cfg.S3.Endpoint,
		"s3.access_key":    &cfg.S3.AccessKey,
		"s3.secret_key":    &cfg.S3.SecretKey,
		"upload.directory": &cfg.Upload.Directory,
		"upload.prefix":    &cfg.Upload.Prefix,
		"upload.profile":   &cfg.Upload.Profile,
		"upload.strategy":  &cfg.Upload.Strategy,
		"checkpoint":       &cfg.Checkpoint,
		"metrics_addr":     &cfg.MetricsAddr,
		"log_level":        &cfg.LogLevel,
		"log_format":       &cfg.LogFormat,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"upload.max_workers":      &cfg.Upload.MaxWorkers,
		"upload.retries":          &cfg.Upload.Retries,
		"upload.retry_backoff_ms": &cfg.Upload.RetryBackoffMs,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	ids := map[string]*int64{
		"upload.project_id": &cfg.Upload.ProjectID,
		"upload.cycle_id":   &cfg.Upload.CycleID,
	}
	for key, dst := range ids {
		if v.IsSet(key) {
			*dst = v.GetInt64(key)
		}
	}

	bools := map[string]*bool{
		"s3.secure":       &cfg.S3.Secure,
		"upload.use_find": &cfg.Upload.UseFind,
		"show_progress":   &cfg.ShowProgress,
	}
	for key, dst := range bools {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	durations := map[string]*time.Duration{
		"api.timeout":       &cfg.API.Timeout,
		"broker.expires_in": &cfg.Broker.ExpiresIn,
		"watch.interval":    &cfg.Watch.Interval,
	}
	for key, dst := range durations {
		if v.IsSet(key) {
			d, err := time.ParseDuration(v.GetString(key))
			if err != nil {
				return fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err)
			}
			*dst = d
		}
	}

	if v.IsSet("upload.extensions") {
		cfg.Upload.Extensions = splitList(v.GetString("upload.extensions"))
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	changed := func(name string) bool {
		return flags.Lookup(name) != nil && flags.Changed(name)
	}

	if changed("api-url") {
		cfg.API.BaseURL, _ = flags.GetString("api-url")
	}
	if changed("token") {
		cfg.API.Token, _ = flags.GetString("token")
	}
	if changed("api-timeout") {
		cfg.API.Timeout, _ = flags.GetDuration("api-timeout")
	}

	if changed("broker") {
		cfg.Broker.Mode, _ = flags.GetString("broker")
	}
	if changed("expires-in") {
		cfg.Broker.ExpiresIn, _ = flags.GetDuration("expires-in")
	}

	if changed("s3-region") {
		cfg.S3.Region, _ = flags.GetString("s3-region")
	}
	if changed("s3-profile") {
		cfg.S3.Profile, _ = flags.GetString("s3-profile")
	}
	if changed("s3-endpoint") {
		cfg.S3.Endpoint, _ = flags.GetString("s3-endpoint")
	}
	if changed("s3-access-key") {
		cfg.S3.AccessKey, _ = flags.GetString("s3-access-key")
	}
	if changed("s3-secret-key") {
		cfg.S3.SecretKey, _ = flags.GetString("s3-secret-key")
	}
	if changed("s3-secure") {
		cfg.S3.Secure, _ = flags.GetBool("s3-secure")
	}

	if changed("project") {
		cfg.Upload.ProjectID, _ = flags.GetInt64("project")
	}
	if changed("cycle") {
		cfg.Upload.CycleID, _ = flags.GetInt64("cycle")
	}
	if changed("dir") {
		cfg.Upload.Directory, _ = flags.GetString("dir")
	}
	if changed("prefix") {
		cfg.Upload.Prefix, _ = flags.GetString("prefix")
	}
	if changed("profile") {
		cfg.Upload.Profile, _ = flags.GetString("profile")
	}
	if changed("workers") {
		cfg.Upload.MaxWorkers, _ = flags.GetInt("workers")
	}
	if changed("retries") {
		cfg.Upload.Retries, _ = flags.GetInt("retries")
	}
	if changed("retry-backoff-ms") {
		cfg.Upload.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if changed("use-find") {
		cfg.Upload.UseFind, _ = flags.GetBool("use-find")
	}
	if changed("strategy") {
		cfg.Upload.Strategy, _ = flags.GetString("strategy")
	}
	if changed("ext") {
		cfg.Upload.Extensions, _ = flags.GetStringSlice("ext")
	}

	if changed("interval") {
		cfg.Watch.Interval, _ = flags.GetDuration("interval")
	}
	if changed("checkpoint") {
		cfg.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if changed("show-progress") {
		cfg.ShowProgress, _ = flags.GetBool("show-progress")
	}

	return nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api base url is required")
	}
	if c.API.Timeout < 0 {
		return errors.New("api timeout must not be negative")
	}

	switch c.Broker.Mode {
	case BrokerAPI, BrokerS3:
	case BrokerMinIO:
		if c.S3.Endpoint == "" {
			return errors.New("s3 endpoint is required for the minio broker")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			return errors.New("s3 access and secret keys are required for the minio broker")
		}
	default:
		return fmt.Errorf("unknown broker mode %q", c.Broker.Mode)
	}
	if c.Broker.ExpiresIn <= 0 {
		return errors.New("broker expiry must be positive")
	}

	switch c.Upload.Strategy {
	case StrategySequential, StrategyParallel:
	default:
		return fmt.Errorf("unknown upload strategy %q", c.Upload.Strategy)
	}
	if c.Upload.MaxWorkers <= 0 {
		return errors.New("max workers must be positive")
	}
	if c.Upload.Retries < 0 {
		return errors.New("retries must not be negative")
	}

	if c.Watch.Interval <= 0 {
		return errors.New("watch interval must be positive")
	}

	return nil
}

// ValidateUpload checks the settings an upload run needs on top of validate
func (c *Config) ValidateUpload() error {
	if c.Upload.ProjectID <= 0 {
		return errors.New("project id is required")
	}
	if c.Upload.CycleID <= 0 {
		return errors.New("cycle id is required")
	}
	if c.Upload.Directory == "" {
		return errors.New("upload directory is required")
	}
	info, err := os.Stat(c.Upload.Directory)
	if err != nil {
		return fmt.Errorf("upload directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("upload directory %s is not a directory", c.Upload.Directory)
	}
	return nil
}
