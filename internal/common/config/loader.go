// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like GATEWAY_HTTP_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Merge environment-specific overrides if present
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Gateway.HTTP.APIKey == "" {
		if val := os.Getenv("GATEWAY_API_KEY"); val != "" {
			cfg.Gateway.HTTP.APIKey = val
		}
	}
	if cfg.Gateway.HTTP.BaseURL == "" {
		if val := os.Getenv("GATEWAY_BASE_URL"); val != "" {
			cfg.Gateway.HTTP.BaseURL = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.AuditIndex == "" {
		cfg.Database.Elasticsearch.AuditIndex = "campaign-audit"
	}

	// Workflow defaults
	if cfg.Workflow.RequestTimeout == 0 {
		cfg.Workflow.RequestTimeout = 30000
	}

	// Gateway defaults
	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = "http"
	}
	if cfg.Gateway.HTTP.Timeout == 0 {
		cfg.Gateway.HTTP.Timeout = 15000
	}
	if cfg.Gateway.HTTP.Session == "" {
		cfg.Gateway.HTTP.Session = "default"
	}

	// Contacts defaults
	if cfg.Contacts.Source == "" {
		cfg.Contacts.Source = "csv"
	}

	// Dispatch defaults
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.StaggerMs == 0 {
		cfg.Dispatch.StaggerMs = 2000
	}
	if cfg.Dispatch.InterBatchPauseMs == 0 {
		cfg.Dispatch.InterBatchPauseMs = 30000
	}
	if cfg.Dispatch.MaxConcurrentWorkers == 0 {
		cfg.Dispatch.MaxConcurrentWorkers = 5
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 3
	}
	if cfg.Dispatch.RetryBackoffMs == 0 {
		cfg.Dispatch.RetryBackoffMs = 5000
	}
	if cfg.Dispatch.RateLimits.PerMinute == 0 {
		cfg.Dispatch.RateLimits.PerMinute = 100
	}
	if cfg.Dispatch.RateLimits.PerHour == 0 {
		cfg.Dispatch.RateLimits.PerHour = 1000
	}
	if cfg.Dispatch.RateLimits.PerDay == 0 {
		cfg.Dispatch.RateLimits.PerDay = 5000
	}

	// Consent defaults
	if cfg.Consent.MaxPerDay == 0 {
		cfg.Consent.MaxPerDay = 1
	}
	if cfg.Consent.MaxPerWeek == 0 {
		cfg.Consent.MaxPerWeek = 3
	}
	if cfg.Consent.RetentionDays == 0 {
		cfg.Consent.RetentionDays = 730
	}
	if cfg.Consent.RequestTemplateID == "" {
		cfg.Consent.RequestTemplateID = "consent_request"
	}

	// A/B test defaults
	if cfg.ABTest.SignificanceThreshold == 0 {
		cfg.ABTest.SignificanceThreshold = 0.05
	}
	if cfg.ABTest.MinSampleSize == 0 {
		cfg.ABTest.MinSampleSize = 30
	}
	if cfg.ABTest.MinDurationHours == 0 {
		cfg.ABTest.MinDurationHours = 48
	}

	// Follow-up defaults
	if cfg.FollowUp.SweepIntervalSec == 0 {
		cfg.FollowUp.SweepIntervalSec = 60
	}
	if cfg.FollowUp.SweepJitterSec == 0 {
		cfg.FollowUp.SweepJitterSec = 10
	}
	if cfg.FollowUp.InactivityDays == 0 {
		cfg.FollowUp.InactivityDays = 90
	}
	if cfg.FollowUp.ResponseCheckDelayHrs == 0 {
		cfg.FollowUp.ResponseCheckDelayHrs = 24
	}

	// Monitor defaults
	if cfg.Monitor.CheckIntervalSec == 0 {
		cfg.Monitor.CheckIntervalSec = 30
	}
	if cfg.Monitor.SnapshotIntervalSec == 0 {
		cfg.Monitor.SnapshotIntervalSec = 300
	}
	if cfg.Monitor.ErrorRateThreshold == 0 {
		cfg.Monitor.ErrorRateThreshold = 0.05
	}
	if cfg.Monitor.DeliveryRateFloor == 0 {
		cfg.Monitor.DeliveryRateFloor = 0.90
	}
	if cfg.Monitor.ResponseRateFloor == 0 {
		cfg.Monitor.ResponseRateFloor = 0.02
	}
	if cfg.Monitor.SnapshotRetentionD == 0 {
		cfg.Monitor.SnapshotRetentionD = 7
	}
	if cfg.Monitor.AlertRetentionD == 0 {
		cfg.Monitor.AlertRetentionD = 30
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.Gateway.Mode {
	case "http":
		if cfg.Gateway.HTTP.BaseURL == "" {
			return fmt.Errorf("gateway.http.base_url is required when gateway.mode is http")
		}
	case "sns":
		if cfg.Gateway.SNS.Region == "" {
			return fmt.Errorf("gateway.sns.region is required when gateway.mode is sns")
		}
	case "null":
	default:
		return fmt.Errorf("gateway.mode must be one of http, sns, null")
	}

	if cfg.Contacts.Source == "csv" && cfg.Contacts.CSVPath == "" {
		return fmt.Errorf("contacts.csv_path is required when contacts.source is csv")
	}

	if cfg.Workflow.Enabled && cfg.Workflow.BrokerAddress == "" {
		return fmt.Errorf("workflow.broker_address is required when workflow.enabled is true")
	}

	if cfg.Monitor.ErrorRateThreshold < 0 || cfg.Monitor.ErrorRateThreshold > 1 {
		return fmt.Errorf("monitor.error_rate_threshold must be within [0, 1]")
	}
	if cfg.ABTest.SignificanceThreshold <= 0 || cfg.ABTest.SignificanceThreshold >= 1 {
		return fmt.Errorf("ab_test.significance_threshold must be within (0, 1)")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetSecDuration converts seconds from config to time.Duration
func GetSecDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
