// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Workflow      WorkflowConfig     `mapstructure:"workflow"`
	Gateway       GatewayConfig      `mapstructure:"gateway"`
	Contacts      ContactsConfig     `mapstructure:"contacts"`
	Dispatch      DispatchConfig     `mapstructure:"dispatch"`
	Consent       ConsentConfig      `mapstructure:"consent"`
	ABTest        ABTestConfig       `mapstructure:"ab_test"`
	FollowUp      FollowUpConfig     `mapstructure:"follow_up"`
	Monitor       MonitorConfig      `mapstructure:"monitor"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Campaign      CampaignConfig     `mapstructure:"campaign"`
	Templates     map[string]string  `mapstructure:"templates"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// CampaignConfig describes the campaign launched at startup when
// auto_launch is set. Without it the engine starts idle and waits for
// an operator-driven launch.
type CampaignConfig struct {
	AutoLaunch bool     `mapstructure:"auto_launch"`
	Name       string   `mapstructure:"name"`
	Segments   []string `mapstructure:"segments"`
	// SegmentTemplates maps segment name to the fallback template used
	// when no A/B test covers the segment.
	SegmentTemplates  map[string]string `mapstructure:"segment_templates"`
	FollowUpTemplates map[string]string `mapstructure:"followup_templates"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	AuditIndex string   `mapstructure:"audit_index"`
	URL        string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkflowConfig holds the Zeebe broker settings used to publish
// campaign lifecycle messages.
type WorkflowConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// --- Collaborator Configuration ---

// GatewayConfig selects and configures the outbound message gateway.
type GatewayConfig struct {
	// Mode is one of "http", "sns", "null".
	Mode string `mapstructure:"mode"`

	HTTP struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Session string `mapstructure:"session"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"http"`

	SNS struct {
		Region   string `mapstructure:"region"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sns"`
}

type ContactsConfig struct {
	// Source is one of "csv", "static".
	Source  string `mapstructure:"source"`
	CSVPath string `mapstructure:"csv_path"`
}

// --- Engine Configuration Sections ---

type DispatchConfig struct {
	BatchSize            int `mapstructure:"batch_size"`
	StaggerMs            int `mapstructure:"stagger_ms"`             // delay between sends inside a batch
	InterBatchPauseMs    int `mapstructure:"inter_batch_pause_ms"`   // pause between batches
	MaxConcurrentWorkers int `mapstructure:"max_concurrent_workers"` // concurrent senders
	MaxRetries           int `mapstructure:"max_retries"`
	RetryBackoffMs       int `mapstructure:"retry_backoff_ms"`

	RateLimits RateLimitConfig `mapstructure:"rate_limits"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

type ConsentConfig struct {
	// MaxPerDay and MaxPerWeek cap sends per contact across campaigns.
	MaxPerDay  int `mapstructure:"max_per_day"`
	MaxPerWeek int `mapstructure:"max_per_week"`
	// RetentionDays bounds how long after registration a contact may
	// still be messaged (LGPD data-retention window). 0 disables.
	RetentionDays int `mapstructure:"retention_days"`
	// RequestTemplateID is the template used to request consent from
	// contacts whose state is UNKNOWN.
	RequestTemplateID string `mapstructure:"request_template_id"`
}

type ABTestConfig struct {
	SignificanceThreshold float64 `mapstructure:"significance_threshold"`
	MinSampleSize         int     `mapstructure:"min_sample_size"`
	MinDurationHours      int     `mapstructure:"min_duration_hours"`
}

type FollowUpConfig struct {
	SweepIntervalSec int `mapstructure:"sweep_interval_sec"`
	SweepJitterSec   int `mapstructure:"sweep_jitter_sec"`
	// InactivityDays stops sequences for contacts silent this long.
	InactivityDays        int `mapstructure:"inactivity_days"`
	ResponseCheckDelayHrs int `mapstructure:"response_check_delay_hours"`
}

type MonitorConfig struct {
	CheckIntervalSec    int     `mapstructure:"check_interval_sec"`
	SnapshotIntervalSec int     `mapstructure:"snapshot_interval_sec"`
	ErrorRateThreshold  float64 `mapstructure:"error_rate_threshold"`
	DeliveryRateFloor   float64 `mapstructure:"delivery_rate_floor"`
	ResponseRateFloor   float64 `mapstructure:"response_rate_floor"`
	SnapshotRetentionD  int     `mapstructure:"snapshot_retention_days"`
	AlertRetentionD     int     `mapstructure:"alert_retention_days"`
}

// NotificationConfig holds settings for operator alert delivery.
type NotificationConfig struct {
	Email struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		Operators []string `mapstructure:"operators"`
	} `mapstructure:"email"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
