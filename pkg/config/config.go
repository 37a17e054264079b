package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/logger/conf"
	"github.com/synthome-dev/synthome/pkg/sql"
)

type Config struct {
	HttpPort   int                 `json:"httpPort" yaml:"httpPort"`
	PublicURL  string              `json:"publicUrl" yaml:"publicUrl"`
	Log        *conf.LogConfig     `json:"log" yaml:"log"`
	Database   *sql.DatabaseConfig `json:"database" yaml:"database"`
	Queue      *QueueConfig        `json:"queue" yaml:"queue"`
	Worker     *WorkerConfig       `json:"worker" yaml:"worker"`
	Storage    *StorageConfig      `json:"storage" yaml:"storage"`
	Media      *MediaServiceConfig `json:"mediaService" yaml:"mediaService"`
	Providers  ProvidersConfig     `json:"providers" yaml:"providers"`
	Webhook    *WebhookConfig      `json:"webhook" yaml:"webhook"`
	Trace      *TraceConfig        `json:"trace" yaml:"trace"`
	Middleware MiddlewareConfig    `json:"middleware" yaml:"middleware"`
}

var config *Config

func LoadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	configFile, err := os.Open(configPath)
	if err != nil {
		return nil, errors.NewError().
			WithCode(errors.CodeInitializeError).
			WithMessage("failed to open config file").
			WithError(err)
	}
	defer configFile.Close()
	decoder := yaml.NewDecoder(configFile)
	err = decoder.Decode(&config)
	if err != nil {
		return nil, errors.NewError().
			WithCode(errors.CodeInitializeError).
			WithMessage("failed to parse config file").
			WithError(err)
	}
	return config, nil
}

// GetConfig returns the loaded configuration. LoadConfig must have run.
func GetConfig() *Config {
	return config
}

// SetConfig replaces the loaded configuration. Tests use this.
func SetConfig(c *Config) {
	config = c
}

func (c *Config) GetHttpPort() int {
	if c.HttpPort == 0 {
		return 8080
	}
	return c.HttpPort
}

func (c *Config) GetLogConfig() *conf.LogConfig {
	if c.Log == nil {
		return conf.DefaultConfig()
	}
	return c.Log
}

func (c *Config) GetDatabaseConfig() (*sql.DatabaseConfig, error) {
	if c.Database == nil {
		return nil, errors.NewError().
			WithCode(errors.CodeLackOfConfig).
			WithMessage("database config missing")
	}
	return c.Database, nil
}

// QueueConfig is the `queue:` block. Zero values fall back to the
// queue package defaults.
type QueueConfig struct {
	VisibilityTimeoutSeconds int `json:"visibility_timeout_seconds" yaml:"visibility_timeout_seconds"`
	MaxRetries               int `json:"max_retries" yaml:"max_retries"`
	ExpireInHours            int `json:"expire_in_hours" yaml:"expire_in_hours"`
	RetentionDays            int `json:"retention_days" yaml:"retention_days"`
}

func (q *QueueConfig) GetVisibilityTimeout() time.Duration {
	if q == nil || q.VisibilityTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(q.VisibilityTimeoutSeconds) * time.Second
}

func (q *QueueConfig) GetMaxRetries() int {
	if q == nil || q.MaxRetries <= 0 {
		return 3
	}
	return q.MaxRetries
}

func (q *QueueConfig) GetExpireIn() time.Duration {
	if q == nil || q.ExpireInHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(q.ExpireInHours) * time.Hour
}

func (q *QueueConfig) GetRetention() time.Duration {
	if q == nil || q.RetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(q.RetentionDays) * 24 * time.Hour
}

// WorkerConfig is the `worker:` block.
type WorkerConfig struct {
	Concurrency         int      `json:"concurrency" yaml:"concurrency"`
	Topics              []string `json:"topics" yaml:"topics"`
	PollIntervalSeconds int      `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

func (w *WorkerConfig) GetConcurrency() int {
	if w == nil || w.Concurrency <= 0 {
		return 4
	}
	return w.Concurrency
}

func (w *WorkerConfig) GetPollInterval() time.Duration {
	if w == nil || w.PollIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// StorageConfig is the `storage:` block (S3-compatible object store).
type StorageConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Secure    bool   `json:"secure" yaml:"secure"`
	PublicURL string `json:"public_url" yaml:"public_url"`
}

func (s *StorageConfig) Validate() error {
	if s == nil || s.Endpoint == "" || s.Bucket == "" {
		return fmt.Errorf("storage config invalid")
	}
	return nil
}

// MediaServiceConfig is the `mediaService:` block (FFmpeg HTTP service).
type MediaServiceConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

func (m *MediaServiceConfig) GetTimeout() time.Duration {
	if m == nil || m.TimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// ProviderConfig configures one external generation provider.
type ProviderConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	WebhookSecret  string `json:"webhook_secret" yaml:"webhook_secret"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

func (p ProviderConfig) GetTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type ProvidersConfig map[string]ProviderConfig

// WebhookConfig is the `webhook:` block covering outbound deliveries
// and the inbound callback route.
type WebhookConfig struct {
	MaxAttempts        int    `json:"max_attempts" yaml:"max_attempts"`
	BackoffBaseSeconds int    `json:"backoff_base_seconds" yaml:"backoff_base_seconds"`
	TimeoutSeconds     int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	CallbackToken      string `json:"callback_token" yaml:"callback_token"`
}

func (w *WebhookConfig) GetMaxAttempts() int {
	if w == nil || w.MaxAttempts <= 0 {
		return 5
	}
	return w.MaxAttempts
}

func (w *WebhookConfig) GetBackoffBase() time.Duration {
	if w == nil || w.BackoffBaseSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.BackoffBaseSeconds) * time.Second
}

func (w *WebhookConfig) GetTimeout() time.Duration {
	if w == nil || w.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

func (w *WebhookConfig) GetCallbackToken() string {
	if w == nil {
		return ""
	}
	return w.CallbackToken
}

// TraceConfig is the `trace:` block.
type TraceConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}

func (t *TraceConfig) IsEnabled() bool {
	return t != nil && t.Enabled
}

func (t *TraceConfig) GetServiceName() string {
	if t == nil || t.ServiceName == "" {
		return "synthome"
	}
	return t.ServiceName
}

// MiddlewareConfig middleware configuration
type MiddlewareConfig struct {
	EnableLogging *bool `json:"enableLogging" yaml:"enableLogging"`
	EnableTracing *bool `json:"enableTracing" yaml:"enableTracing"`
}

// IsLoggingEnabled returns whether logging middleware is enabled, default enabled
func (m MiddlewareConfig) IsLoggingEnabled() bool {
	if m.EnableLogging == nil {
		return true
	}
	return *m.EnableLogging
}

// IsTracingEnabled returns whether tracing middleware is enabled, default disabled
func (m MiddlewareConfig) IsTracingEnabled() bool {
	if m.EnableTracing == nil {
		return false
	}
	return *m.EnableTracing
}
