// Package config loads process configuration from the environment via
// viper, following the shape of the teacher's config/config.go: a typed
// Config struct, sensible defaults, and a single Load() entry point.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel          string
	LoggingStructured bool
	LoggingConsole    bool

	Store     StoreConfig
	Database  DatabaseConfig
	SMTP      SMTPConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig

	MetricsPort int

	StartWorkers bool
	Environment  string
}

// DatabaseConfig is the durable postgres store's DSN; empty DSN means
// run against the in-memory repositories instead (standalone mode).
type DatabaseConfig struct {
	DSN string
}

// SMTPConfig mirrors internal/transport.SMTPConfig's fields, loaded from
// the environment rather than constructed inline.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
}

type StoreConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

type QueueConfig struct {
	DefaultConcurrency int
	MaxQueueSize       int
	RemoveOnComplete   int
	RemoveOnFail       int
	StallTimeout       time.Duration
	ShutdownGrace      time.Duration

	ImportChunkSize   int
	EmailBatchSize    int
	IntraBatchDelayMs int
	InterBatchDelayMs int
}

type SchedulerConfig struct {
	AlertTickSeconds        int
	MetricSamplerSeconds    int
	KeyExpiryCron           string
	ProgressCleanupCron     string
	RateLimitMonitorSeconds int
}

// Load reads configuration from the environment (with an "ENGINE_" prefix)
// and returns a fully populated Config with defaults applied for anything
// unset, matching spec.md §6's recognized-environment-configuration list.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("log_level", "INFO")
	v.SetDefault("logging_structured", false)
	v.SetDefault("logging_console", true)

	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 6379)
	v.SetDefault("store.password", "")
	v.SetDefault("store.db", 0)
	v.SetDefault("store.connect_timeout_ms", 5000)
	v.SetDefault("store.command_timeout_ms", 5000)

	v.SetDefault("queue.default_concurrency", 5)
	v.SetDefault("queue.max_queue_size", 100000)
	v.SetDefault("queue.remove_on_complete", 1000)
	v.SetDefault("queue.remove_on_fail", 5000)
	v.SetDefault("queue.stall_timeout_ms", 30000)
	v.SetDefault("queue.shutdown_grace_ms", 30000)
	v.SetDefault("queue.import_chunk_size", 1000)
	v.SetDefault("queue.email_batch_size", 100)
	v.SetDefault("queue.intra_batch_delay_ms", 100)
	v.SetDefault("queue.inter_batch_delay_ms", 1000)

	v.SetDefault("scheduler.alert_tick_seconds", 60)
	v.SetDefault("scheduler.metric_sampler_seconds", 60)
	v.SetDefault("scheduler.key_expiry_cron", "@every 1h")
	v.SetDefault("scheduler.progress_cleanup_cron", "@every 1h")
	v.SetDefault("scheduler.ratelimit_monitor_seconds", 30)

	v.SetDefault("database.dsn", "")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from_name", "CampaignForge")

	v.SetDefault("metrics_port", 9090)

	v.SetDefault("start_workers", true)
	v.SetDefault("environment", "development")

	cfg := &Config{
		LogLevel:          v.GetString("log_level"),
		LoggingStructured: v.GetBool("logging_structured"),
		LoggingConsole:    v.GetBool("logging_console"),
		Store: StoreConfig{
			Host:           v.GetString("store.host"),
			Port:           v.GetInt("store.port"),
			Password:       v.GetString("store.password"),
			DB:             v.GetInt("store.db"),
			ConnectTimeout: time.Duration(v.GetInt("store.connect_timeout_ms")) * time.Millisecond,
			CommandTimeout: time.Duration(v.GetInt("store.command_timeout_ms")) * time.Millisecond,
		},
		Queue: QueueConfig{
			DefaultConcurrency: v.GetInt("queue.default_concurrency"),
			MaxQueueSize:       v.GetInt("queue.max_queue_size"),
			RemoveOnComplete:   v.GetInt("queue.remove_on_complete"),
			RemoveOnFail:       v.GetInt("queue.remove_on_fail"),
			StallTimeout:       time.Duration(v.GetInt("queue.stall_timeout_ms")) * time.Millisecond,
			ShutdownGrace:      time.Duration(v.GetInt("queue.shutdown_grace_ms")) * time.Millisecond,
			ImportChunkSize:    v.GetInt("queue.import_chunk_size"),
			EmailBatchSize:     v.GetInt("queue.email_batch_size"),
			IntraBatchDelayMs:  v.GetInt("queue.intra_batch_delay_ms"),
			InterBatchDelayMs:  v.GetInt("queue.inter_batch_delay_ms"),
		},
		Scheduler: SchedulerConfig{
			AlertTickSeconds:        v.GetInt("scheduler.alert_tick_seconds"),
			MetricSamplerSeconds:    v.GetInt("scheduler.metric_sampler_seconds"),
			KeyExpiryCron:           v.GetString("scheduler.key_expiry_cron"),
			ProgressCleanupCron:     v.GetString("scheduler.progress_cleanup_cron"),
			RateLimitMonitorSeconds: v.GetInt("scheduler.ratelimit_monitor_seconds"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			FromName: v.GetString("smtp.from_name"),
		},
		MetricsPort:  v.GetInt("metrics_port"),
		StartWorkers: v.GetBool("start_workers"),
		Environment:  v.GetString("environment"),
	}

	if cfg.Queue.DefaultConcurrency <= 0 {
		return nil, fmt.Errorf("queue.default_concurrency must be positive")
	}

	return cfg, nil
}
