package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every runtime setting the service reads at startup.
// Notification settings that must be hot-reloadable (sender address, enable
// flags, recipient lists) are seeded from here but owned by the settings
// component afterwards.
type Config struct {
	Server   Server
	Database Database
	Redis    Redis
	Revision Revision
	Notify   Notify
	Jobs     Jobs
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// Database holds the postgres connection settings. An empty DSN selects the
// in-memory store.
type Database struct {
	DSN          string
	MaxOpenConns int
}

// Redis holds cache backend settings. An empty URL selects in-memory caches.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Revision controls capture and retention of revision records.
type Revision struct {
	RetentionPeriod       time.Duration
	MaxRevisionsPerEntity int
	ExcludedFields        []string
	CompressionEnabled    bool
	CompressionThreshold  int
	MaxReasonLength       int
	CleanupBatchSize      int
}

// Notify controls the notification pipeline.
type Notify struct {
	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	SMTPStartTLS     bool
	SenderAddress    string
	TemplatePath     string
	MaxRecipients    int
	MaxSubjectLen    int
	MaxContentLen    int
	MaxStackTraceLen int
	RateLimitMax     int
	RateLimitWindow  time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	SendTimeout      time.Duration
	Workers          int
	QueueSize        int
	QueueWarnDepth   int
	QueueCritDepth   int
	QueueWarnAge     time.Duration
	QueueCritAge     time.Duration
}

// Jobs controls the maintenance scheduler intervals.
type Jobs struct {
	RetentionInterval   time.Duration
	ExcessInterval      time.Duration
	CompressionInterval time.Duration
	StatisticsInterval  time.Duration
	HealthInterval      time.Duration
	SummaryInterval     time.Duration
	CacheSweepInterval  time.Duration
	NotifySweepInterval time.Duration
}

// FromEnv builds the full configuration from environment variables so main
// stays lean. Every value has a usable default for local development.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envString("REVTRAIL_ADDR", ":8080"),
		},
		Database: Database{
			DSN:          os.Getenv("REVTRAIL_DB_DSN"),
			MaxOpenConns: envInt("REVTRAIL_DB_MAX_OPEN_CONNS", 10),
		},
		Redis: Redis{
			URL:          os.Getenv("REVTRAIL_REDIS_URL"),
			PoolSize:     envInt("REVTRAIL_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REVTRAIL_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("REVTRAIL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REVTRAIL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REVTRAIL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Revision: Revision{
			RetentionPeriod:       envDuration("REVTRAIL_RETENTION_PERIOD", 180*24*time.Hour),
			MaxRevisionsPerEntity: envInt("REVTRAIL_MAX_REVISIONS_PER_ENTITY", 100),
			ExcludedFields:        envList("REVTRAIL_EXCLUDED_FIELDS", []string{"password", "token", "secret"}),
			CompressionEnabled:    envBool("REVTRAIL_COMPRESSION_ENABLED", true),
			CompressionThreshold:  envInt("REVTRAIL_COMPRESSION_THRESHOLD", 1024),
			MaxReasonLength:       envInt("REVTRAIL_MAX_REASON_LENGTH", 1000),
			CleanupBatchSize:      envInt("REVTRAIL_CLEANUP_BATCH_SIZE", 500),
		},
		Notify: Notify{
			EmailEnabled:     envBool("REVTRAIL_EMAIL_ENABLED", false),
			SMTPHost:         envString("REVTRAIL_SMTP_HOST", "localhost"),
			SMTPPort:         envInt("REVTRAIL_SMTP_PORT", 587),
			SMTPUsername:     os.Getenv("REVTRAIL_SMTP_USERNAME"),
			SMTPPassword:     os.Getenv("REVTRAIL_SMTP_PASSWORD"),
			SMTPStartTLS:     envBool("REVTRAIL_SMTP_STARTTLS", true),
			SenderAddress:    envString("REVTRAIL_SENDER_ADDRESS", "revtrail@localhost"),
			TemplatePath:     os.Getenv("REVTRAIL_TEMPLATE_PATH"),
			MaxRecipients:    envInt("REVTRAIL_MAX_RECIPIENTS", 50),
			MaxSubjectLen:    envInt("REVTRAIL_MAX_SUBJECT_LENGTH", 255),
			MaxContentLen:    envInt("REVTRAIL_MAX_CONTENT_LENGTH", 10000),
			MaxStackTraceLen: envInt("REVTRAIL_MAX_STACKTRACE_LENGTH", 5000),
			RateLimitMax:     envInt("REVTRAIL_RATE_LIMIT_MAX", 100),
			RateLimitWindow:  envDuration("REVTRAIL_RATE_LIMIT_WINDOW", time.Hour),
			MaxRetries:       envInt("REVTRAIL_MAX_RETRIES", 3),
			RetryBaseDelay:   envDuration("REVTRAIL_RETRY_BASE_DELAY", time.Second),
			SendTimeout:      envDuration("REVTRAIL_SEND_TIMEOUT", 30*time.Second),
			Workers:          envInt("REVTRAIL_NOTIFY_WORKERS", 4),
			QueueSize:        envInt("REVTRAIL_QUEUE_SIZE", 1000),
			QueueWarnDepth:   envInt("REVTRAIL_QUEUE_WARN_DEPTH", 500),
			QueueCritDepth:   envInt("REVTRAIL_QUEUE_CRIT_DEPTH", 900),
			QueueWarnAge:     envDuration("REVTRAIL_QUEUE_WARN_AGE", time.Minute),
			QueueCritAge:     envDuration("REVTRAIL_QUEUE_CRIT_AGE", 5*time.Minute),
		},
		Jobs: Jobs{
			RetentionInterval:   envDuration("REVTRAIL_RETENTION_INTERVAL", 24*time.Hour),
			ExcessInterval:      envDuration("REVTRAIL_EXCESS_INTERVAL", 24*time.Hour),
			CompressionInterval: envDuration("REVTRAIL_COMPRESSION_INTERVAL", 24*time.Hour),
			StatisticsInterval:  envDuration("REVTRAIL_STATISTICS_INTERVAL", 24*time.Hour),
			HealthInterval:      envDuration("REVTRAIL_HEALTH_INTERVAL", 5*time.Minute),
			SummaryInterval:     envDuration("REVTRAIL_SUMMARY_INTERVAL", 7*24*time.Hour),
			CacheSweepInterval:  envDuration("REVTRAIL_CACHE_SWEEP_INTERVAL", time.Hour),
			NotifySweepInterval: envDuration("REVTRAIL_NOTIFY_SWEEP_INTERVAL", 24*time.Hour),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
