package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Auth           AuthConfig
	RateLimit      RateLimitConfig
	AdminBootstrap AdminBootstrapConfig
	Search         SearchConfig
	Audit          AuditConfig
	Export         ExportConfig
	Jobs           JobsConfig
	Logging        LoggingConfig
	Tracing        TracingConfig
	Environment    string
}

type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
}

type RateLimitConfig struct {
	UserPerMinute     int
	SearchPerMinute   int
	AdminPerMinute    int
	LoginPer15Minutes int
	TrustedProxyCIDRs []string
}

type AdminBootstrapConfig struct {
	Username string
	Password string
	Email    string
}

// SearchConfig bounds the federated search fan-out.
type SearchConfig struct {
	MaxInFlight         int
	SourceTimeout       time.Duration
	SampleSize          int
	SourcesDir          string
	RedactionPolicyFile string
	WatchPolicy         bool
}

type AuditConfig struct {
	LogFile      string
	QueueSize    int
	FlushTimeout time.Duration
}

type ExportConfig struct {
	Dir           string
	RetentionDays int
	MaxPDFRows    int
}

type JobsConfig struct {
	Enabled              bool
	SchemaRefreshEvery   time.Duration
	ExportCleanupEvery   time.Duration
	RetrySchemaRefresh   int
	RetryExportRetention int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

// Load reads configuration from the environment. Settings required only by
// the HTTP server are checked by RequireServer.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvInt("SERVER_PORT", 8080),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTExpiry: time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		},
		RateLimit: RateLimitConfig{
			UserPerMinute:     getEnvInt("RATE_LIMIT_USER", 60),
			SearchPerMinute:   getEnvInt("RATE_LIMIT_SEARCH", 20),
			AdminPerMinute:    getEnvInt("RATE_LIMIT_ADMIN", 0),
			LoginPer15Minutes: getEnvInt("RATE_LIMIT_LOGIN", 5),
			TrustedProxyCIDRs: getEnvList("TRUSTED_PROXY_CIDRS"),
		},
		AdminBootstrap: AdminBootstrapConfig{
			Username: getEnv("ADMIN_USERNAME", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Email:    getEnv("ADMIN_EMAIL", ""),
		},
		Search: SearchConfig{
			MaxInFlight:         getEnvInt("SEARCH_MAX_IN_FLIGHT", 4),
			SourceTimeout:       time.Duration(getEnvInt("SEARCH_SOURCE_TIMEOUT_MS", 10000)) * time.Millisecond,
			SampleSize:          getEnvInt("SEARCH_SAMPLE_SIZE", 20),
			SourcesDir:          getEnv("SOURCES_DIR", ""),
			RedactionPolicyFile: getEnv("REDACTION_POLICY_FILE", ""),
			WatchPolicy:         getEnvBool("REDACTION_POLICY_WATCH", true),
		},
		Audit: AuditConfig{
			LogFile:      getEnv("AUDIT_LOG_FILE", "logs/audit.log"),
			QueueSize:    getEnvInt("AUDIT_QUEUE_SIZE", 1024),
			FlushTimeout: getEnvDuration("AUDIT_FLUSH_TIMEOUT", 5*time.Second),
		},
		Export: ExportConfig{
			Dir:           getEnv("EXPORTS_DIR", "exports"),
			RetentionDays: getEnvInt("EXPORT_RETENTION_DAYS", 30),
			MaxPDFRows:    getEnvInt("EXPORT_MAX_PDF_ROWS", 1000),
		},
		Jobs: JobsConfig{
			Enabled:              getEnvBool("JOBS_ENABLED", true),
			SchemaRefreshEvery:   getEnvDuration("JOB_SCHEMA_REFRESH_INTERVAL", 6*time.Hour),
			ExportCleanupEvery:   getEnvDuration("JOB_EXPORT_CLEANUP_INTERVAL", 24*time.Hour),
			RetrySchemaRefresh:   getEnvInt("JOB_RETRY_SCHEMA_REFRESH", 3),
			RetryExportRetention: getEnvInt("JOB_RETRY_EXPORT_CLEANUP", 1),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "retriever"),
			OTLPEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if cfg.Search.MaxInFlight < 1 {
		return Config{}, fmt.Errorf("SEARCH_MAX_IN_FLIGHT must be at least 1")
	}
	if cfg.Search.SourceTimeout <= 0 {
		return Config{}, fmt.Errorf("SEARCH_SOURCE_TIMEOUT_MS must be positive")
	}
	if cfg.Search.SampleSize < 1 {
		cfg.Search.SampleSize = 20
	}
	return cfg, nil
}

// RequireServer checks the settings the HTTP server cannot run without.
func (c Config) RequireServer() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Environment == "production" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
