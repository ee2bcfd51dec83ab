package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// RetrievalConfig controls the document retrieval gateway.
type RetrievalConfig struct {
	// URLTTL is the lifetime of every signed pointer handed to a client. Always finite.
	URLTTL time.Duration
	// BackendTimeout bounds a single ownership lookup, stat or presign call.
	BackendTimeout time.Duration
	// ArchiveTimeout bounds the whole archive build (object reads plus bundle upload).
	ArchiveTimeout time.Duration
	Concurrency    int
	MaxDocuments   int
	BundlePrefix   string
	// BundleRetention is how long a built archive is kept before the sweeper removes it.
	BundleRetention     time.Duration
	BundleSweepInterval time.Duration
}

// UploadConfig holds the upload validation policy.
type UploadConfig struct {
	MaxSizeBytes int64
	// AllowedTypes maps a document category to the content types it accepts.
	AllowedTypes map[string][]string
}

// AuthConfig holds settings for the bearer token identity middleware.
type AuthConfig struct {
	JWTSecret string
}

// RateLimitConfig limits retrieval requests per caller.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// CircuitBreakerConfig wraps object storage calls.
type CircuitBreakerConfig struct {
	Enabled           bool
	FailureRate       float64
	MinRequests       uint32
	IntervalSeconds   int
	TimeoutSeconds    int
	MaxRequestsInHalf uint32
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Timezone   string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost        string
	Port           string
	Database       DatabaseConfig
	MinIO          MinIOConfig
	Retrieval      RetrievalConfig
	Upload         UploadConfig
	Auth           AuthConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Log            LogConfig
}

// DefaultAllowedTypes is used when UPLOAD_ALLOWED_TYPES is not set.
// Identity documents accept scans only; resumes may also be word documents.
var DefaultAllowedTypes = map[string][]string{
	"passport":   {"application/pdf", "image/jpeg", "image/png"},
	"transcript": {"application/pdf", "image/jpeg", "image/png"},
	"resume": {
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	},
	"other": {"application/pdf", "image/jpeg", "image/png", "text/plain"},
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	cfg := &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Retrieval: RetrievalConfig{
			URLTTL:              getEnvDuration("RETRIEVAL_URL_TTL", 10*time.Minute),
			BackendTimeout:      getEnvDuration("RETRIEVAL_BACKEND_TIMEOUT", 5*time.Second),
			ArchiveTimeout:      getEnvDuration("RETRIEVAL_ARCHIVE_TIMEOUT", 2*time.Minute),
			Concurrency:         getEnvInt("RETRIEVAL_CONCURRENCY", 8),
			MaxDocuments:        getEnvInt("RETRIEVAL_MAX_DOCUMENTS", 50),
			BundlePrefix:        getEnv("BUNDLE_PREFIX", "bundles/"),
			BundleRetention:     getEnvDuration("BUNDLE_RETENTION", time.Hour),
			BundleSweepInterval: getEnvDuration("BUNDLE_SWEEP_INTERVAL", 15*time.Minute),
		},
		Upload: UploadConfig{
			MaxSizeBytes: getEnvInt64("UPLOAD_MAX_SIZE_BYTES", 10<<20),
			AllowedTypes: getEnvAllowList("UPLOAD_ALLOWED_TYPES", DefaultAllowedTypes),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			RPS:     getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:   getEnvInt("RATE_LIMIT_BURST", 10),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:           getEnvBool("CB_ENABLED", true),
			FailureRate:       getEnvFloat("CB_FAILURE_RATE", 0.5),
			MinRequests:       uint32(getEnvInt("CB_MIN_REQUESTS", 20)),
			IntervalSeconds:   getEnvInt("CB_INTERVAL_SEC", 60),
			TimeoutSeconds:    getEnvInt("CB_TIMEOUT_SEC", 30),
			MaxRequestsInHalf: uint32(getEnvInt("CB_MAX_REQUESTS_HALF_OPEN", 5)),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
			Timezone:   getEnv("APP_TIMEZONE", "UTC"),
		},
	}

	// A bundle must outlive the pointer that was issued for it.
	if cfg.Retrieval.BundleRetention < cfg.Retrieval.URLTTL {
		cfg.Retrieval.BundleRetention = cfg.Retrieval.URLTTL
	}
	if cfg.Retrieval.Concurrency <= 0 {
		cfg.Retrieval.Concurrency = 1
	}

	return cfg
}

// Location returns the configured timezone for log timestamps, falling back to UTC.
func (c LogConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("90s", "10m").
// Zero or negative values fall back to def so timeouts stay finite.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// getEnvAllowList parses "passport=application/pdf|image/png;resume=application/pdf".
func getEnvAllowList(key string, def map[string][]string) map[string][]string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	out := make(map[string][]string)
	for _, group := range strings.Split(v, ";") {
		category, types, ok := strings.Cut(group, "=")
		category = strings.ToLower(strings.TrimSpace(category))
		if !ok || category == "" {
			continue
		}
		for _, t := range strings.Split(types, "|") {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				out[category] = append(out[category], t)
			}
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
