// Package config loads the server configuration from the environment,
// optionally seeded from a dotenv file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Store backends accepted in STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendBbolt    = "bbolt"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds the server configuration.
type Config struct {
	// Secrets
	JWTSecret  string // HS256 key for session tokens
	CSRFSecret string // HMAC key for CSRF cookies

	// Storage
	StoreBackend  string
	DataDir       string // bbolt file location
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	// Server
	Port               int
	CORSAllowedOrigins []string

	// Auth
	SessionTTL time.Duration
	CSRFMaxAge time.Duration
	BcryptCost int

	// Logging
	LogLevel  slog.Level
	LogFormat string // json or text

	// Audit
	AuditWebhookURL    string
	AuditWebhookHeader string // "Name: Value"
}

// Load reads the configuration from the environment. Variables already set
// in the environment win over those in the dotenv file. When envFile is
// empty, .env.local and .env are tried in the working directory and its
// parent, and a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	var r envReader
	cfg := &Config{
		JWTSecret:  r.str("JWT_SECRET_KEY", ""),
		CSRFSecret: r.str("CSRF_SECRET_KEY", ""),

		StoreBackend:  strings.ToLower(r.str("STORE_BACKEND", BackendBbolt)),
		DataDir:       r.str("DATA_DIR", "./data"),
		MongoURI:      r.str("MONGO_URI", ""),
		MongoDatabase: r.str("MONGO_DATABASE", "API_DB"),
		RedisAddr:     r.str("REDIS_ADDR", ""),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		RedisDB:       r.integer("REDIS_DB", 0),
		PostgresDSN:   r.str("POSTGRES_DSN", ""),

		Port:               r.integer("PORT", 8000),
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		SessionTTL: r.duration("SESSION_TTL", 5*time.Minute),
		CSRFMaxAge: r.duration("CSRF_MAX_AGE", time.Hour),
		BcryptCost: r.integer("BCRYPT_COST", bcrypt.DefaultCost),

		LogLevel:  r.level("LOG_LEVEL", slog.LevelInfo),
		LogFormat: strings.ToLower(r.str("LOG_FORMAT", "json")),

		AuditWebhookURL:    r.str("AUDIT_WEBHOOK_URL", ""),
		AuditWebhookHeader: r.str("AUDIT_WEBHOOK_HEADER", ""),
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	return cfg, nil
}

func loadEnvFile(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}
		return nil
	}

	dirs := []string{"."}
	if cwd, err := os.Getwd(); err == nil {
		if parent := filepath.Dir(cwd); parent != cwd {
			dirs = append(dirs, parent)
		}
	}
	for _, dir := range dirs {
		for _, name := range []string{".env.local", ".env"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := godotenv.Load(path); err != nil {
				return fmt.Errorf("loading env file %s: %w", path, err)
			}
		}
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY is required"))
	}
	if c.CSRFSecret == "" {
		errs = append(errs, errors.New("CSRF_SECRET_KEY is required"))
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendBbolt:
		if c.DataDir == "" {
			errs = append(errs, errors.New("DATA_DIR is required for the bbolt backend"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo backend"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of memory, bbolt, mongo, redis, postgres", c.StoreBackend))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.CSRFMaxAge <= 0 {
		errs = append(errs, errors.New("CSRF_MAX_AGE must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not json or text", c.LogFormat))
	}
	if c.AuditWebhookURL != "" {
		u, err := url.Parse(c.AuditWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("AUDIT_WEBHOOK_URL %q is not an http(s) URL", c.AuditWebhookURL))
		}
	}
	if c.AuditWebhookHeader != "" && !strings.Contains(c.AuditWebhookHeader, ":") {
		errs = append(errs, errors.New(`AUDIT_WEBHOOK_HEADER must have the form "Name: Value"`))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger described by LogFormat and LogLevel.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// envReader reads typed environment variables and collects parse errors.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func (r *envReader) integer(key string, defaultValue int) int {
	value := r.str(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := r.str(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func (r *envReader) level(key string, defaultValue slog.Level) slog.Level {
	value := r.str(key, "")
	if value == "" {
		return defaultValue
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return level
}

// list splits a comma separated value, dropping empty entries.
func (r *envReader) list(key, defaultValue string) []string {
	var out []string
	for item := range strings.SplitSeq(r.str(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
