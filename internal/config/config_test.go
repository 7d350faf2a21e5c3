package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var configKeys = []string{
	"JWT_SECRET_KEY", "CSRF_SECRET_KEY", "STORE_BACKEND", "DATA_DIR",
	"MONGO_URI", "MONGO_DATABASE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "POSTGRES_DSN",
	"PORT", "CORS_ALLOWED_ORIGINS", "SESSION_TTL", "CSRF_MAX_AGE",
	"BCRYPT_COST", "LOG_LEVEL", "LOG_FORMAT",
	"AUDIT_WEBHOOK_URL", "AUDIT_WEBHOOK_HEADER",
}

// clearEnv unsets every config variable for the duration of the test and
// runs it from an empty directory so no stray dotenv file is picked up.
// godotenv never overrides a variable that is set, even to "", so the keys
// must be unset rather than emptied.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendBbolt, cfg.StoreBackend)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "API_DB", cfg.MongoDatabase)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, time.Hour, cfg.CSRFMaxAge)
	assert.Equal(t, bcrypt.DefaultCost, cfg.BcryptCost)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY is required")
	assert.Contains(t, err.Error(), "CSRF_SECRET_KEY is required")
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET_KEY", "jwt")
	t.Setenv("CSRF_SECRET_KEY", "csrf")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("SESSION_TTL", "10m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("AUDIT_WEBHOOK_URL", "https://collector.example.com/audit")
	t.Setenv("AUDIT_WEBHOOK_HEADER", "Authorization: Bearer t")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "https://collector.example.com/audit", cfg.AuditWebhookURL)
	assert.Equal(t, "Authorization: Bearer t", cfg.AuditWebhookHeader)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "custom.env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET_KEY=from-file\nCSRF_SECRET_KEY=from-file\nPORT=8100\n"), 0o600))
	t.Setenv("PORT", "8200")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 8200, cfg.Port, "environment wins over the file")
}

func TestLoadDotEnvLocal(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env.local", []byte("JWT_SECRET_KEY=local\n"), 0o600))
	require.NoError(t, os.WriteFile(".env", []byte("JWT_SECRET_KEY=shared\nCSRF_SECRET_KEY=shared\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.JWTSecret)
	assert.Equal(t, "shared", cfg.CSRFSecret)
}

func TestLoadMissingEnvFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("SESSION_TTL", "5 minutes")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "SESSION_TTL")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWTSecret:    "jwt",
			CSRFSecret:   "csrf",
			StoreBackend: BackendMemory,
			Port:         8000,
			SessionTTL:   5 * time.Minute,
			CSRFMaxAge:   time.Hour,
			BcryptCost:   bcrypt.DefaultCost,
			LogFormat:    "json",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "sqlite" }, "STORE_BACKEND"},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = BackendPostgres }, "POSTGRES_DSN"},
		{"mongo without uri", func(c *Config) { c.StoreBackend = BackendMongo }, "MONGO_URI"},
		{"redis without addr", func(c *Config) { c.StoreBackend = BackendRedis }, "REDIS_ADDR"},
		{"bbolt without dir", func(c *Config) { c.StoreBackend = BackendBbolt }, "DATA_DIR"},
		{"port", func(c *Config) { c.Port = 70000 }, "PORT"},
		{"session ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
		{"csrf max age", func(c *Config) { c.CSRFMaxAge = -time.Second }, "CSRF_MAX_AGE"},
		{"bcrypt cost", func(c *Config) { c.BcryptCost = 2 }, "BCRYPT_COST"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"webhook scheme", func(c *Config) { c.AuditWebhookURL = "ftp://collector" }, "AUDIT_WEBHOOK_URL"},
		{"webhook no host", func(c *Config) { c.AuditWebhookURL = "https://" }, "AUDIT_WEBHOOK_URL"},
		{"webhook header", func(c *Config) {
			c.AuditWebhookURL = "https://collector.example.com/audit"
			c.AuditWebhookHeader = "Bearer x"
		}, "AUDIT_WEBHOOK_HEADER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
