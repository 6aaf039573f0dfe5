package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures the runtime configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Plans     PlansConfig
	Scheduler SchedulerConfig
}

// ServerConfig configures the HTTP server runtime behavior.
type ServerConfig struct {
	Addr string
}

// DatabaseConfig contains the database connection settings.
type DatabaseConfig struct {
	URL             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	UseMock         bool
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level string
}

// AuthConfig groups authentication settings.
type AuthConfig struct {
	Session SessionConfig
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	Lifetime     time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

// StorageConfig selects the attachment blob store.
type StorageConfig struct {
	Driver         string
	Dir            string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	MaxUploadBytes int64
}

// RedisConfig enables distributed creation locks when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PlansConfig points at an optional plan limit override file.
type PlansConfig struct {
	File string
}

// SchedulerConfig controls the background maintenance jobs.
type SchedulerConfig struct {
	Enabled        bool
	RefreshSpec    string
	PurgeSpec      string
	AuditRetention time.Duration
	Concurrency    int
}

// Load inspects the environment and builds a Config value. A .env file in the
// working directory, or the file named by ENV_FILE, is read first without
// overriding variables that are already set.
func Load() (Config, error) {
	if err := loadDotEnv(firstNonEmpty(os.Getenv("ENV_FILE"), ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{}

	cfg.Server = ServerConfig{
		Addr: firstNonEmpty(
			os.Getenv("SERVER_ADDR"),
			os.Getenv("ADDR"),
			":8080",
		),
	}

	cfg.Database = DatabaseConfig{
		URL: firstNonEmpty(
			os.Getenv("DATABASE_URL"),
			os.Getenv("DB_URL"),
			"",
		),
		MaxIdleConns:    parseIntWithDefault(os.Getenv("DATABASE_MAX_IDLE_CONNS"), 5),
		MaxOpenConns:    parseIntWithDefault(os.Getenv("DATABASE_MAX_OPEN_CONNS"), 25),
		ConnMaxLifetime: parseDurationWithDefault(os.Getenv("DATABASE_CONN_MAX_LIFETIME"), 30*time.Minute),
		ConnMaxIdleTime: parseDurationWithDefault(os.Getenv("DATABASE_CONN_MAX_IDLE_TIME"), 5*time.Minute),
		UseMock:         parseBoolWithDefault(os.Getenv("DATABASE_USE_MOCK"), false),
	}

	cfg.Logging = LoggingConfig{
		Level: firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
	}

	cfg.Auth = AuthConfig{
		Session: SessionConfig{
			Lifetime:     parseDurationWithDefault(os.Getenv("SESSION_LIFETIME"), 12*time.Hour),
			CookieName:   firstNonEmpty(os.Getenv("SESSION_COOKIE_NAME"), "makercalc_session"),
			CookieDomain: os.Getenv("SESSION_COOKIE_DOMAIN"),
			CookieSecure: parseBoolWithDefault(os.Getenv("SESSION_COOKIE_SECURE"), true),
		},
	}

	cfg.Storage = StorageConfig{
		Driver:         strings.ToLower(firstNonEmpty(os.Getenv("STORAGE_DRIVER"), "filesystem")),
		Dir:            firstNonEmpty(os.Getenv("STORAGE_DIR"), "data/attachments"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       firstNonEmpty(os.Getenv("S3_REGION"), os.Getenv("AWS_REGION"), "us-east-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3UsePathStyle: parseBoolWithDefault(os.Getenv("S3_USE_PATH_STYLE"), false),
		MaxUploadBytes: int64(parseIntWithDefault(os.Getenv("STORAGE_MAX_UPLOAD_BYTES"), 25<<20)),
	}

	cfg.Redis = RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       parseIntWithDefault(os.Getenv("REDIS_DB"), 0),
	}

	cfg.Plans = PlansConfig{
		File: os.Getenv("PLANS_FILE"),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:        parseBoolWithDefault(os.Getenv("SCHEDULER_ENABLED"), true),
		RefreshSpec:    firstNonEmpty(os.Getenv("SCHEDULER_REFRESH_SPEC"), "0 3 * * *"),
		PurgeSpec:      firstNonEmpty(os.Getenv("SCHEDULER_PURGE_SPEC"), "30 3 * * *"),
		AuditRetention: parseDurationWithDefault(os.Getenv("AUDIT_RETENTION"), 90*24*time.Hour),
		Concurrency:    parseIntWithDefault(os.Getenv("SCHEDULER_CONCURRENCY"), 4),
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return Config{}, fmt.Errorf("server address must not be empty")
	}

	switch cfg.Storage.Driver {
	case "filesystem", "s3":
	default:
		return Config{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "s3" && strings.TrimSpace(cfg.Storage.S3Bucket) == "" {
		return Config{}, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER is s3")
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func parseIntWithDefault(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

func parseBoolWithDefault(value string, def bool) bool {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}
