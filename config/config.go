package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/joho/godotenv"
)

// публикуется не больше 50 мест
const maxLeaderboardSize = 50

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int
	LogLevel     slog.Level

	// Hiscore lookup
	LookupURL       string
	FetchTimeout    time.Duration
	FetchRatePerSec float64
	FetchBurst      int
	FetchBackoff    time.Duration
	FetchMaxBackoff time.Duration
	FetchMaxRetries int

	// Sync scheduler
	SyncInterval    time.Duration
	SyncWorkers     int
	LeaderboardSize int

	DispatcherSecretHash string
	AdminUserIDs         []models.OwnerID
	CORSAllowedOrigins   []string

	// Архив снимков в R2; выключен, если не заданы ключи
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string
	R2Endpoint        string
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		DatabaseURL:  getenv("DATABASE_URL"),
		JWTSecretKey: getenv("JWT_SECRET_KEY"),
		LookupURL:    getenv("LOOKUP_URL"),

		DispatcherSecretHash: getenv("DISPATCHER_SECRET_HASH"),
		CORSAllowedOrigins:   splitList(getenv("CORS_ALLOWED_ORIGINS")),

		R2AccountID:       getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   getenv("R2_PUBLIC_BASE_URL"),
		R2Endpoint:        getenv("R2_ENDPOINT"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	cfg.ServerPort = p.int("SERVER_PORT", 8080)
	cfg.FetchTimeout = p.duration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchRatePerSec = p.float("FETCH_RATE_PER_SEC", 2)
	cfg.FetchBurst = p.int("FETCH_BURST", 5)
	cfg.FetchBackoff = p.duration("FETCH_BACKOFF", 3*time.Second)
	cfg.FetchMaxBackoff = p.duration("FETCH_MAX_BACKOFF", 10*time.Second)
	cfg.FetchMaxRetries = p.int("FETCH_MAX_RETRIES", 2)
	cfg.SyncInterval = p.duration("SYNC_INTERVAL", time.Hour)
	cfg.SyncWorkers = p.int("SYNC_WORKERS", 5)
	cfg.LeaderboardSize = p.int("LEADERBOARD_SIZE", 50)
	if p.err != nil {
		return nil, p.err
	}

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	if cfg.SyncWorkers <= 0 {
		return nil, fmt.Errorf("SYNC_WORKERS must be positive, got %d", cfg.SyncWorkers)
	}
	if cfg.SyncInterval <= 0 || cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("SYNC_INTERVAL and FETCH_TIMEOUT must be positive")
	}
	if cfg.LeaderboardSize <= 0 || cfg.LeaderboardSize > maxLeaderboardSize {
		return nil, fmt.Errorf("LEADERBOARD_SIZE must be between 1 and %d, got %d", maxLeaderboardSize, cfg.LeaderboardSize)
	}
	if cfg.FetchBackoff <= 0 || cfg.FetchMaxBackoff <= 0 {
		return nil, fmt.Errorf("FETCH_BACKOFF and FETCH_MAX_BACKOFF must be positive")
	}
	if cfg.FetchBackoff > cfg.FetchMaxBackoff {
		return nil, fmt.Errorf("FETCH_BACKOFF (%s) must not exceed FETCH_MAX_BACKOFF (%s)", cfg.FetchBackoff, cfg.FetchMaxBackoff)
	}
	if cfg.FetchMaxRetries < 0 {
		return nil, fmt.Errorf("FETCH_MAX_RETRIES must not be negative, got %d", cfg.FetchMaxRetries)
	}

	level, err := parseLogLevel(getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	for _, raw := range splitList(getenv("ADMIN_USER_IDS")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid ADMIN_USER_IDS entry %q", raw)
		}
		cfg.AdminUserIDs = append(cfg.AdminUserIDs, models.OwnerID(id))
	}

	return cfg, nil
}

// ArchiveEnabled reports whether all R2 credentials are present.
func (c *Config) ArchiveEnabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// parser запоминает первую ошибку, чтобы не проверять каждое поле отдельно.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) int(key string, def int) int {
	raw := p.getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s environment variable: %w", key, err)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := p.getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s environment variable: %w", key, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := p.getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s environment variable: %w", key, err)
		return def
	}
	return v
}

func parseLogLevel(raw string) (slog.Level, error) {
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", raw, err)
	}
	return level, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
