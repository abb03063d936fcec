package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultServerPort           = 8080
	defaultStaleSpectatorMaxAge = 12 * time.Hour
	defaultStaleSweepInterval   = 10 * time.Minute
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	ServerPort   int
	DatabaseURL  string // пусто = репозитории в памяти
	JWTSecretKey string
	RedisURL     string // пусто = внутрипроцессный канал

	CORSAllowedOrigins []string

	StaleSpectatorMaxAge        time.Duration
	StaleSpectatorSweepInterval time.Duration

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string
}

// R2Configured reports whether history export storage is enabled.
func (c *Config) R2Configured() bool {
	return c.R2AccountID != ""
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Ошибку не считаем фатальной: .env нужен только локально.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DatabaseURL:  strings.TrimSpace(getenv("DATABASE_URL")),
		JWTSecretKey: getenv("JWT_SECRET_KEY"),
		RedisURL:     strings.TrimSpace(getenv("REDIS_URL")),
	}

	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	port, err := parsePort(getenv("SERVER_PORT"))
	if err != nil {
		return nil, err
	}
	cfg.ServerPort = port

	cfg.CORSAllowedOrigins = parseList(getenv("CORS_ALLOWED_ORIGINS"))
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.StaleSpectatorMaxAge, err = parseDuration(getenv, "STALE_SPECTATOR_MAX_AGE", defaultStaleSpectatorMaxAge); err != nil {
		return nil, err
	}
	if cfg.StaleSpectatorSweepInterval, err = parseDuration(getenv, "STALE_SPECTATOR_SWEEP_INTERVAL", defaultStaleSweepInterval); err != nil {
		return nil, err
	}

	cfg.R2AccountID = getenv("R2_ACCOUNT_ID")
	cfg.R2AccessKeyID = getenv("R2_ACCESS_KEY_ID")
	cfg.R2SecretAccessKey = getenv("R2_SECRET_ACCESS_KEY")
	cfg.R2BucketName = getenv("R2_BUCKET_NAME")
	cfg.R2PublicBaseURL = getenv("R2_PUBLIC_BASE_URL")
	if err := validateR2(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parsePort(raw string) (int, error) {
	if raw == "" {
		return defaultServerPort, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}
	return port, nil
}

func parseDuration(getenv func(string) string, name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", name, d)
	}
	return d, nil
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validateR2: либо все параметры R2 заданы, либо ни одного.
func validateR2(cfg *Config) error {
	values := map[string]string{
		"R2_ACCOUNT_ID":        cfg.R2AccountID,
		"R2_ACCESS_KEY_ID":     cfg.R2AccessKeyID,
		"R2_SECRET_ACCESS_KEY": cfg.R2SecretAccessKey,
		"R2_BUCKET_NAME":       cfg.R2BucketName,
		"R2_PUBLIC_BASE_URL":   cfg.R2PublicBaseURL,
	}
	var missing []string
	set := 0
	for _, name := range []string{"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_PUBLIC_BASE_URL"} {
		if values[name] == "" {
			missing = append(missing, name)
		} else {
			set++
		}
	}
	if set > 0 && len(missing) > 0 {
		return fmt.Errorf("incomplete R2 configuration, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}
