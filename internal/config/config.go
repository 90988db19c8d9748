package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/outreach-engine/internal/model"
	"github.com/LeventeLantos/outreach-engine/internal/profile"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Provider  ProviderConfig
	Tracker   TrackerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Outreach  OutreachConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type ProviderConfig struct {
	URL               string
	APIKey            string
	AccountID         string
	RequestsPerSecond int
}

type TrackerConfig struct {
	URL    string
	APIKey string
}

type StoreConfig struct {
	Backend string
	Path    string
	Key     string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type DatabaseConfig struct {
	PostgresURL string
}

type SchedulerConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// OutreachConfig is the selected timing profile with any cap overrides
// already applied.
type OutreachConfig struct {
	Profile profile.Profile
}

type LogConfig struct {
	Level slog.Level
	File  string
}

// LoadAll reads the configuration from the environment. Every problem
// found is reported in the returned error.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	str := func(key string) string {
		v, err := requireEnv(key)
		collect(err)
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Provider: ProviderConfig{
			URL:               str("PROVIDER_URL"),
			APIKey:            os.Getenv("PROVIDER_API_KEY"),
			AccountID:         str("PROVIDER_ACCOUNT_ID"),
			RequestsPerSecond: num("PROVIDER_RPS", 2),
		},
		Tracker: TrackerConfig{
			URL:    str("TRACKER_URL"),
			APIKey: os.Getenv("TRACKER_API_KEY"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendFile)),
			Path:    getEnv("STORE_PATH", "outreach-state.json"),
			Key:     getEnv("STORE_KEY", "outreach:queue"),
		},
		Scheduler: SchedulerConfig{
			Interval:     time.Duration(num("SYNC_INTERVAL_SECONDS", 300)) * time.Second,
			InitialDelay: time.Duration(num("SYNC_INITIAL_DELAY_SECONDS", 0)) * time.Second,
		},
		Log: LogConfig{
			File: os.Getenv("LOG_FILE"),
		},
	}

	switch cfg.Store.Backend {
	case BackendRedis:
		cfg.Redis = RedisConfig{
			Address:  str("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       num("REDIS_DB", 0),
		}
	case BackendPostgres:
		cfg.Database.PostgresURL = str("POSTGRES_URL")
	}

	p, err := profile.Lookup(getEnv("PACING_PROFILE", profile.Default))
	if err != nil {
		collect(fmt.Errorf("PACING_PROFILE: %w", err))
	}
	for key, kind := range capKeys {
		if os.Getenv(key) == "" {
			continue
		}
		v, err := getEnvInt(key, 0)
		switch {
		case err != nil:
			collect(err)
		case v < 0:
			collect(fmt.Errorf("%s must be >= 0", key))
		case p.Caps != nil:
			p.Caps[kind] = v
		}
	}
	cfg.Outreach.Profile = p

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	collect(err)
	cfg.Log.Level = level

	collect(validate(cfg))
	return cfg, joinErrors(errs)
}

var capKeys = map[string]model.Kind{
	"CAP_CONNECTIONS": model.KindConnection,
	"CAP_INMAILS":     model.KindInMail,
	"CAP_MESSAGES":    model.KindMessage,
}

func validate(cfg *Config) error {
	var errs []error
	switch cfg.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of memory, file, redis, postgres: %q", cfg.Store.Backend))
	}
	if cfg.Store.Backend == BackendFile && cfg.Store.Path == "" {
		errs = append(errs, errors.New("STORE_PATH must be set for the file backend"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.InitialDelay < 0 {
		errs = append(errs, errors.New("SYNC_INITIAL_DELAY_SECONDS must be >= 0"))
	}
	if cfg.Provider.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("PROVIDER_RPS must be >= 0"))
	}
	return joinErrors(errs)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return l, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
