package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/board"
)

type config struct {
	Debug bool

	StorageConnStr string
	TasksTable     string
	EventsQueue    string

	// Redis is nil when REDIS_CONNECTION_STRING is unset; caching and drop
	// deduplication are then disabled.
	Redis        *redis.Options
	CacheTTL     time.Duration
	DeduperTTL   time.Duration
	JWKSCacheTTL time.Duration

	TestMode      bool
	TestSecret    string
	Auth0Domain   string
	Auth0Audience string

	Reconcile board.ReconcilerConfig

	ListenAddr string
}

func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		StorageConnStr: getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:     getenv("TASKS_TABLE"),
		EventsQueue:    getenv("STATUS_EVENTS_QUEUE"),
		CacheTTL:       time.Minute,
		DeduperTTL:     24 * time.Hour,
		ListenAddr:     ":8080",
	}
	if dbg, err := strconv.ParseBool(getenv("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	if cfg.StorageConnStr == "" || cfg.TasksTable == "" {
		return cfg, errors.New("missing storage config")
	}

	if raw := getenv("REDIS_CONNECTION_STRING"); raw != "" {
		cfg.Redis = parseRedisConn(raw)
	}
	var err error
	if cfg.CacheTTL, err = durationEnv(getenv, "TASKS_CACHE_TTL", cfg.CacheTTL, true); err != nil {
		return cfg, err
	}
	if cfg.DeduperTTL, err = durationEnv(getenv, "DEDUPER_TTL", cfg.DeduperTTL, false); err != nil {
		return cfg, err
	}
	if cfg.JWKSCacheTTL, err = durationEnv(getenv, "JWKS_CACHE_TTL", 0, true); err != nil {
		return cfg, err
	}

	cfg.TestMode = getenv("AUTH0_TEST_MODE") == "1"
	if cfg.TestMode {
		cfg.TestSecret = getenv("TEST_JWT_SECRET")
		if cfg.TestSecret == "" {
			return cfg, errors.New("AUTH0_TEST_MODE requires TEST_JWT_SECRET")
		}
	} else {
		cfg.Auth0Domain = getenv("AUTH0_DOMAIN")
		cfg.Auth0Audience = getenv("AUTH0_AUDIENCE")
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			return cfg, errors.New("missing Auth0 config")
		}
	}

	if cfg.Reconcile.Policy, err = board.ParsePolicy(getenv("RECONCILE_POLICY")); err != nil {
		return cfg, err
	}
	if v := getenv("RECONCILE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid RECONCILE_MAX_ATTEMPTS: %w", err)
		}
		if n <= 0 {
			return cfg, errors.New("invalid RECONCILE_MAX_ATTEMPTS: must be greater than zero")
		}
		cfg.Reconcile.MaxAttempts = n
	}
	if cfg.Reconcile.RetryInitial, err = durationEnv(getenv, "RECONCILE_RETRY_INITIAL", 0, false); err != nil {
		return cfg, err
	}
	if cfg.Reconcile.RetryMax, err = durationEnv(getenv, "RECONCILE_RETRY_MAX", 0, false); err != nil {
		return cfg, err
	}
	if cfg.Reconcile.CallTimeout, err = durationEnv(getenv, "RECONCILE_CALL_TIMEOUT", 0, false); err != nil {
		return cfg, err
	}
	if v := getenv("RECONCILE_RETRY_JITTER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return cfg, fmt.Errorf("invalid RECONCILE_RETRY_JITTER %q: must be between 0 and 1", v)
		}
		if f == 0 {
			f = -1
		}
		cfg.Reconcile.Jitter = f
	}

	if port := getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	return cfg, nil
}

// durationEnv parses key as a time.Duration. Zero is accepted only when
// allowZero is set; it disables the feature the value controls.
func durationEnv(getenv func(string) string, key string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

// parseRedisConn accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func parseRedisConn(raw string) *redis.Options {
	if opts, err := redis.ParseURL(raw); err == nil {
		return opts
	}
	parts := strings.Split(raw, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
