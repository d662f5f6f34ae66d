// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Storage backends for session and lockout state.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// User store choices.
const (
	UserStorePostgres = "postgres"
	UserStoreMemory   = "memory"
)

// Config holds all env configuration vars for Warden.
type Config struct {
	Port     string
	LogLevel slog.Level

	// StorageBackend selects where sessions and lockout state live. Default memory.
	StorageBackend string
	DatabaseURL    string
	RedisURL       string
	SQLitePath     string

	// UserStore selects the user directory. Default postgres.
	UserStore string

	// Lockout policy. Defaults: 5 failures within 15m locks for 15m.
	LockoutMaxAttempts int
	LockoutDuration    time.Duration

	// Session lifetimes. Defaults: 8h absolute, 2h inactivity.
	SessionAbsoluteTTL   time.Duration
	SessionInactivityTTL time.Duration

	// PBKDF2Iterations for new credentials. Raised to the minimum if lower.
	// Values past the uint32 range are rejected.
	PBKDF2Iterations uint32

	// CookieSecure adds Secure and the __Host- prefix to cookies.
	// Default true; set COOKIE_SECURE=false for plain-HTTP local development.
	CookieSecure bool

	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Default false; only enable behind a proxy that overwrites those headers,
	// otherwise any client can pick its own throttle bucket.
	TrustProxyHeaders bool

	// Per-IP throttle on /login and /register. Defaults: 5/s, burst 10.
	// A rate of 0 disables throttling.
	RateLoginPerSecond float64
	RateLoginBurst     int

	// Bootstrap admin, created at startup if both are set and the email is unused.
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// LoadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads environment variables and returns a validated Config.
// If WARDEN_CONFIG names a TOML file, its keys (lowercase variable names,
// e.g. lockout_max_attempts = 5) supply values for any variable the
// environment leaves unset.
func LoadConfig() (*Config, error) {
	src, err := newSource(os.Getenv("WARDEN_CONFIG"))
	if err != nil {
		return nil, err
	}

	// Create config obj
	cfg := &Config{}

	// Attempt to get port num, default to 7865
	cfg.Port = src.get("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	// Parse log level, default to info
	switch strings.ToLower(src.get("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.StorageBackend = strings.ToLower(src.get("STORAGE_BACKEND"))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = BackendMemory
	}
	cfg.UserStore = strings.ToLower(src.get("USER_STORE"))
	if cfg.UserStore == "" {
		cfg.UserStore = UserStorePostgres
	}
	cfg.DatabaseURL = src.get("DATABASE_URL")
	cfg.RedisURL = src.get("REDIS_URL")
	cfg.SQLitePath = src.get("SQLITE_PATH")

	switch cfg.StorageBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			cfg.SQLitePath = "warden.db"
		}
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND %q is not one of memory, redis, postgres, sqlite", cfg.StorageBackend)
	}

	switch cfg.UserStore {
	case UserStorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required unless USER_STORE=memory")
		}
	case UserStoreMemory:
	default:
		return nil, fmt.Errorf("USER_STORE %q is not one of postgres, memory", cfg.UserStore)
	}

	// Invalid policy values fall back to the default so a typo can't disable the lockout.
	cfg.LockoutMaxAttempts = src.envInt("LOCKOUT_MAX_ATTEMPTS", 5)
	cfg.LockoutDuration = src.envDuration("LOCKOUT_DURATION", 15*time.Minute)

	cfg.SessionAbsoluteTTL = src.envDuration("SESSION_ABSOLUTE_TTL", 8*time.Hour)
	cfg.SessionInactivityTTL = src.envDuration("SESSION_INACTIVITY_TTL", 2*time.Hour)

	cfg.PBKDF2Iterations, err = src.envUint32("PBKDF2_ITERATIONS", 100_000)
	if err != nil {
		return nil, err
	}

	cfg.TrustProxyHeaders = src.get("TRUST_PROXY_HEADERS") == "true"

	// Default true -- only explicit "false" disables.
	cfg.CookieSecure = src.get("COOKIE_SECURE") != "false"

	cfg.RateLoginPerSecond = src.envFloat("RATE_LOGIN_PER_SECOND", 5)
	cfg.RateLoginBurst = src.envInt("RATE_LOGIN_BURST", 10)

	cfg.BootstrapAdminEmail = src.get("BOOTSTRAP_ADMIN_EMAIL")
	cfg.BootstrapAdminPassword = src.get("BOOTSTRAP_ADMIN_PASSWORD")
	if (cfg.BootstrapAdminEmail == "") != (cfg.BootstrapAdminPassword == "") {
		return nil, fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	return cfg, nil
}

// source resolves a variable from the environment, then the config file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	s := source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return s, fmt.Errorf("reading config file %s: %w", path, err)
	}
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			s.file[strings.ToLower(k)] = v
		case int64, float64, bool:
			s.file[strings.ToLower(k)] = fmt.Sprint(v)
		default:
			return s, fmt.Errorf("config file %s: key %q must be a string, number, or bool", path, k)
		}
	}
	return s, nil
}

func (s source) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[strings.ToLower(key)]
}

// envInt reads a var as int, returning def if missing or unparseable.
func (s source) envInt(key string, def int) int {
	v := s.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envUint32 reads a var as uint32, returning def if missing, unparseable, or
// zero. A number too large for uint32 is an error rather than a silent wrap.
func (s source) envUint32(key string, def uint32) (uint32, error) {
	v := s.get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if errors.Is(err, strconv.ErrRange) || (err == nil && n > math.MaxUint32) {
		return 0, fmt.Errorf("%s %q exceeds %d", key, v, uint32(math.MaxUint32))
	}
	if err != nil || n == 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def, nil
	}
	return uint32(n), nil
}

// envFloat reads a var as float64, returning def if missing or unparseable.
// Zero is allowed.
func (s source) envFloat(key string, def float64) float64 {
	v := s.get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

// envDuration reads a var as time.Duration, returning def if missing or unparseable.
func (s source) envDuration(key string, def time.Duration) time.Duration {
	v := s.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
