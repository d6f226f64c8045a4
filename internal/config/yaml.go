package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level krapi configuration file.
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	BasePath        string     `yaml:"base_path"`
	MaxBodySize     string     `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	LoginRateLimit  int        `yaml:"login_rate_limit"` // requests per minute per IP
	CORS            CORSConfig `yaml:"cors"`
	TLS             TLSConfig  `yaml:"tls"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StoreConfig selects the database for accounts, keys, sessions and the changelog.
type StoreConfig struct {
	Driver          string `yaml:"driver"` // sqlite, postgres, mysql
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// AuthConfig controls credential handling.
type AuthConfig struct {
	SessionTTL string    `yaml:"session_ttl"`
	BcryptCost int       `yaml:"bcrypt_cost"`
	Seed       SeedAdmin `yaml:"seed"`
}

// SeedAdmin is the master admin created when the store has no accounts.
type SeedAdmin struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// SessionsConfig selects where sessions live and how they are cleaned up.
type SessionsConfig struct {
	Backend       string      `yaml:"backend"` // sql or redis
	Redis         RedisConfig `yaml:"redis"`
	PurgeSchedule string      `yaml:"purge_schedule"` // cron spec, empty disables
	PurgeAfter    string      `yaml:"purge_after"`
}

// RedisConfig describes the Redis session backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuditConfig tunes the asynchronous changelog writer.
type AuditConfig struct {
	QueueSize      int    `yaml:"queue_size"`
	Workers        int    `yaml:"workers"`
	MaxElapsedTime string `yaml:"max_elapsed_time"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Fields absent from the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3470,
			BasePath:        "/krapi/k1",
			MaxBodySize:     "1MB",
			ShutdownTimeout: "30s",
			LoginRateLimit:  20,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Store: StoreConfig{
			Driver:          DriverSQLite,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
		},
		Auth: AuthConfig{
			SessionTTL: "24h",
			BcryptCost: 10,
			Seed: SeedAdmin{
				Enabled:  true,
				Username: "admin",
				Email:    "admin@krapi.local",
				Password: "admin123",
			},
		},
		Sessions: SessionsConfig{
			Backend:       "sql",
			PurgeSchedule: "@hourly",
			PurgeAfter:    "168h",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "krapi:session:",
			},
		},
		Audit: AuditConfig{
			QueueSize:      1024,
			Workers:        2,
			MaxElapsedTime: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks enumerations and duration strings.
func (c *YAMLConfig) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver)
	}
	switch c.Sessions.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("sessions.backend: unsupported backend %q", c.Sessions.Backend)
	}
	for name, v := range map[string]string{
		"auth.session_ttl":        c.Auth.SessionTTL,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"sessions.purge_after":    c.Sessions.PurgeAfter,
		"audit.max_elapsed_time":  c.Audit.MaxElapsedTime,
		"store.conn_max_lifetime": c.Store.ConnMaxLifetime,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration field, falling back to def when empty or invalid.
func Duration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ByteSize parses sizes such as "512KB" or "10MB", falling back to def when
// empty or invalid. A bare number is bytes.
func ByteSize(v string, def int64) int64 {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(v, u.suffix) {
			v, mult = strings.TrimSpace(strings.TrimSuffix(v, u.suffix)), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n * mult
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
