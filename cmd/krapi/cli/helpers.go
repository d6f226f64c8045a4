package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Smart-Samurai/Krapi-sub010/internal/audit"
	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/metrics"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
	"github.com/Smart-Samurai/Krapi-sub010/internal/redisstore"
	"github.com/Smart-Samurai/Krapi-sub010/internal/server"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KRAPI_DATA_DIR env var, or ~/.krapi as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KRAPI_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".krapi")
}

// loadConfig reads the config file viper located, if any, then applies
// flag and KRAPI_* environment overrides.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.LoadYAMLConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else if cfgFile != "" {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.YAMLConfig) {
	overrideString := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	overrideString("server.host", &cfg.Server.Host)
	overrideString("server.base_path", &cfg.Server.BasePath)
	overrideString("store.driver", &cfg.Store.Driver)
	overrideString("store.dsn", &cfg.Store.DSN)
	overrideString("sessions.backend", &cfg.Sessions.Backend)
	overrideString("sessions.redis.addr", &cfg.Sessions.Redis.Addr)
	overrideString("sessions.redis.password", &cfg.Sessions.Redis.Password)
	overrideString("auth.seed.password", &cfg.Auth.Seed.Password)
	overrideString("logging.level", &cfg.Logging.Level)
	overrideString("logging.format", &cfg.Logging.Format)
	if viper.IsSet("server.port") {
		cfg.Server.Port = viper.GetInt("server.port")
	}
}

// newLogger builds the process logger from the logging section. Debug
// output is forced on in dev mode.
func newLogger(w io.Writer, lc config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the configured database. SQLite lives under the data dir.
func openStore(ctx context.Context, cfg *config.YAMLConfig) (*config.Store, error) {
	opts := config.StoreOptions{
		Driver:          cfg.Store.Driver,
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: config.Duration(cfg.Store.ConnMaxLifetime, 5*time.Minute),
	}
	if opts.Driver == "" || opts.Driver == config.DriverSQLite {
		opts.DataDir = resolveDataDir()
	}
	store, err := config.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// app is the set of services one process runs on. serve builds it once and
// the administrative commands build a short-lived one.
type app struct {
	cfg   *config.YAMLConfig
	log   *slog.Logger
	store *config.Store
	redis *redisstore.Store
	audit *audit.Dispatcher

	creds     *service.CredentialStore
	sessions  *service.SessionManager
	guard     *service.Guard
	keys      *service.APIKeyRegistry
	auth      *service.AuthService
	admins    *service.AdminManager
	changelog *service.ChangelogReader
}

func newApp(ctx context.Context, cfg *config.YAMLConfig, logger *slog.Logger, m *metrics.Metrics) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger, store: store}

	var sessions service.SessionStore = store
	if cfg.Sessions.Backend == "redis" {
		rs, err := redisstore.Open(ctx, cfg.Sessions.Redis)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.redis = rs
		sessions = rs
	}

	a.creds, err = service.NewCredentialStore(store, cfg.Auth.BcryptCost)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	clock := service.SystemClock()
	a.sessions = service.NewSessionManager(sessions, clock, config.Duration(cfg.Auth.SessionTTL, 24*time.Hour))
	a.guard = service.NewGuard(a.sessions, a.creds)
	a.keys = service.NewAPIKeyRegistry(store, clock, logger)
	a.audit = audit.New(store, audit.Options{
		QueueSize:      cfg.Audit.QueueSize,
		Workers:        cfg.Audit.Workers,
		MaxElapsedTime: config.Duration(cfg.Audit.MaxElapsedTime, 30*time.Second),
		Logger:         logger,
		Metrics:        m,
	})
	a.audit.Start()

	a.auth = service.NewAuthService(service.AuthDeps{
		Credentials: a.creds,
		Keys:        a.keys,
		Sessions:    a.sessions,
		Guard:       a.guard,
		Admins:      store,
		Audit:       a.audit,
		Clock:       clock,
		Logger:      logger,
	})
	a.admins = service.NewAdminManager(store, a.creds, a.guard, a.audit, clock)
	a.changelog = service.NewChangelogReader(store, a.guard)
	return a, nil
}

// checks are the dependencies /readyz pings.
func (a *app) checks() map[string]server.Pinger {
	c := map[string]server.Pinger{"store": a.store}
	if a.redis != nil {
		c["redis"] = a.redis
	}
	return c
}

// seed creates the configured master admin on an empty store.
func (a *app) seed(ctx context.Context) (bool, error) {
	s := a.cfg.Auth.Seed
	return service.SeedDefaultAdmin(ctx, a.store, a.creds, service.SeedParams{
		Username: s.Username,
		Email:    s.Email,
		Password: s.Password,
	})
}

// operator resolves the account an administrative command acts as. An empty
// identifier selects the first active master_admin.
func (a *app) operator(ctx context.Context, identifier string) (*service.AuthContext, error) {
	var u *model.AdminUser
	if identifier != "" {
		found, err := a.store.GetAdminByIdentifier(ctx, identifier)
		if err != nil {
			if errors.Is(err, config.ErrNotFound) {
				return nil, fmt.Errorf("operator %q not found", identifier)
			}
			return nil, err
		}
		u = found
	} else {
		admins, err := a.store.ListAdmins(ctx)
		if err != nil {
			return nil, err
		}
		for i := range admins {
			if admins[i].Active && admins[i].IsMaster() {
				u = &admins[i]
				break
			}
		}
		if u == nil {
			return nil, fmt.Errorf("no active master_admin found, pass --as")
		}
	}
	if !u.Active {
		return nil, fmt.Errorf("operator %q is inactive", u.Username)
	}
	return &service.AuthContext{
		Principal: u,
		Scopes:    service.DeriveFromRole(u.Role, u.Permissions),
	}, nil
}

// Close flushes pending changelog entries and closes the stores.
func (a *app) Close(ctx context.Context) error {
	err := a.audit.Close(ctx)
	if cerr := a.closeStores(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) closeStores() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// withApp loads the config, runs fn against a short-lived app and flushes
// the audit queue before returning.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(os.Stderr, cfg.Logging, false), nil)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// promptPassword reads a password twice from the terminal without echo.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
