package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/metrics"
	"github.com/Smart-Samurai/Krapi-sub010/internal/server"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

const banner = `
 _  __ ___    _   ___ ___
| |/ /| _ \  /_\ | _ \_ _|
| ' < |   / / _ \|  _/| |
|_|\_\|_|_\/_/ \_\_| |___|
`

// deadLetterReplayInterval is how often serve retries parked changelog entries.
const deadLetterReplayInterval = 5 * time.Minute

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Krapi auth server",
		Long:  "Start the HTTP server that exposes login, session, admin user, API key and changelog endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 3470, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(parent context.Context, dev bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(os.Stderr, cfg.Logging, dev)
	m := metrics.New()

	a, err := newApp(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	logger.Info("store initialized", "driver", a.store.Driver(), "sessions", cfg.Sessions.Backend)

	if cfg.Auth.Seed.Enabled {
		created, err := a.seed(ctx)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if created {
			logger.Warn("created default master admin, change its password", "username", cfg.Auth.Seed.Username)
		}
	}

	if n, err := a.audit.ReplayDeadLetters(ctx); err != nil {
		logger.Warn("dead-letter replay failed", "error", err)
	} else if n > 0 {
		logger.Info("replayed dead-lettered changelog entries", "count", n)
	}

	if spec := cfg.Sessions.PurgeSchedule; spec != "" {
		janitor, err := service.NewSessionJanitor(a.sessions, spec, config.Duration(cfg.Sessions.PurgeAfter, 7*24*time.Hour), logger)
		if err != nil {
			return err
		}
		janitor.Start()
		defer janitor.Stop()
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		BasePath:        cfg.Server.BasePath,
		ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second),
		CORSOrigins:     cfg.Server.CORS.Origins,
		CORSMethods:     cfg.Server.CORS.Methods,
		MaxBodySize:     config.ByteSize(cfg.Server.MaxBodySize, 1<<20),
		LoginRateLimit:  cfg.Server.LoginRateLimit,
		Version:         versionString(),
	}
	if cfg.Server.TLS.Enabled {
		srvCfg.TLSCertFile = cfg.Server.TLS.CertFile
		srvCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}

	srv := server.New(srvCfg, server.Deps{
		Auth:      a.auth,
		Admins:    a.admins,
		Changelog: a.changelog,
		Guard:     a.guard,
		Metrics:   m,
		Checks:    a.checks(),
		Logger:    logger,
	})

	scheme := "http"
	if srvCfg.TLSCertFile != "" {
		scheme = "https"
	}
	fmt.Printf("→ Krapi %s\n", versionString())
	fmt.Printf("→ Listening on %s://%s%s\n", scheme, srv.Addr(), srvCfg.BasePath)
	fmt.Printf("→ OpenAPI:    %s://%s%s/openapi.json\n", scheme, srv.Addr(), srvCfg.BasePath)
	fmt.Printf("→ Health:     %s://%s/healthz\n", scheme, srv.Addr())
	fmt.Println()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		replayDeadLetters(gctx, a, logger)
		return nil
	})
	return g.Wait()
}

// replayDeadLetters retries parked changelog entries until ctx is done.
func replayDeadLetters(ctx context.Context, a *app, logger *slog.Logger) {
	ticker := time.NewTicker(deadLetterReplayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.audit.ReplayDeadLetters(ctx)
			if err != nil {
				logger.Warn("dead-letter replay failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("replayed dead-lettered changelog entries", "count", n)
			}
		}
	}
}
