package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gsarma/sentinel/internal/api"
	"github.com/gsarma/sentinel/internal/config"
	"github.com/gsarma/sentinel/internal/crypto"
	"github.com/gsarma/sentinel/internal/logger"
	"github.com/gsarma/sentinel/internal/metrics"
	"github.com/gsarma/sentinel/internal/oauth"
	"github.com/gsarma/sentinel/internal/redisstate"
	"github.com/gsarma/sentinel/internal/session"
	"github.com/gsarma/sentinel/internal/store"
	"github.com/gsarma/sentinel/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var envFiles []string

	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "Federated login service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before the environment")

	var mode string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and/or the state sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Mode = mode
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().StringVar(&mode, "mode", "all", "api, sweeper or all (overrides MODE)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			log := logger.New(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "sentinel"})
			defer log.Sync() //nolint:errcheck

			pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			applied, err := store.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			log.Info("migrations applied", zap.Strings("versions", applied))
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "sentinel"})
	defer log.Sync() //nolint:errcheck

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	st := store.NewStore(pool)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := m.RegisterPool(reg, pool); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	runAPI := cfg.Mode == "api" || cfg.Mode == "all"
	// Redis states expire on their own, so the sweeper only runs for postgres.
	runSweeper := (cfg.Mode == "sweeper" || cfg.Mode == "all") && cfg.StateBackend == "postgres"
	if !runAPI && !runSweeper {
		return errors.New("sweeper mode needs STATE_BACKEND=postgres")
	}

	if runSweeper {
		w := worker.New(st, cfg.SweepInterval, log, m)
		g.Go(func() error {
			w.Start(ctx)
			return nil
		})
	}

	if runAPI {
		srv, err := buildServer(cfg, pool, st, m, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("state_backend", cfg.StateBackend))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			log.Info("shutting down http server")
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("sentinel started", zap.String("mode", cfg.Mode))
	return g.Wait()
}

func buildServer(cfg *config.Config, pool *pgxpool.Pool, st *store.Store, m *metrics.Metrics, log *zap.Logger) (*http.Server, error) {
	enc, err := crypto.NewEncryptor(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token encryptor: %w", err)
	}
	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	var backend oauth.StateBackend
	switch cfg.StateBackend {
	case "redis":
		client := rdb.NewClient(&rdb.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		backend = redisstate.New(client, "")
	default:
		backend = oauth.NewSQLStateBackend(st)
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	coord := oauth.NewCoordinator(oauth.Options{
		Registry:   oauth.NewRegistry(oauth.DefaultProviders(cfg.Settings())...),
		States:     oauth.NewStateStore(backend, cfg.StateTTL),
		Linker:     oauth.NewLinker(st, enc, log),
		HTTPClient: client,
		Metrics:    m,
		Logger:     log,
	})

	if cfg.LogEnv == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(log), m.Middleware())

	h := api.NewHandler(coord, sessions, cfg.RedirectOrigins(), log).WithHealthCheck(pool.Ping)
	api.RegisterRoutes(router, h, sessions.Middleware(), m)

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
