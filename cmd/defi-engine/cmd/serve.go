package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aptpay/defi-engine/internal/api"
	"github.com/aptpay/defi-engine/internal/config"
	"github.com/aptpay/defi-engine/internal/engine"
	"github.com/aptpay/defi-engine/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine behind the HTTP and WebSocket API",
	Long: `Start the feed ticker and serve the API until interrupted.

Storage is chosen from the environment:
  DATABASE_URL  journal entries are written to PostgreSQL
  REDIS_URL     recent entries are cached and quotes published on Redis

Example:
  PORT=8080 defi-engine serve -c engine.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// backends holds the journal and optional Redis client chosen for serve.
type backends struct {
	journal store.Journal
	rdb     *redis.Client
	cleanup []func()
}

func (b *backends) close() {
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		b.cleanup[i]()
	}
}

func openBackends(ctx context.Context, sc config.ServerConfig) (*backends, error) {
	b := &backends{}

	if sc.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, sc.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		b.cleanup = append(b.cleanup, pool.Close)
		pg := store.NewPostgresJournal(pool)
		if err := pg.Migrate(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		b.journal = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory journal (data will not persist)")
		b.journal = store.NewMemoryJournal()
	}

	if sc.RedisURL != "" {
		opt, err := redis.ParseURL(sc.RedisURL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		b.cleanup = append(b.cleanup, func() { rdb.Close() })
		b.rdb = rdb
		b.journal = store.NewCachedJournal(b.journal, rdb, sc.JournalCacheSize)
		slog.Info("Redis cache and quote publishing enabled")
	}
	return b, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg.Server)
	if err != nil {
		return err
	}
	defer b.close()

	hub := api.NewWSHub()
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithJournal(b.journal),
		engine.WithPublisher(hub),
	}
	if b.rdb != nil {
		opts = append(opts, engine.WithPublisher(store.NewPublisher(b.rdb)))
	}
	eng, err := engine.New(cfg.EngineConfig(), opts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(api.NewHandler(eng, b.journal), hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		eng.Start(gctx)
		<-gctx.Done()
		return eng.Close()
	})
	g.Go(func() error {
		slog.Info("defi-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down defi-engine...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("defi-engine stopped")
	return nil
}
