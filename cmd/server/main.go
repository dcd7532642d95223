package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/surveysgeo/fieldagent/internal/api"
	"github.com/surveysgeo/fieldagent/internal/config"
	"github.com/surveysgeo/fieldagent/internal/database"
	"github.com/surveysgeo/fieldagent/internal/handler/health"
	"github.com/surveysgeo/fieldagent/internal/location"
	"github.com/surveysgeo/fieldagent/internal/metrics"
	"github.com/surveysgeo/fieldagent/internal/migrations"
	"github.com/surveysgeo/fieldagent/internal/server"
	"github.com/surveysgeo/fieldagent/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Local store ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("opened local store", "path", cfg.DBPath)

	metrics.Register()

	// --- Surveys API and session ---
	client := api.NewClient(cfg.APIBaseURL, cfg.APITimeout, logger)

	key, err := cfg.Key()
	if err != nil {
		return err
	}
	if key == nil {
		logger.Warn("STORAGE_KEY not set, credentials are stored unsealed")
	}
	sessions := session.NewManager(session.NewStore(db, key), client, logger)
	if err := sessions.Init(ctx); err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	// --- Device location ---
	deps := server.Deps{
		Logger:   logger,
		Sessions: sessions,
		API:      client,
		Store:    server.NewSQLiteStore(db),
		Proximity: server.ProximityConfig{
			MinDistance:     cfg.MinDistanceMeters,
			Timeout:         cfg.LocationTimeout,
			AutoRefresh:     cfg.AutoRefresh,
			RefreshInterval: cfg.RefreshInterval,
		},
		WebDir: cfg.WebDir,
	}
	pos, fixed, err := cfg.FixedPosition()
	if err != nil {
		return err
	}
	if fixed {
		logger.Info("using fixed device position", "position", pos.String())
		deps.Location = location.Static{Coordinate: pos}
	} else {
		feed := location.NewFeed(cfg.FixMaxAge)
		deps.Location, deps.Feed = feed, feed
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, deps, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger,
			health.Check{Name: "store", Checker: dbChecker{db}},
			health.Check{Name: "surveys_api", Checker: health.CheckFunc(client.Ping), Optional: true},
		).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr, "api", cfg.APIBaseURL)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }
