// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/KohoVolit/api.parldata.eu/internal/api"
	"github.com/KohoVolit/api.parldata.eu/internal/docstore"
	"github.com/KohoVolit/api.parldata.eu/internal/entityservice"
	"github.com/KohoVolit/api.parldata.eu/internal/mcpserver"
	"github.com/KohoVolit/api.parldata.eu/internal/metrics"
	"github.com/KohoVolit/api.parldata.eu/internal/mirror"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
	"github.com/KohoVolit/api.parldata.eu/internal/sse"
	"github.com/KohoVolit/api.parldata.eu/internal/storage"
)

// components are the long-lived parts shared by the HTTP and MCP modes.
type components struct {
	config   *Config
	logger   *slog.Logger
	db       *docstore.DB
	files    storage.Provider
	schemas  *schema.Source
	broker   *sse.Broker
	registry *prometheus.Registry
	svc      *entityservice.Service
}

func (c *components) Close() {
	c.broker.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Error("close store", slog.String("error", err.Error()))
	}
}

func setup(opts []Option) (*components, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	out := app.logOutput
	if out == nil {
		out = os.Stdout
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("files_dir", cfg.Files.Dir),
		slog.String("files_base_url", cfg.Files.BaseURL),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("schema_path", cfg.Schema.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure files directory exists.
	if err := os.MkdirAll(cfg.Files.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}

	files, err := storage.NewFS(cfg.Files.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	schemas, err := schema.OpenSource(cfg.Schema.Path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	db, err := docstore.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	reg := app.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(reg)

	fetcher := mirror.NewFetcher(mirror.FetcherConfig{
		Timeout:      cfg.Files.FetchTimeout,
		UserAgent:    cfg.Files.UserAgent,
		MaxSize:      cfg.Files.MaxSize,
		AllowPrivate: cfg.Files.AllowPrivate,
	})
	mir := mirror.New(mirror.Config{
		BaseURL:   cfg.Files.BaseURL,
		FullFetch: cfg.Files.FullFetch,
	}, fetcher, files, logger, m)

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	svc := entityservice.NewService(entityservice.Deps{
		Store:   db,
		Schemas: schemas,
		Mirror:  mir,
		Events:  broker,
		Logger:  logger,
		Metrics: m,
	})

	return &components{
		config:   cfg,
		logger:   logger,
		db:       db,
		files:    files,
		schemas:  schemas,
		broker:   broker,
		registry: reg,
		svc:      svc,
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := c.config
	logger := c.logger

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	// Mirrored files.
	r.Mount("/files", api.NewFilesRouter(c.files.Root()))

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Reload the schema registry when its file changes.
	if cfg.Schema.Watch && c.schemas.Path() != "" {
		g.Go(func() error {
			if err := c.schemas.Watch(gCtx, logger, nil); err != nil {
				logger.Error("schema watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown stops the errgroup so that background watchers exit with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the read-only MCP tools on stdin/stdout.
func RunMCP(_ context.Context, opts ...Option) error {
	c, err := setup(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	c.logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.svc).ServeStdio()
}
