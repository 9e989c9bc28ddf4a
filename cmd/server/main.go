// Touch Grass shell server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mwakai/touch-grass/internal/api"
	"github.com/mwakai/touch-grass/internal/authapi"
	"github.com/mwakai/touch-grass/internal/config"
	"github.com/mwakai/touch-grass/internal/events"
	"github.com/mwakai/touch-grass/internal/guard"
	"github.com/mwakai/touch-grass/internal/identity"
	"github.com/mwakai/touch-grass/internal/metrics"
	"github.com/mwakai/touch-grass/internal/middleware"
	"github.com/mwakai/touch-grass/internal/probe"
	"github.com/mwakai/touch-grass/internal/session"
	"github.com/mwakai/touch-grass/internal/store"
	"github.com/mwakai/touch-grass/internal/sweeper"
	"github.com/mwakai/touch-grass/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.SlogLevel())

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, store.Options{
		Backend:   cfg.StoreBackend,
		DBPath:    cfg.DBPath,
		RedisAddr: cfg.RedisAddr,
		DeviceTTL: cfg.DeviceTTL,
	})
	if err != nil {
		slog.Error("Failed to initialize credential store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Credential store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Credential store connected")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promReg)

	idp := authapi.New(authapi.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		RateLimit: cfg.APIRateLimit,
		Burst:     int(cfg.APIRateLimit) * 2,
	}, collector, logger)

	// Initialize services.
	hub := events.NewHub()
	registry := session.NewRegistry(func(deviceID string) *session.Store {
		return session.New(deviceID, session.Deps{
			Identity:    idp,
			Persistence: store.Scoped(repo, deviceID),
			Notifier:    hub,
			Recorder:    collector,
			Logger:      logger,
		})
	}, logger)
	routeGuard := guard.New(guard.MustTable(guard.DefaultRoutes()))

	collector.Gauge("touchgrass_sessions_active", "Sessions held in memory.", registry.Len)
	collector.Gauge("touchgrass_event_subscribers", "Connected session event subscribers.", hub.Count)

	// Initialize handlers.
	baseHandler := api.NewHandler(registry, routeGuard, collector)
	authHandler := api.NewAuthHandler(baseHandler, cfg.AuthRateLimit)
	navigateHandler := api.NewNavigateHandler(baseHandler)
	kidsHandler := api.NewKidsHandler(baseHandler, idp)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	wsHandler := events.NewHandler(hub, baseHandler.Snapshot, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.SecurityHeaders(cfg.IsDevelopment()))

	// Public routes.
	r.Handle("/metrics", metrics.Handler(promReg))
	healthHandler.RegisterRoutes(r)

	// Device-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		authHandler.RegisterRoutes(r)
		navigateHandler.RegisterRoutes(r)
		kidsHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/session", wsHandler.ServeHTTP)

		// Serve embedded frontend (SPA catch-all), guarded per page route.
		r.With(guard.Middleware(routeGuard, baseHandler.Snapshot, collector)).
			Handle("/*", web.SPAHandler())
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // websocket subscribers are long-lived
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	sw := sweeper.New(repo, registry, sweeper.Config{
		Interval:       cfg.SweepInterval,
		DeviceTTL:      cfg.DeviceTTL,
		SessionIdleTTL: cfg.SessionIdleTTL,
	}, hub.CloseDevice, collector)
	g.Go(func() error { return sw.Run(gctx) })

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "addr", cfg.GRPCHealthAddr, "error", err)
			os.Exit(1)
		}
		p := probe.New(repo, 10*time.Second, logger)
		g.Go(func() error { return p.Serve(gctx, lis) })
		g.Go(func() error { return p.Watch(gctx) })
	} else {
		slog.Info("gRPC health server disabled (GRPC_HEALTH_ADDR not set)")
	}

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		stop()
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
