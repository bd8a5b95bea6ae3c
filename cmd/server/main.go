package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/raktlink/platform/internal/adapters/his"
	"github.com/raktlink/platform/internal/donor"
	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/message"
	"github.com/raktlink/platform/internal/notify"
	"github.com/raktlink/platform/internal/realtime"
	requestapi "github.com/raktlink/platform/internal/request/api"
	requestinfra "github.com/raktlink/platform/internal/request/infrastructure"
	requestservice "github.com/raktlink/platform/internal/request/service"
	"github.com/raktlink/platform/internal/shared/auth"
	"github.com/raktlink/platform/internal/shared/config"
	"github.com/raktlink/platform/internal/shared/database"
	"github.com/raktlink/platform/internal/shared/events"
	"github.com/raktlink/platform/internal/shared/metrics"
	secmiddleware "github.com/raktlink/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus
	HIS    *his.Adapter
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Database is mandatory; the request lifecycle lives there
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	// Event bus is optional; without it domain events are not audited
	if cfg.EventStore.Enabled {
		bus, err := events.NewBus(ctx, cfg.EventStore)
		if err != nil {
			fmt.Printf("Warning: EventStoreDB not available: %v\n", err)
			fmt.Println("Running without the audit event stream...")
		} else {
			app.Bus = bus
			defer bus.Close()
			fmt.Println("EventStoreDB audit stream initialized")
		}
	}

	// Realtime hub and notification dispatcher
	hub := realtime.NewHub(cfg.Realtime.RoomBuffer)
	dispatcher := notify.NewDispatcher(hub, cfg.Realtime.Workers, cfg.Realtime.QueueSize)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Repositories and services
	donorRepo := donor.NewPostgresRepository(db.Pool)
	requestRepo := requestinfra.NewPostgresRepository(db.Pool)
	locator := matching.NewLocator(donorRepo, cfg.Matching.FanOutCap)

	var busPublisher events.Publisher
	if app.Bus != nil {
		busPublisher = app.Bus
	}
	requestSvc := requestservice.NewService(requestRepo, donorRepo, locator, dispatcher, busPublisher)

	// Hospital information system adapter (optional)
	if cfg.HIS.Enabled {
		adapter, err := his.New(cfg.HIS, dispatcher)
		if err != nil {
			fmt.Printf("Warning: HIS not available: %v\n", err)
		} else {
			app.HIS = adapter
			adapter.Start()
			defer adapter.Stop()
			requestSvc.WithDirectory(adapter)
			fmt.Println("Hospital information system adapter started")
		}
	}

	requestHandler := requestapi.NewHandler(requestSvc)
	donorHandler := donor.NewHandler(donorRepo)
	messageHandler := message.NewHandler(dispatcher)
	sseHandler := realtime.NewSSEHandler(hub)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(secmiddleware.InputSanitizer)
	r.Use(secmiddleware.NewIPRateLimiter(20, 40).Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))

		r.Mount("/requests", requestHandler.Routes())
		r.Mount("/donors", donorHandler.Routes())
		r.Mount("/messages", messageHandler.Routes())
		r.Method(http.MethodGet, "/stream", sseHandler)
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the SSE stream stays open indefinitely
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("Raktlink Blood Donation Platform")
	fmt.Println("============================================")
	fmt.Printf("Environment:  %s\n", cfg.Server.Env)
	fmt.Printf("Server:       http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:          http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:       http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Fan-out cap:  %d donors per request\n", cfg.Matching.FanOutCap)
	fmt.Printf("EventStore:   enabled=%v %s:%d\n", cfg.EventStore.Enabled, cfg.EventStore.Host, cfg.EventStore.Port)
	fmt.Printf("HIS adapter:  enabled=%v\n", cfg.HIS.Enabled)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Raktlink Blood Donation Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["eventstore"] = "not ready: " + err.Error()
			} else {
				checks["eventstore"] = "ready"
			}
		} else {
			checks["eventstore"] = "not configured"
		}

		if app.HIS != nil {
			if err := app.HIS.Health(r.Context()); err != nil {
				checks["his"] = "not ready: " + err.Error()
			} else {
				checks["his"] = "ready"
			}
		} else {
			checks["his"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
