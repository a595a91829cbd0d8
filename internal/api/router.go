package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/substratelabs/arbiter/internal/api/handlers"
	mw "github.com/substratelabs/arbiter/internal/api/middleware"
	"github.com/substratelabs/arbiter/internal/buildconfig"
	"github.com/substratelabs/arbiter/internal/config"
	"github.com/substratelabs/arbiter/internal/domain"
	"github.com/substratelabs/arbiter/internal/service"
	"github.com/substratelabs/arbiter/internal/store"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router *chi.Mux

	Registry *service.Registry
	Resolver *service.Resolver
	Monitor  *service.CoherenceMonitor
	Adapter  *service.AdaptationEngine
	Working  *store.WorkingStore

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewApp wires stores, services, and handlers. A nil pool selects the
// in-memory episodic store and contradiction log; a non-nil pool makes
// both durable in Postgres.
func NewApp(db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	// Stores
	workingStore := store.NewWorkingStore(config.WorkingMemoryTTL())
	outcomeStore := store.NewOutcomeStore(0)

	var episodicStore domain.EpisodicStore
	var contradictionLog domain.ContradictionLog
	if db != nil {
		episodicStore = store.NewPostgresEpisodicStore(db)
		contradictionLog = store.NewPostgresContradictionLog(db)
		logger.Info("using postgres-backed episodic store and contradiction log")
	} else {
		episodicStore = store.NewEpisodicStore(config.EpisodicMemoryCapacity())
		contradictionLog = store.NewContradictionLog()
	}

	// Services
	registry := service.NewRegistry(logger)
	resolver := service.NewResolver(contradictionLog, logger, service.ResolverConfig{
		Window:          config.ResolutionWindow(),
		ConfidenceFloor: config.ResolutionConfidenceFloor(),
	})
	monitor := service.NewCoherenceMonitor(logger, service.CoherenceConfig{
		WindowSize: config.CoherenceWindowSize(),
		LowWater:   config.CoherenceLowWater(),
		Interval:   config.CoherenceInterval(),
	})
	resolver.SetResidualObserver(monitor.ObserveResidual)

	adapter, err := service.NewAdaptationEngine(outcomeStore, monitor, logger, domain.DefaultParameters(), service.AdaptationConfig{
		Interval: config.AdaptationInterval(),
		StepSize: config.AdaptationStepSize(),
	})
	if err != nil {
		return nil, err
	}

	arbitrator := service.NewArbitrator(registry, workingStore, episodicStore, outcomeStore, resolver, adapter, logger, service.ArbitratorConfig{
		CallTimeout: config.BackendCallTimeout(),
	})
	submitter := service.NewSubmitter(arbitrator, logger)
	feedbackSvc := service.NewFeedbackService(outcomeStore, workingStore, episodicStore, monitor, logger)

	// Handlers
	backendHandler := handlers.NewBackendHandler(registry)
	taskHandler := handlers.NewTaskHandler(submitter)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackSvc)
	contradictionHandler := handlers.NewContradictionHandler(contradictionLog)
	telemetryHandler := handlers.NewTelemetryHandler(monitor, adapter, resolver)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Registry:  registry,
		Resolver:  resolver,
		Monitor:   monitor,
		Adapter:   adapter,
		Working:   workingStore,
		startTime: time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		// Backends
		r.Route("/backends", func(r chi.Router) {
			r.Post("/", backendHandler.Register)
			r.Get("/", backendHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", backendHandler.Get)
				r.Delete("/", backendHandler.Deregister)
			})
		})

		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.Submit)
			r.Post("/async", taskHandler.SubmitAsync)
			r.Route("/async/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.Poll)
				r.Delete("/", taskHandler.Cancel)
			})
		})

		// Feedback
		r.Post("/feedback", feedbackHandler.ReportActual)

		// Contradiction log export
		r.Get("/contradictions", contradictionHandler.List)

		// Telemetry
		r.Get("/coherence", telemetryHandler.Coherence)
		r.Get("/parameters", telemetryHandler.Parameters)
	})

	return app, nil
}

// Start launches all background services.
func (app *App) Start() {
	app.Resolver.Start()
	app.Working.Start()
	app.Monitor.Start()
	app.Adapter.Start()
}

// Stop shuts them down in reverse order, draining the resolver's append
// queue last.
func (app *App) Stop() {
	app.Adapter.Stop()
	app.Monitor.Stop()
	app.Working.Stop()
	app.Resolver.Stop()
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
			"build":      buildconfig.VersionInfo(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and services satisfy interfaces at compile time.
var (
	_ domain.WorkingStore     = (*store.WorkingStore)(nil)
	_ domain.EpisodicStore    = (*store.EpisodicStore)(nil)
	_ domain.EpisodicStore    = (*store.PostgresEpisodicStore)(nil)
	_ domain.ContradictionLog = (*store.ContradictionLog)(nil)
	_ domain.ContradictionLog = (*store.PostgresContradictionLog)(nil)
	_ domain.OutcomeStore     = (*store.OutcomeStore)(nil)
	_ service.ParameterSource = (*service.AdaptationEngine)(nil)
)
