package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ducminhle1904/crypto-risk-core/internal/engine"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// RiskController is the part of the risk manager the control API drives.
type RiskController interface {
	EmergencyStop(ctx context.Context, reason string) (risk.StopResult, error)
	Resume(ctx context.Context) error
	ForceArm(ctx context.Context, token, reason string, resetPeak bool) error
	Status() risk.Status
	Snapshot() performance.PerformanceSnapshot
	SnapshotHistory(limit int) []performance.PerformanceSnapshot
	TripHistory() []safety.TripRecord
}

// StopHandler reacts to an emergency stop raised through the API. The engine
// flattens positions here when the stop is a first activation.
type StopHandler interface {
	OnEmergencyStop(ctx context.Context, result risk.StopResult) error
}

// EngineView exposes trading loop counters.
type EngineView interface {
	Stats() engine.Stats
}

// Options wires the control API. Risk is required; the rest are optional.
type Options struct {
	Risk           RiskController
	OnStop         StopHandler
	Engine         EngineView
	Health         http.Handler
	Metrics        http.Handler
	Limiter        *safety.RateLimiter
	Logger         *logger.Logger
	FlattenTimeout time.Duration
}

// NewRouter builds the control API.
//
//	POST /risk/emergency-stop       raise the stop {reason}
//	POST /risk/resume               clear the stop, 409 when not active
//	GET  /risk/status               consolidated risk status
//	GET  /risk/performance          on-demand performance snapshot
//	GET  /risk/performance/history  rolled-up snapshots, ?limit=N
//	GET  /risk/trips                circuit breaker trip history
//	POST /risk/override/arm         force re-arm, X-Override-Token required
//	GET  /risk/engine               trading loop counters
//	GET  /health                    health check
//	GET  /metrics                   Prometheus exposition
func NewRouter(opts Options) *mux.Router {
	opts = opts.withDefaults()
	log := opts.Logger.With("API")
	h := &handlers{
		risk:           opts.Risk,
		onStop:         opts.OnStop,
		engine:         opts.Engine,
		log:            log,
		flattenTimeout: opts.FlattenTimeout,
	}

	router := mux.NewRouter()
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))

	r := router.PathPrefix("/risk").Subrouter()
	if opts.Limiter != nil {
		r.Use(rateLimitMiddleware(opts.Limiter))
	}
	r.HandleFunc("/emergency-stop", h.emergencyStop).Methods(http.MethodPost)
	r.HandleFunc("/resume", h.resume).Methods(http.MethodPost)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/performance", h.performance).Methods(http.MethodGet)
	r.HandleFunc("/performance/history", h.performanceHistory).Methods(http.MethodGet)
	r.HandleFunc("/trips", h.trips).Methods(http.MethodGet)
	r.HandleFunc("/override/arm", h.overrideArm).Methods(http.MethodPost)
	r.HandleFunc("/engine", h.engineStats).Methods(http.MethodGet)

	if opts.Health != nil {
		router.Handle("/health", opts.Health).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	return router
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	if o.FlattenTimeout <= 0 {
		o.FlattenTimeout = 2 * time.Minute
	}
	return o
}

// Server runs the control API until Shutdown.
type Server struct {
	http *http.Server
	log  *logger.Logger
}

func NewServer(addr string, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(opts),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      opts.FlattenTimeout + 15*time.Second,
		},
		log: opts.Logger.With("API"),
	}
}

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Status("control API listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
