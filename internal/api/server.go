// Package api implements the thin HTTP boundary surface named in §4.10:
// JSON request/response routes for telemetry ingest, mission-phase
// control, and introspection, plus a minimal non-authoritative API-key
// check. This is the one layer of the system exposed to a network
// caller; every decision is still made by the internal pipeline.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/astraguard/astraguard/internal/anomaly"
	"github.com/astraguard/astraguard/internal/errs"
	"github.com/astraguard/astraguard/internal/escalation"
	"github.com/astraguard/astraguard/internal/handler"
	"github.com/astraguard/astraguard/internal/history"
	"github.com/astraguard/astraguard/internal/reliability"
	"github.com/astraguard/astraguard/internal/telemetry"
)

// Server wires the HTTP routes to the internal decision pipeline.
type Server struct {
	detector     *anomaly.Detector
	handler      *handler.Handler
	stateMachine *escalation.StateMachine
	hist         *history.History
	health       *reliability.HealthMonitor
	bounds       telemetry.Bounds

	apiKey       string
	maxBatchSize int

	log *zap.Logger
}

// New constructs a Server. apiKey="" disables the X-API-Key check.
func New(detector *anomaly.Detector, h *handler.Handler, sm *escalation.StateMachine, hist *history.History, health *reliability.HealthMonitor, apiKey string, maxBatchSize int, log *zap.Logger) *Server {
	if maxBatchSize <= 0 {
		maxBatchSize = 1000
	}
	return &Server{
		detector:     detector,
		handler:      h,
		stateMachine: sm,
		hist:         hist,
		health:       health,
		bounds:       telemetry.DefaultBounds(),
		apiKey:       apiKey,
		maxBatchSize: maxBatchSize,
		log:          log,
	}
}

// Mux builds the http.Handler for every route, wrapped in the API-key
// boundary check.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/telemetry", s.handleTelemetry)
	mux.HandleFunc("POST /api/v1/telemetry/batch", s.handleTelemetryBatch)
	mux.HandleFunc("GET /api/v1/telemetry/latest", s.handleTelemetryLatest)
	mux.HandleFunc("GET /api/v1/phase", s.handleGetPhase)
	mux.HandleFunc("POST /api/v1/phase", s.handleSetPhase)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/history/anomalies", s.handleHistoryAnomalies)
	mux.HandleFunc("GET /api/v1/memory/stats", s.handleMemoryStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withAPIKey(mux)
}

// ListenAndServe starts the HTTP server on addr, blocking until ctx is
// cancelled or the server fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Mux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server on %s: %w", addr, err)
	}
	return nil
}

// withAPIKey enforces the X-API-Key header when an API key is
// configured. This is a minimal boundary guard, not an authoritative
// access-control system (§4.10): it neither rate-limits nor rotates keys.
func (s *Server) withAPIKey(next http.Handler) http.Handler {
	if s.apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, errs.Validation("api.withAPIKey", fmt.Errorf("missing or invalid X-API-Key")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	if errs.Is(err, errs.KindValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
