// Package api exposes the trust engine via REST/JSON.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustengine/backend/internal/engine"
	"github.com/trustengine/backend/internal/ingest"
	"github.com/trustengine/backend/internal/middleware"
)

// Server wires the engine and its supporting sources into HTTP routes.
type Server struct {
	engine    *engine.Engine
	alerts    *ingest.SimulatedAlertSource
	synthetic *ingest.SyntheticSource
	limiter   *middleware.RateLimiter
}

// NewServer creates the API server. A nil limiter disables rate limiting.
func NewServer(eng *engine.Engine, limiter *middleware.RateLimiter) *Server {
	return &Server{
		engine:    eng,
		alerts:    ingest.NewSimulatedAlertSource(),
		synthetic: ingest.NewSyntheticSource(),
		limiter:   limiter,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	// Decision pipeline. OPTIONS is registered on mutating routes so the
	// CORS middleware sees preflight requests; mux only runs middleware on
	// matched routes.
	r.HandleFunc("/telemetry", s.handleTelemetry).Methods("POST", "OPTIONS")
	r.HandleFunc("/telemetry/synthetic", s.handleSyntheticTelemetry).Methods("POST", "OPTIONS")
	r.HandleFunc("/trust_score", s.handleTrustScore).Methods("GET")

	// Challenge lifecycle
	r.HandleFunc("/mfa/challenge", s.handleChallenge).Methods("POST", "OPTIONS")
	r.HandleFunc("/mfa/verify", s.handleVerify).Methods("POST", "OPTIONS")

	// Session inspection
	r.HandleFunc("/sessions/{session_id}", s.handleSession).Methods("GET")

	// SIEM simulation
	r.HandleFunc("/siem/simulation/alerts", s.handleSimulatedAlerts).Methods("GET")
	r.HandleFunc("/siem/simulation/process", s.handleProcessAlerts).Methods("POST", "OPTIONS")

	// Operational
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// Start serves the API on the given port. Blocks until the listener fails.
func (s *Server) Start(port string) error {
	addr := fmt.Sprintf(":%s", port)
	slog.Info("API server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
