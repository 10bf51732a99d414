// Package api provides the minimal operational HTTP surface: health, a
// Prometheus-style metrics summary, and the recent decision record feed
// (spec §2.1's "status endpoint", not a trading dashboard). Grounded on the
// teacher's mux+cors HTTP server, trimmed of its backtest/WebSocket surface
// which has no equivalent operation in this engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Server is the read-only status HTTP surface over a DocumentStore of
// persisted DecisionRecords.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	docs       interfaces.DocumentStore
	startedAt  time.Time
}

// NewServer builds a Server over docs, the engine's Decision Record
// Gateway. Call Start to begin listening.
func NewServer(logger *zap.Logger, config *types.ServerConfig, docs interfaces.DocumentStore) *Server {
	server := &Server{
		logger:    logger.Named("api"),
		config:    config,
		router:    mux.NewRouter(),
		docs:      docs,
		startedAt: time.Now(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/decisions", s.handleRecentDecisions).Methods("GET")
	if s.config.EnableMetrics {
		s.router.HandleFunc("/api/v1/metrics", s.handleMetrics).Methods("GET")
	}
}

// Start begins listening and blocks until the server stops or errors. A
// clean shutdown via Stop returns nil rather than http.ErrServerClosed.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowCredentials: false,
	}).Handler(s.router)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.mu.Unlock()

	s.logger.Info("status server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	httpServer := s.httpServer
	s.mu.RUnlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRecentDecisions returns the decision records persisted since an
// optional "since" RFC3339 query param, defaulting to the last 24h.
func (s *Server) handleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}

	records, err := s.docs.ListSince(r.Context(), since)
	if err != nil {
		s.logger.Error("list decision records failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list decisions"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since":     since.UTC().Format(time.RFC3339),
		"decisions": records,
	})
}

// handleMetrics summarizes signal distribution and status counts across
// the last hour of decision records — a lightweight stand-in for a full
// Prometheus exposition until a metrics registry is wired in.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	records, err := s.docs.ListSince(r.Context(), time.Now().Add(-time.Hour))
	if err != nil {
		s.logger.Error("list decision records for metrics failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to compute metrics"})
		return
	}

	signalCounts := map[types.SignalType]int{}
	statusCounts := map[types.DecisionStatus]int{}
	for _, rec := range records {
		signalCounts[rec.FinalSignal]++
		statusCounts[rec.Status]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"windowMinutes": 60,
		"decisionCount": len(records),
		"bySignal":      signalCounts,
		"byStatus":      statusCounts,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
