package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func testServer(t *testing.T, docs interfaces.DocumentStore) *Server {
	t.Helper()
	cfg := &types.ServerConfig{
		Host:          "127.0.0.1",
		Port:          0,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		EnableMetrics: true,
	}
	return NewServer(zap.NewNop(), cfg, docs)
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t, interfaces.NewInMemoryDocumentStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %v", body["status"])
	}
}

func TestHandleRecentDecisions(t *testing.T) {
	docs := interfaces.NewInMemoryDocumentStore()
	docs.Insert(context.Background(), types.DecisionRecord{
		ID:          "dec-1",
		Timestamp:   time.Now(),
		Instrument:  "BTC/USDT",
		FinalSignal: types.SignalBuy,
		Status:      types.DecisionStatusExecuted,
	})
	s := testServer(t, docs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Decisions []types.DecisionRecord `json:"decisions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Decisions) != 1 || body.Decisions[0].ID != "dec-1" {
		t.Fatalf("expected one decision with id dec-1, got %+v", body.Decisions)
	}
}

func TestHandleRecentDecisionsExcludesOlderThanSince(t *testing.T) {
	docs := interfaces.NewInMemoryDocumentStore()
	docs.Insert(context.Background(), types.DecisionRecord{
		ID:        "old",
		Timestamp: time.Now().Add(-48 * time.Hour),
	})
	s := testServer(t, docs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body struct {
		Decisions []types.DecisionRecord `json:"decisions"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Decisions) != 0 {
		t.Fatalf("expected the default 24h window to exclude a 48h-old record, got %+v", body.Decisions)
	}
}

func TestHandleMetrics(t *testing.T) {
	docs := interfaces.NewInMemoryDocumentStore()
	docs.Insert(context.Background(), types.DecisionRecord{
		ID:          "dec-1",
		Timestamp:   time.Now(),
		FinalSignal: types.SignalHold,
		Status:      types.DecisionStatusExecuted,
	})
	s := testServer(t, docs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if int(body["decisionCount"].(float64)) != 1 {
		t.Fatalf("expected decisionCount 1, got %v", body["decisionCount"])
	}
}
