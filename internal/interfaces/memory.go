package interfaces

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// InMemoryKVCache is a process-local KVCache with TTL expiry, the default
// implementation used when no external cache is configured (spec §4.5's
// RuleBundle publish/fetch). Adapted from internal/data/store.go's
// map+mutex idiom.
type InMemoryKVCache struct {
	mu      sync.Mutex
	entries map[string]kvEntry
}

type kvEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemoryKVCache creates an empty cache.
func NewInMemoryKVCache() *InMemoryKVCache {
	return &InMemoryKVCache{entries: make(map[string]kvEntry)}
}

func (c *InMemoryKVCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = kvEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (c *InMemoryKVCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *InMemoryKVCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// InMemoryDocumentStore is a process-local DocumentStore, the default
// Decision Record Gateway backing when no external database is configured
// (spec §3/§6). Adapted from internal/data/store.go's cache+mutex idiom,
// generalized from OHLCV bars to DecisionRecords.
type InMemoryDocumentStore struct {
	mu      sync.RWMutex
	records []types.DecisionRecord
}

// NewInMemoryDocumentStore creates an empty store.
func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{}
}

func (s *InMemoryDocumentStore) Insert(_ context.Context, record types.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryDocumentStore) ListSince(_ context.Context, since time.Time) ([]types.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.DecisionRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.Timestamp.After(since) || r.Timestamp.Equal(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// LogAlertRouter publishes alerts through structured logging, the default
// AlertRouter when no external paging/webhook system is configured.
type LogAlertRouter struct {
	logger *zap.Logger
}

// NewLogAlertRouter wraps logger for alert delivery.
func NewLogAlertRouter(logger *zap.Logger) *LogAlertRouter {
	return &LogAlertRouter{logger: logger.Named("alerts")}
}

func (r *LogAlertRouter) Publish(_ context.Context, alert types.Alert) error {
	fields := []zap.Field{
		zap.String("type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.Any("details", alert.Details),
	}
	switch alert.Severity {
	case types.AlertCritical:
		r.logger.Error(alert.Message, fields...)
	case types.AlertWarning:
		r.logger.Warn(alert.Message, fields...)
	default:
		r.logger.Info(alert.Message, fields...)
	}
	return nil
}
