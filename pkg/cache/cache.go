// Package cache provides an optional Redis-backed cache for detail
// documents, keyed by opid. A re-run within the TTL window reuses the
// cached HTML instead of refetching it from the portal.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oppwatch/eyp-scraper/pkg/logging"
	"github.com/rs/zerolog"
)

// keyPrefix namespaces all detail-document keys in Redis.
const keyPrefix = "eyp:detail:"

var (
	// ErrCacheMiss indicates the opid was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Entry is one cached detail document.
type Entry struct {
	// Opid identifies the opportunity.
	Opid string `json:"opid"`

	// Body is the raw HTML of the detail page.
	Body string `json:"body"`

	// FetchedAt is when the document was fetched from the portal.
	FetchedAt time.Time `json:"fetched_at"`

	// ExpiresAt is when the entry becomes stale.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the entry is stale.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Manager handles detail-document caching with a Redis backend.
type Manager struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewManager creates a cache manager. TTL governs how long a detail
// document stays reusable.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Manager{
		redis:  redisClient,
		ttl:    ttl,
		logger: logging.NewLogger("cache"),
	}
}

// Get retrieves the cached document for an opid.
// Returns ErrCacheMiss when absent or expired.
func (m *Manager) Get(ctx context.Context, opid string) (*Entry, error) {
	data, err := m.redis.Get(ctx, keyPrefix+opid).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, opid)
		cacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	cacheHits.Inc()
	m.logger.Debug().
		Str("opid", opid).
		Time("expires_at", entry.ExpiresAt).
		Msg("Cache hit")
	return &entry, nil
}

// Set stores a detail document under the manager's TTL.
func (m *Manager) Set(ctx context.Context, opid, body string) error {
	now := time.Now()
	entry := Entry{
		Opid:      opid,
		Body:      body,
		FetchedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, keyPrefix+opid, data, m.ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the cached document for an opid.
func (m *Manager) Delete(ctx context.Context, opid string) error {
	if err := m.redis.Del(ctx, keyPrefix+opid).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
