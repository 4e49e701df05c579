package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/use-agent/pricewatch/models"
)

// DefaultTTL is how long extracted results stay fresh.
const DefaultTTL = time.Hour

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a string key-value store with per-entry TTL.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

// Cache stores normalized price lists keyed by fetch fingerprint.
//
// A nil *Cache, or one built with a nil Backend, is a pass-through: every
// Get misses and every Put is dropped. The pipeline behaves the same either
// way, just without the savings.
type Cache struct {
	backend Backend
	ttl     time.Duration
}

// New wraps backend. ttl <= 0 selects DefaultTTL.
func New(backend Backend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{backend: backend, ttl: ttl}
}

// ScheduledKey is the fingerprint of a configured source URL.
func ScheduledKey(url string) string {
	return "scrape:" + hashURL(url)
}

// AdhocKey is the fingerprint of a caller-supplied URL. The variant keeps
// results of different transports apart ("" for plain HTTP).
func AdhocKey(url, variant string) string {
	if variant != "" {
		return "manual:" + variant + ":" + hashURL(url)
	}
	return "manual:" + hashURL(url)
}

func hashURL(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

// Get returns the cached records for key. Misses, backend errors and
// undecodable entries all report false; a corrupt entry is never fatal.
func (c *Cache) Get(ctx context.Context, key string) ([]models.PriceRecord, bool) {
	if !c.Enabled() {
		return nil, false
	}

	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			slog.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var records []models.PriceRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		slog.Warn("cache entry undecodable, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if len(records) == 0 {
		return nil, false
	}
	return records, true
}

// Put stores records under key with the cache TTL. Empty lists are never
// stored so a transient extraction failure cannot poison later lookups.
func (c *Cache) Put(ctx context.Context, key string, records []models.PriceRecord) {
	if !c.Enabled() || len(records) == 0 {
		return
	}

	data, err := json.Marshal(records)
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, string(data), c.ttl); err != nil {
		slog.Warn("cache set failed", "key", key, "error", err)
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Close()
}
