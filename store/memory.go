package store

import (
	"context"
	"sync"
	"time"

	"github.com/use-agent/pricewatch/models"
)

// Memory keeps only the most recent run in process. It is used when no
// database is configured.
type Memory struct {
	mu      sync.RWMutex
	records []models.PriceRecord
	now     func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Name() string { return "memory" }

// SaveRecords replaces the stored run. An empty run keeps the previous
// one, matching the database reader which always shows the last rows saved.
func (m *Memory) SaveRecords(_ context.Context, records []models.PriceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	ts := m.now().UTC()
	stamped := make([]models.PriceRecord, len(records))
	for i, r := range records {
		r.Timestamp = &ts
		stamped[i] = r
	}

	m.mu.Lock()
	m.records = stamped
	m.mu.Unlock()
	return len(stamped), nil
}

func (m *Memory) Latest(_ context.Context, pharmacy string, limit int) ([]models.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.PriceRecord, 0, len(m.records))
	for _, r := range m.records {
		if pharmacy != "" && r.Pharmacy != pharmacy {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
