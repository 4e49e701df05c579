// Package store persists aggregated price records and serves the latest
// saved run back to the API.
package store

import (
	"context"

	"github.com/use-agent/pricewatch/models"
)

// Sink persists the records of one run. It stamps every record with the
// same save time and reports how many rows were written.
type Sink interface {
	SaveRecords(ctx context.Context, records []models.PriceRecord) (int, error)
}

// Reader returns records of the most recent saved run, cheapest first.
// An empty pharmacy matches all; limit <= 0 means no limit.
type Reader interface {
	Latest(ctx context.Context, pharmacy string, limit int) ([]models.PriceRecord, error)
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	Reader
	Name() string
	Close() error
}
