package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/pricewatch/models"
)

func sample() []models.PriceRecord {
	return []models.PriceRecord{
		{Pharmacy: "Farmex", Product: "Paracetamol", Price: 890, Stock: "N/A"},
		{Pharmacy: "Meki", Product: "Paracetamol", Price: 990, Stock: "Disponible"},
		{Pharmacy: "Farmex", Product: "Ibuprofeno", Price: 1490, Stock: "N/A"},
	}
}

func TestMemory_SaveStampsAndReplaces(t *testing.T) {
	m := NewMemory()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CLT", -3*3600))
	m.now = func() time.Time { return fixed }

	in := sample()
	n, err := m.SaveRecords(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Nil(t, in[0].Timestamp, "input must not be mutated")

	got, err := m.Latest(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.NotNil(t, got[0].Timestamp)
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())
	assert.True(t, got[0].Timestamp.Equal(fixed))

	_, err = m.SaveRecords(context.Background(), sample()[:1])
	require.NoError(t, err)
	got, _ = m.Latest(context.Background(), "", 0)
	assert.Len(t, got, 1)
}

func TestMemory_EmptySaveKeepsPreviousRun(t *testing.T) {
	m := NewMemory()
	_, _ = m.SaveRecords(context.Background(), sample())

	n, err := m.SaveRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := m.Latest(context.Background(), "", 0)
	assert.Len(t, got, 3)
}

func TestMemory_LatestFilters(t *testing.T) {
	m := NewMemory()
	_, _ = m.SaveRecords(context.Background(), sample())

	got, err := m.Latest(context.Background(), "Farmex", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, _ = m.Latest(context.Background(), "", 2)
	assert.Len(t, got, 2)

	got, _ = m.Latest(context.Background(), "Nadie", 10)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQueries(t *testing.T) {
	assert.Contains(t, insertQuery(`"prices"`), `INSERT INTO "prices"`)
	q := latestQuery(`"prices"`)
	assert.Contains(t, q, "max(timestamp)")
	assert.Contains(t, q, "LIMIT $2")
}
