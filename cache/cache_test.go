package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/pricewatch/models"
)

// failingBackend errors on every call.
type failingBackend struct{ sets int }

func (f *failingBackend) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (f *failingBackend) Set(context.Context, string, string, time.Duration) error {
	f.sets++
	return errors.New("connection refused")
}

func (f *failingBackend) Close() error { return nil }

func sampleRecords() []models.PriceRecord {
	return []models.PriceRecord{
		{Pharmacy: "Farmex", Product: "Paracetamol 500mg", Price: 990, Stock: "N/A", URL: "https://farmex.cl/p/1"},
		{Pharmacy: "Farmex", Product: "Ibuprofeno 400mg", Price: 1490, Stock: "Disponible", OnOffer: true},
	}
}

func TestCache_RoundTrip(t *testing.T) {
	mem := NewMemory(0)
	c := New(mem, 0)
	defer c.Close()
	ctx := context.Background()

	key := ScheduledKey("https://farmex.cl/")
	c.Put(ctx, key, sampleRecords())

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, sampleRecords(), got)
}

func TestCache_EmptyListIsNotStored(t *testing.T) {
	mem := NewMemory(0)
	c := New(mem, time.Minute)
	defer c.Close()
	ctx := context.Background()

	c.Put(ctx, "k", nil)
	c.Put(ctx, "k", []models.PriceRecord{})

	assert.Equal(t, 0, mem.Len())
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	mem := NewMemory(0)
	c := New(mem, time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "k", "{not json", time.Minute))

	got, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCache_BackendErrorsAreMisses(t *testing.T) {
	fb := &failingBackend{}
	c := New(fb, time.Minute)
	ctx := context.Background()

	c.Put(ctx, "k", sampleRecords())
	assert.Equal(t, 1, fb.sets)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_NilIsPassThrough(t *testing.T) {
	ctx := context.Background()

	var nilCache *Cache
	assert.False(t, nilCache.Enabled())
	nilCache.Put(ctx, "k", sampleRecords())
	_, ok := nilCache.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, nilCache.Close())

	noBackend := New(nil, 0)
	assert.False(t, noBackend.Enabled())
	noBackend.Put(ctx, "k", sampleRecords())
	_, ok = noBackend.Get(ctx, "k")
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	u := "https://www.ecofarmacias.cl/"

	assert.Equal(t, ScheduledKey(u), ScheduledKey(u))
	assert.NotEqual(t, ScheduledKey(u), ScheduledKey("https://farmex.cl/"))
	assert.NotEqual(t, ScheduledKey(u), AdhocKey(u, ""))
	assert.NotEqual(t, AdhocKey(u, ""), AdhocKey(u, "browser"))
	assert.Contains(t, ScheduledKey(u), "scrape:")
	assert.Contains(t, AdhocKey(u, ""), "manual:")
}
