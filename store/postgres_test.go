package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real database:
//
//	PRICEWATCH_TEST_DATABASE_URL=postgres://... go test ./store/
func TestPostgres_SaveAndLatest(t *testing.T) {
	dsn := os.Getenv("PRICEWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRICEWATCH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	table := "prices_test_" + time.Now().Format("150405")
	p, err := OpenPostgres(ctx, PostgresOptions{DSN: dsn, Table: table})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.pool.Exec(ctx, `CREATE TABLE `+p.table+` (
		id bigserial PRIMARY KEY,
		pharmacy text NOT NULL,
		product text NOT NULL,
		price double precision NOT NULL,
		stock text NOT NULL,
		url text NOT NULL,
		on_offer boolean NOT NULL DEFAULT false,
		timestamp timestamptz NOT NULL)`)
	require.NoError(t, err)
	defer p.pool.Exec(ctx, `DROP TABLE `+p.table)

	p.batch = 2 // force more than one batch
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return first }
	n, err := p.SaveRecords(ctx, sample())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	p.now = func() time.Time { return first.Add(time.Hour) }
	_, err = p.SaveRecords(ctx, sample()[:2])
	require.NoError(t, err)

	got, err := p.Latest(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 890.0, got[0].Price)
	assert.True(t, got[0].Timestamp.Equal(first.Add(time.Hour)))

	got, err = p.Latest(ctx, "Meki", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Meki", got[0].Pharmacy)
}
