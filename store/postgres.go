package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/use-agent/pricewatch/models"
)

const defaultBatch = 200

// PostgresOptions configures OpenPostgres.
type PostgresOptions struct {
	DSN      string
	MaxConns int
	// SimpleProtocol is needed behind PgBouncer in transaction mode.
	SimpleProtocol bool
	Table          string
}

// Postgres writes records into a prices table:
//
//	prices(id, pharmacy, product, price, stock, url, on_offer, timestamp)
//
// The table is managed outside this service.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
	batch int
	now   func() time.Time
}

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.SimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	table := opts.Table
	if table == "" {
		table = "prices"
	}
	return &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize(), batch: defaultBatch, now: time.Now}, nil
}

func (p *Postgres) Name() string { return "postgres" }

// SaveRecords inserts one row per record, batched.
func (p *Postgres) SaveRecords(ctx context.Context, records []models.PriceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	ts := p.now().UTC()
	query := insertQuery(p.table)
	total := 0

	for i := 0; i < len(records); i += p.batch {
		j := min(i+p.batch, len(records))

		b := &pgx.Batch{}
		for _, r := range records[i:j] {
			b.Queue(query, r.Pharmacy, r.Product, r.Price, r.Stock, r.URL, r.OnOffer, ts)
		}

		br := p.pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, models.NewScrapeError(models.ErrCodeStore, "insert price rows", err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, models.NewScrapeError(models.ErrCodeStore, "insert price rows", err)
		}
	}
	return total, nil
}

// Latest returns the rows written by the most recent save.
func (p *Postgres) Latest(ctx context.Context, pharmacy string, limit int) ([]models.PriceRecord, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := p.pool.Query(ctx, latestQuery(p.table), pharmacy, lim)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "query latest prices", err)
	}
	defer rows.Close()

	out := []models.PriceRecord{}
	for rows.Next() {
		var (
			r  models.PriceRecord
			ts time.Time
		)
		if err := rows.Scan(&r.Pharmacy, &r.Product, &r.Price, &r.Stock, &r.URL, &r.OnOffer, &ts); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeStore, "scan price row", err)
		}
		ts = ts.UTC()
		r.Timestamp = &ts
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStore, "read price rows", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func insertQuery(table string) string {
	return `INSERT INTO ` + table + `
		(pharmacy, product, price, stock, url, on_offer, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
}

// latestQuery selects the newest save, optionally for one pharmacy. A NULL
// limit means ALL.
func latestQuery(table string) string {
	return `SELECT pharmacy, product, price, stock, url, on_offer, timestamp
		FROM ` + table + `
		WHERE ($1 = '' OR pharmacy = $1)
		  AND timestamp = (SELECT max(timestamp) FROM ` + table + ` WHERE ($1 = '' OR pharmacy = $1))
		ORDER BY price ASC, id ASC
		LIMIT $2`
}
