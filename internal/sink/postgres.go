package sink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

type Postgres struct {
	pool   *pgxpool.Pool
	insert string
}

// OpenPostgres connects using connString and makes sure the measurements table
// exists.
func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create measurements table: %w", err)
	}
	return &Postgres{
		pool:   pool,
		insert: insertSQL(func(i int) string { return "$" + strconv.Itoa(i) }),
	}, nil
}

func (p *Postgres) Append(ctx context.Context, rec types.MeasurementRecord) error {
	if _, err := p.pool.Exec(ctx, p.insert, nullable(rec.Row())...); err != nil {
		return fmt.Errorf("insert %s: %w", rec.MeasurementID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
