package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BuildDBCheck returns a readiness probe that pings the database pool.
func BuildDBCheck(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
