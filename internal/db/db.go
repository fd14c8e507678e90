package db

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the Postgres connection settings.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.User, c.Password, c.Host, c.Port, c.Name)
}

// Connect opens a pool, pings it and makes sure the schema exists.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	log.Println("Connected to Postgres successfully")

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// ensureSchema creates the aggregate, wallet and event tables if missing
func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS aggregates (
            kind TEXT NOT NULL,
            owner TEXT NOT NULL,
            doc JSONB NOT NULL,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (kind, owner)
        );
        CREATE TABLE IF NOT EXISTS wallets (
            account TEXT PRIMARY KEY,
            balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE TABLE IF NOT EXISTS events (
            owner TEXT NOT NULL,
            seq BIGINT NOT NULL,
            id UUID NOT NULL,
            kind TEXT NOT NULL,
            data JSONB,
            emitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
            PRIMARY KEY (owner, seq)
        );
        CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
    `)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	log.Printf("marketplace schema ensured")
	return nil
}
