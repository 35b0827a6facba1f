package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockID int64 = 2026101501

const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
	id BIGSERIAL PRIMARY KEY,
	final_order_number TEXT UNIQUE,
	col0 INTEGER NOT NULL,
	year DOUBLE PRECISION,
	month DOUBLE PRECISION,
	day DOUBLE PRECISION,
	category TEXT,
	order_number TEXT,
	code TEXT,
	registration TEXT,
	customer TEXT,
	product_name TEXT,
	part_name TEXT,
	specification TEXT,
	post_process TEXT,
	status TEXT,
	manager TEXT,
	due_date TEXT,
	remark TEXT,
	quantity DOUBLE PRECISION,
	production DOUBLE PRECISION,
	remaining DOUBLE PRECISION,
	unit_price DOUBLE PRECISION,
	order_amount DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_product_name ON orders(product_name);

CREATE TABLE IF NOT EXISTS upload_sessions (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL DEFAULT '',
	total_chunks INTEGER NOT NULL DEFAULT 0,
	chunk_size INTEGER NOT NULL DEFAULT 0,
	completed_chunks INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	stage TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	success_count INTEGER NOT NULL DEFAULT 0,
	fail_count INTEGER NOT NULL DEFAULT 0,
	created_count INTEGER NOT NULL DEFAULT 0,
	updated_count INTEGER NOT NULL DEFAULT 0,
	skipped_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_status_updated ON upload_sessions(status, updated_at);

CREATE TABLE IF NOT EXISTS upload_chunks (
	upload_id TEXT NOT NULL REFERENCES upload_sessions(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	success_count INTEGER NOT NULL,
	fail_count INTEGER NOT NULL,
	created_count INTEGER NOT NULL,
	updated_count INTEGER NOT NULL,
	skipped_count INTEGER NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (upload_id, chunk_index)
);
`

// EnsureSchema creates the tables used by the import pipeline.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
