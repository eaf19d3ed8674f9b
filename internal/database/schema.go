package database

import (
	"database/sql"
	"fmt"
)

// Schema statements are idempotent so the server can bootstrap a fresh
// database on startup. Order matters: accounts and payment_orders reference
// users.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id BIGINT PRIMARY KEY REFERENCES users(id),
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		transaction_id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		delta BIGINT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user
		ON credit_transactions (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_status
		ON credit_transactions (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS payment_orders (
		order_id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		amount_minor BIGINT NOT NULL,
		currency TEXT NOT NULL,
		receipt TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// payment_id primary key is the settlement idempotency constraint.
	`CREATE TABLE IF NOT EXISTS processed_payments (
		payment_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id BIGINT NOT NULL,
		package_id TEXT NOT NULL,
		credits BIGINT NOT NULL,
		settled_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS headline_history (
		id SERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		topic TEXT NOT NULL,
		audience TEXT,
		tone TEXT,
		keywords TEXT,
		results JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_headline_history_user
		ON headline_history (user_id, created_at DESC)`,
}

// EnsureSchema creates the tables and indexes the services rely on.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
