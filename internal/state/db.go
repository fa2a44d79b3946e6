// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		-- One row per durable image of the aggregate. The newest row wins at
		-- startup; older rows are an audit trail of every reconciliation.
		CREATE TABLE IF NOT EXISTS vault_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			vault_id BIGINT NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			status VARCHAR(32) NOT NULL,
			total_shares NUMERIC(40, 0) NOT NULL,
			cur_epoch BIGINT NOT NULL,
			cur_epoch_loss NUMERIC(40, 0) NOT NULL,
			cur_epoch_loss_baseline NUMERIC(40, 0) NOT NULL,
			deposit_fee_bps INTEGER NOT NULL,
			withdraw_fee_bps INTEGER NOT NULL,
			fee_collected NUMERIC(40, 0) NOT NULL,
			snapshot JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_vault_taken ON vault_snapshots(vault_id, taken_at DESC);

		CREATE TABLE IF NOT EXISTS receipts (
			owner VARCHAR(255) PRIMARY KEY,
			shares NUMERIC(40, 0) NOT NULL,
			pending_withdraw_shares NUMERIC(40, 0) NOT NULL,
			claimable NUMERIC(40, 0) NOT NULL,
			receipt JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS deposit_requests (
			request_id UUID PRIMARY KEY,
			owner VARCHAR(255) NOT NULL,
			amount NUMERIC(40, 0) NOT NULL,
			request JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deposit_requests_owner ON deposit_requests(owner);

		CREATE TABLE IF NOT EXISTS withdraw_requests (
			request_id UUID PRIMARY KEY,
			owner VARCHAR(255) NOT NULL,
			shares NUMERIC(40, 0) NOT NULL,
			request JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_withdraw_requests_owner ON withdraw_requests(owner);

		CREATE TABLE IF NOT EXISTS price_entries (
			asset VARCHAR(128) PRIMARY KEY,
			source VARCHAR(255) NOT NULL,
			decimals INTEGER NOT NULL,
			price NUMERIC(40, 0) NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS capabilities (
			cap_id VARCHAR(255) PRIMARY KEY,
			role VARCHAR(32) NOT NULL,
			frozen BOOLEAN NOT NULL DEFAULT FALSE,
			granted_at TIMESTAMPTZ NOT NULL
		);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
