// Schema setup for the optional Postgres-backed stores.
// Run with: go run ./scripts/migrate.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var statements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS episodic_records (
		seq            BIGSERIAL PRIMARY KEY,
		bucket         TEXT NOT NULL,
		task_id        UUID NOT NULL,
		backend_id     TEXT NOT NULL,
		features       JSONB NOT NULL DEFAULT '{}',
		predicted_cost DOUBLE PRECISION NOT NULL,
		actual_cost    DOUBLE PRECISION NOT NULL,
		embedding      vector(16) NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_episodic_records_bucket ON episodic_records (bucket)`,
	`CREATE TABLE IF NOT EXISTS contradiction_log (
		id                    UUID PRIMARY KEY,
		proposition_id        TEXT NOT NULL,
		assertions            JSONB NOT NULL DEFAULT '[]',
		resolved              BOOLEAN NOT NULL,
		resolution_value      SMALLINT NOT NULL,
		resolution_confidence DOUBLE PRECISION NOT NULL,
		residual_uncertainty  DOUBLE PRECISION NOT NULL,
		severity              TEXT NOT NULL,
		resolved_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contradiction_log_resolved_at ON contradiction_log (resolved_at)`,
	`CREATE INDEX IF NOT EXISTS idx_contradiction_log_proposition ON contradiction_log (proposition_id)`,
}

func main() {
	envFile := os.Getenv("ARBITER_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	fmt.Println("Connected to database")

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalf("Migration failed: %v\nstatement: %s", err, stmt)
		}
	}

	fmt.Println("Schema is up to date")
}
