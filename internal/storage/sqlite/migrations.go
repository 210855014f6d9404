package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations.
func (s *SQLiteDB) migrate() error {
	ctx := context.Background()

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "jobs_and_edges", up: migrateV1},
		{version: 2, name: "fragments_and_claims", up: migrateV2},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// migrateV1 creates the jobs, task_budgets, and edges tables.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			priority INTEGER NOT NULL,
			slot TEXT NOT NULL,
			state TEXT NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT,
			queued_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER,
			cause_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs(slot, state, priority, queued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_task ON jobs(task_id)`,

		`CREATE TABLE IF NOT EXISTS task_budgets (
			task_id TEXT PRIMARY KEY,
			pages_fetched INTEGER NOT NULL DEFAULT 0,
			llm_seconds REAL NOT NULL DEFAULT 0,
			start_time INTEGER NOT NULL,
			max_pages INTEGER NOT NULL,
			max_time_seconds INTEGER NOT NULL,
			max_llm_ratio REAL NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			exceeded_reason TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relation TEXT NOT NULL,
			nli_confidence REAL,
			source_domain TEXT
		)`,
		// Partial unique index: at most one edge per (source, target, relation)
		// for relation in supports/refutes/neutral. origin/cites are unconstrained.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_verification_unique
			ON edges(source_type, source_id, target_type, target_id, relation)
			WHERE relation IN ('supports', 'refutes', 'neutral')`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_type, target_id)`,
	}

	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 creates the fragments and claims tables cross-verification reads.
// Extraction heuristics that populate these rows are a collaborator's
// concern; the core only owns the shape it reads.
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fragments_task ON fragments(task_id)`,

		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_task ON claims(task_id)`,
	}
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
