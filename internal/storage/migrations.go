package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Embedding metadata, one row per persisted chunk
CREATE TABLE IF NOT EXISTS embeddings (
    embedding_id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    file_path_rel TEXT NOT NULL,
    full_file_path TEXT NOT NULL,
    entity_name TEXT,
    chunk_text TEXT NOT NULL,
    ai_summary_text TEXT,
    model_name TEXT NOT NULL,
    chunk_hash TEXT NOT NULL,
    file_hash TEXT NOT NULL,
    chunk_kind TEXT,
    metadata_json TEXT,
    created_unix INTEGER NOT NULL,
    embedding_type TEXT NOT NULL,
    parent_embedding_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_embeddings_path_agent ON embeddings(file_path_rel, agent_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_chunk_hash ON embeddings(chunk_hash);
CREATE INDEX IF NOT EXISTS idx_embeddings_agent ON embeddings(agent_id);

-- Vectors, one row per embedding, deleted together with the metadata row
CREATE TABLE IF NOT EXISTS embedding_vectors (
    embedding_id TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    FOREIGN KEY (embedding_id) REFERENCES embeddings(embedding_id) ON DELETE CASCADE
);

-- Full-text search over chunk text for the hybrid lexical signal
CREATE VIRTUAL TABLE IF NOT EXISTS embeddings_fts USING fts5(
    chunk_text, entity_name,
    content='embeddings',
    content_rowid='rowid'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS embeddings_ai AFTER INSERT ON embeddings BEGIN
    INSERT INTO embeddings_fts(rowid, chunk_text, entity_name)
    VALUES (new.rowid, new.chunk_text, new.entity_name);
END;

CREATE TRIGGER IF NOT EXISTS embeddings_ad AFTER DELETE ON embeddings BEGIN
    INSERT INTO embeddings_fts(embeddings_fts, rowid, chunk_text, entity_name)
    VALUES ('delete', old.rowid, old.chunk_text, old.entity_name);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS embeddings_ad;
DROP TRIGGER IF EXISTS embeddings_ai;
DROP TABLE IF EXISTS embeddings_fts;
DROP TABLE IF EXISTS embedding_vectors;
DROP TABLE IF EXISTS embeddings;
DROP TABLE IF EXISTS schema_version;
`

// ApplyMigrations applies all pending migrations to the database
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	// Ensure version table exists before querying it
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range AllMigrations {
		if applied[m.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration tx: %w", err)
		}

		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}
	}

	return nil
}

// appliedVersions returns the set of already-applied migration versions
func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions[v] = true
	}
	return versions, rows.Err()
}
