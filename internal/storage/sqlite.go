package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/semdex/semdex/pkg/types"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// recordColumns is the select list for joined record queries, qualified with
// the embeddings alias because embedding_id exists in both tables.
const recordColumns = `
	e.embedding_id, e.agent_id, e.file_path_rel, e.full_file_path, e.entity_name,
	e.chunk_text, e.ai_summary_text, e.model_name, e.chunk_hash, e.file_hash,
	e.metadata_json, e.created_unix, e.embedding_type, e.parent_embedding_id
`

// BulkInsert inserts records as a single transaction so a vector row and its
// metadata row are never committed apart.
func (s *SQLiteStore) BulkInsert(ctx context.Context, records []*EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	for _, r := range records {
		if len(r.Vector) != r.Dimension {
			return fmt.Errorf("%w: record %s has %d values, dimension %d",
				ErrDimensionMismatch, r.EmbeddingID, len(r.Vector), r.Dimension)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	metaStmt := `
		INSERT INTO embeddings (
			embedding_id, agent_id, file_path_rel, full_file_path, entity_name,
			chunk_text, ai_summary_text, model_name, chunk_hash, file_hash,
			metadata_json, created_unix, embedding_type, parent_embedding_id, chunk_kind
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	vecStmt := `
		INSERT INTO embedding_vectors (embedding_id, vector, dimension)
		VALUES (?, ?, ?)
	`

	for _, r := range records {
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", r.EmbeddingID, err)
		}

		if _, err := tx.ExecContext(ctx, metaStmt,
			r.EmbeddingID, r.AgentID, r.FilePathRelative, r.FullFilePath,
			nullable(r.EntityName), r.ChunkText, nullable(r.AISummaryText),
			r.ModelName, r.ChunkHash, r.FileHash, string(metadataJSON),
			r.CreatedUnix, string(r.EmbeddingType), nullable(r.ParentEmbeddingID),
			nullable(r.Metadata.Type),
		); err != nil {
			return fmt.Errorf("failed to insert metadata for %s: %w", r.EmbeddingID, err)
		}

		if _, err := tx.ExecContext(ctx, vecStmt,
			r.EmbeddingID, serializeVector(r.Vector), r.Dimension,
		); err != nil {
			return fmt.Errorf("failed to insert vector for %s: %w", r.EmbeddingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk insert: %w", err)
	}
	return nil
}

// BulkDelete removes both vector and metadata for each id and returns the
// number of records removed.
func (s *SQLiteStore) BulkDelete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders, args := inClause(ids)

	// Vectors first; the FK cascade also covers this but being explicit keeps
	// the delete correct even with foreign_keys off.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embedding_vectors WHERE embedding_id IN (`+placeholders+`)`, args...); err != nil {
		return 0, fmt.Errorf("failed to delete vectors: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE embedding_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete metadata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bulk delete: %w", err)
	}
	return int(affected), nil
}

// GetEmbeddingsForFile returns all current records for a relative path,
// optionally scoped to an agent (empty agentID means all agents).
func (s *SQLiteStore) GetEmbeddingsForFile(ctx context.Context, filePathRel, agentID string) ([]*EmbeddingRecord, error) {
	query := `
		SELECT ` + recordColumns + `, v.vector, v.dimension
		FROM embeddings e
		JOIN embedding_vectors v ON v.embedding_id = e.embedding_id
		WHERE e.file_path_rel = ?
	`
	args := []interface{}{filePathRel}
	if agentID != "" {
		query += " AND e.agent_id = ?"
		args = append(args, agentID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings for file: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// GetEmbeddingsByIDs returns the records for the given ids. Missing ids are
// simply absent from the result, not an error.
func (s *SQLiteStore) GetEmbeddingsByIDs(ctx context.Context, ids []string) ([]*EmbeddingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(ids)
	query := `
		SELECT ` + recordColumns + `, v.vector, v.dimension
		FROM embeddings e
		JOIN embedding_vectors v ON v.embedding_id = e.embedding_id
		WHERE e.embedding_id IN (` + placeholders + `)
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// GetLatestFileHashes materializes the file hash index for an agent: the most
// recently ingested file hash per relative path.
func (s *SQLiteStore) GetLatestFileHashes(ctx context.Context, agentID string) (map[string]string, error) {
	// With a single MAX aggregate, SQLite takes the bare columns from the
	// row holding the maximum, i.e. the most recently ingested record.
	query := `
		SELECT file_path_rel, file_hash, MAX(created_unix)
		FROM embeddings
		WHERE agent_id = ?
		GROUP BY file_path_rel
	`
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		var latest int64
		if err := rows.Scan(&path, &hash, &latest); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

// GetAllFilePathsForAgent returns the distinct relative paths currently indexed.
func (s *SQLiteStore) GetAllFilePathsForAgent(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_path_rel FROM embeddings WHERE agent_id = ? ORDER BY file_path_rel`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// HasChunkHash reports whether any record with this chunk hash exists.
func (s *SQLiteStore) HasChunkHash(ctx context.Context, chunkHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE chunk_hash = ?`, chunkHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check chunk hash: %w", err)
	}
	return n > 0, nil
}

// GetVectorByChunkHash returns a stored vector for identical text anywhere in
// the corpus, so a duplicate chunk never costs a second provider call.
func (s *SQLiteStore) GetVectorByChunkHash(ctx context.Context, chunkHash string) (*StoredVector, error) {
	query := `
		SELECT v.vector, v.dimension, e.model_name
		FROM embeddings e
		JOIN embedding_vectors v ON v.embedding_id = e.embedding_id
		WHERE e.chunk_hash = ?
		LIMIT 1
	`
	var blob []byte
	var sv StoredVector
	err := s.db.QueryRowContext(ctx, query, chunkHash).Scan(&blob, &sv.Dimension, &sv.ModelName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up vector by chunk hash: %w", err)
	}
	sv.Vector = deserializeVector(blob)
	return &sv, nil
}

// RefreshRetained updates file hash and parent pointer on retained records
// whose file changed while the chunk itself did not.
func (s *SQLiteStore) RefreshRetained(ctx context.Context, updates []RetainUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE embeddings SET file_hash = ?, parent_embedding_id = ? WHERE embedding_id = ?`,
			u.FileHash, nullable(u.ParentEmbeddingID), u.EmbeddingID); err != nil {
			return fmt.Errorf("failed to refresh record %s: %w", u.EmbeddingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refresh: %w", err)
	}
	return nil
}

// FindSimilar performs hybrid nearest-neighbor search. Implementation lives
// in vector_ops.go.
func (s *SQLiteStore) FindSimilar(ctx context.Context, req SimilarRequest) ([]ScoredRecord, error) {
	return findSimilar(ctx, s.db, req)
}

// PurgeAgent removes every record owned by an agent and returns the count.
func (s *SQLiteStore) PurgeAgent(ctx context.Context, agentID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embedding_vectors WHERE embedding_id IN
			(SELECT embedding_id FROM embeddings WHERE agent_id = ?)
	`, agentID); err != nil {
		return 0, fmt.Errorf("failed to purge vectors: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge metadata: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return int(affected), nil
}

// Status returns record and file counts plus the database footprint.
func (s *SQLiteStore) Status(ctx context.Context, agentID string) (*AgentStatus, error) {
	status := &AgentStatus{AgentID: agentID}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT file_path_rel) FROM embeddings WHERE agent_id = ?`,
		agentID).Scan(&status.RecordCount, &status.FileCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// scanRecords reads joined metadata+vector rows into records
func scanRecords(rows *sql.Rows) ([]*EmbeddingRecord, error) {
	records := make([]*EmbeddingRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*EmbeddingRecord, error) {
	var r EmbeddingRecord
	var entityName, summaryText, metadataJSON, parentID sql.NullString
	var embeddingType string
	var blob []byte

	err := row.Scan(
		&r.EmbeddingID, &r.AgentID, &r.FilePathRelative, &r.FullFilePath,
		&entityName, &r.ChunkText, &summaryText, &r.ModelName,
		&r.ChunkHash, &r.FileHash, &metadataJSON, &r.CreatedUnix,
		&embeddingType, &parentID, &blob, &r.Dimension,
	)
	if err != nil {
		return nil, err
	}

	r.EntityName = entityName.String
	r.AISummaryText = summaryText.String
	r.ParentEmbeddingID = parentID.String
	r.EmbeddingType = types.EmbeddingType(embeddingType)
	r.Vector = deserializeVector(blob)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", r.EmbeddingID, err)
		}
	}

	return &r, nil
}

// nullable maps empty strings to NULL columns
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// inClause builds a placeholder list and arg slice for IN queries
func inClause(ids []string) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
