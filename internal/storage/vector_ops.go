package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// LexicalWeight scales the normalized BM25 bonus folded into the similarity
// score. Cosine similarity stays the primary signal.
const LexicalWeight = 0.1

// findSimilar performs the hybrid nearest-neighbor query: cosine similarity
// over the agent's candidate vectors, plus an optional lexical bonus from an
// FTS5 match on the query text. Results are sorted descending by combined
// score and truncated to TopK.
func findSimilar(ctx context.Context, db *sql.DB, req SimilarRequest) ([]ScoredRecord, error) {
	if len(req.QueryVector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if req.TopK <= 0 {
		return []ScoredRecord{}, nil
	}

	lexical, err := lexicalScores(ctx, db, req)
	if err != nil {
		// The lexical signal is a ranking refinement; a failed FTS match
		// (e.g. unindexable query text) must not fail the whole search.
		lexical = nil
	}

	query := `
		SELECT ` + recordColumns + `, v.vector, v.dimension
		FROM embeddings e
		JOIN embedding_vectors v ON v.embedding_id = e.embedding_id
		WHERE e.agent_id = ?
	`
	args := []interface{}{req.AgentID}

	if req.PathPrefix != "" {
		query += " AND e.file_path_rel GLOB ?"
		args = append(args, req.PathPrefix+"*")
	}
	if len(req.ExcludeKinds) > 0 {
		placeholders, kindArgs := inClause(req.ExcludeKinds)
		query += " AND (e.chunk_kind IS NULL OR e.chunk_kind NOT IN (" + placeholders + "))"
		args = append(args, kindArgs...)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scored := make([]ScoredRecord, 0, 256)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if len(r.Vector) != len(req.QueryVector) {
			continue // dimension mismatch, different model
		}

		score := cosineSimilarity(req.QueryVector, r.Vector)
		if bonus, ok := lexical[r.EmbeddingID]; ok {
			score += LexicalWeight * bonus
		}
		scored = append(scored, ScoredRecord{Record: r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > req.TopK {
		scored = scored[:req.TopK]
	}
	return scored, nil
}

// lexicalScores runs the FTS5 side of the hybrid query and returns normalized
// per-record scores in [0, 1].
func lexicalScores(ctx context.Context, db *sql.DB, req SimilarRequest) (map[string]float64, error) {
	if req.QueryText == "" {
		return nil, nil
	}
	sanitized := sanitizeFTSQuery(req.QueryText)
	if sanitized == "" {
		return nil, nil
	}

	query := `
		SELECT e.embedding_id, bm25(embeddings_fts) AS score
		FROM embeddings_fts
		JOIN embeddings e ON e.rowid = embeddings_fts.rowid
		WHERE embeddings_fts MATCH ?
		AND e.agent_id = ?
	`
	rows, err := db.QueryContext(ctx, query, sanitized, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var bm25 float64
		if err := rows.Scan(&id, &bm25); err != nil {
			return nil, err
		}
		// BM25 scores from FTS5 are negative, lower is better; fold into [0,1]
		scores[id] = 1.0 / (1.0 + math.Abs(bm25)/50.0)
	}
	return scores, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FTS5 operator pattern for escaping Boolean operators
var ftsOperatorPattern = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)

// sanitizeFTSQuery sanitizes free text for FTS5 so user queries cannot
// inject match syntax.
func sanitizeFTSQuery(query string) string {
	if query == "" {
		return ""
	}

	replacer := strings.NewReplacer(
		`"`, `\"`,
		`*`, `\*`,
		`(`, `\(`,
		`)`, `\)`,
	)
	escaped := replacer.Replace(query)

	escaped = ftsOperatorPattern.ReplaceAllStringFunc(escaped, func(match string) string {
		return `\` + match
	})

	return escaped
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
