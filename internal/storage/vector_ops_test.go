package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSerializationRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.5, 3.14159, 0, 1e-7, -42.5}
	blob := SerializeVector(original)
	assert.Len(t, blob, len(original)*4)

	restored := DeserializeVector(blob)
	assert.Equal(t, original, restored)
}

func TestVectorSerializationEmpty(t *testing.T) {
	assert.Empty(t, SerializeVector(nil))
	assert.Empty(t, DeserializeVector(nil))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"scaled", []float32{1, 1, 0}, []float32{5, 5, 0}, 1.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, "", sanitizeFTSQuery(""))
	assert.Equal(t, "simple words", sanitizeFTSQuery("simple words"))
	assert.NotContains(t, sanitizeFTSQuery(`drop "table"`), `"table"`)
	// Boolean operators must not survive as operators
	assert.Equal(t, `foo \AND bar`, sanitizeFTSQuery("foo AND bar"))
	// Lowercase forms are ordinary tokens
	assert.Equal(t, "foo and bar", sanitizeFTSQuery("foo and bar"))
}

func similarRecord(id, agentID, relPath, text, kind string, vector []float32) *EmbeddingRecord {
	r := makeRecord(id, agentID, relPath, vector)
	r.ChunkText = text
	r.Metadata.Type = kind
	return r
}

func TestFindSimilarRanking(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		similarRecord("exact", "agent-a", "a.go", "alpha", "function", []float32{1, 0, 0}),
		similarRecord("close", "agent-a", "b.go", "beta", "function", []float32{0.9, 0.4, 0}),
		similarRecord("far", "agent-a", "c.go", "gamma", "function", []float32{0, 1, 0}),
	}))

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		TopK:        10,
		AgentID:     "agent-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "exact", results[0].Record.EmbeddingID)
	assert.Equal(t, "close", results[1].Record.EmbeddingID)
	assert.Equal(t, "far", results[2].Record.EmbeddingID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.0, results[2].Score, 1e-6)
	assert.True(t, results[0].Score > results[1].Score)
}

func TestFindSimilarTopK(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		similarRecord("k1", "agent-a", "a.go", "one", "function", []float32{1, 0, 0}),
		similarRecord("k2", "agent-a", "b.go", "two", "function", []float32{0.8, 0.6, 0}),
		similarRecord("k3", "agent-a", "c.go", "three", "function", []float32{0.6, 0.8, 0}),
	}))

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		TopK:        2,
		AgentID:     "agent-a",
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		TopK:        0,
		AgentID:     "agent-a",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindSimilarAgentScoping(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		similarRecord("mine", "agent-a", "a.go", "mine", "function", []float32{1, 0, 0}),
		similarRecord("theirs", "agent-b", "a.go", "theirs", "function", []float32{1, 0, 0}),
	}))

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		TopK:        10,
		AgentID:     "agent-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mine", results[0].Record.EmbeddingID)
}

func TestFindSimilarPathPrefix(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		similarRecord("in", "agent-a", "internal/auth/login.go", "login", "function", []float32{1, 0, 0}),
		similarRecord("out", "agent-a", "cmd/main.go", "main", "function", []float32{1, 0, 0}),
	}))

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		TopK:        10,
		AgentID:     "agent-a",
		PathPrefix:  "internal/",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "in", results[0].Record.EmbeddingID)
}

func TestFindSimilarExcludeKinds(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		similarRecord("fn", "agent-a", "a.go", "fn body", "function", []float32{1, 0, 0}),
		similarRecord("sum", "agent-a", "a.go", "fn summary", "function_summary", []float32{1, 0, 0}),
		similarRecord("file", "agent-a", "a.go", "whole file", "file", []float32{1, 0, 0}),
	}))

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector:  []float32{1, 0, 0},
		TopK:         10,
		AgentID:      "agent-a",
		ExcludeKinds: []string{"function_summary", "file"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fn", results[0].Record.EmbeddingID)
}

func TestFindSimilarSkipsDimensionMismatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A record embedded by a different model has a different dimension and
	// must not participate in ranking.
	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		similarRecord("three", "agent-a", "a.go", "three dims", "function", []float32{1, 0, 0}),
		similarRecord("four", "agent-a", "b.go", "four dims", "function", []float32{1, 0, 0, 0}),
	}))

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		TopK:        10,
		AgentID:     "agent-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "three", results[0].Record.EmbeddingID)
}

func TestFindSimilarLexicalBonus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Identical vectors; only the lexical signal can break the tie.
	matching := similarRecord("lex-hit", "agent-a", "a.go",
		"func authenticate validates the session token", "function", []float32{1, 0, 0})
	other := similarRecord("lex-miss", "agent-a", "b.go",
		"func render draws the widget tree", "function", []float32{1, 0, 0})
	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{matching, other}))

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		QueryText:   "authenticate token",
		TopK:        10,
		AgentID:     "agent-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "lex-hit", results[0].Record.EmbeddingID)
	assert.True(t, results[0].Score > results[1].Score)
	// Bonus is bounded by the lexical weight
	assert.LessOrEqual(t, results[0].Score, 1.0+LexicalWeight+1e-9)
}

func TestFindSimilarEmptyQueryVector(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.FindSimilar(context.Background(), SimilarRequest{
		TopK:    5,
		AgentID: "agent-a",
	})
	assert.Error(t, err)
}

func TestFindSimilarDeletedRecordsGone(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		similarRecord("keep", "agent-a", "a.go", "keep me", "function", []float32{1, 0, 0}),
		similarRecord("drop", "agent-a", "b.go", "drop me", "function", []float32{1, 0, 0}),
	}))

	_, err := store.BulkDelete(ctx, []string{"drop"})
	require.NoError(t, err)

	results, err := store.FindSimilar(ctx, SimilarRequest{
		QueryVector: []float32{1, 0, 0},
		QueryText:   "drop",
		TopK:        10,
		AgentID:     "agent-a",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].Record.EmbeddingID)
}

func TestNormalizedBM25Range(t *testing.T) {
	// The fold 1/(1+|bm25|/50) keeps every lexical bonus inside (0, 1].
	for _, bm25 := range []float64{0, -0.5, -5, -100, -10000} {
		normalized := 1.0 / (1.0 + math.Abs(bm25)/50.0)
		assert.Greater(t, normalized, 0.0)
		assert.LessOrEqual(t, normalized, 1.0)
	}
}
