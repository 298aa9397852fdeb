package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semdex/semdex/pkg/types"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeRecord(id, agentID, relPath string, vector []float32) *EmbeddingRecord {
	return &EmbeddingRecord{
		EmbeddingID:      id,
		AgentID:          agentID,
		FilePathRelative: relPath,
		FullFilePath:     "/repo/" + relPath,
		EntityName:       "entity-" + id,
		ChunkText:        "chunk text for " + id,
		Vector:           vector,
		Dimension:        len(vector),
		ModelName:        "test-model",
		ChunkHash:        "chunkhash-" + id,
		FileHash:         "filehash-" + relPath,
		Metadata:         types.Metadata{Type: "function", Language: "go", StartLine: 1, EndLine: 5},
		CreatedUnix:      time.Now().Unix(),
		EmbeddingType:    types.EmbeddingTypeChunk,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	store := setupTestStore(t)
	assert.NotNil(t, store.db)
}

func TestBulkInsertAndGetForFile(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	parent := makeRecord("p1", "agent-a", "pkg/a.go", []float32{1, 0, 0})
	child := makeRecord("c1", "agent-a", "pkg/a.go", []float32{0, 1, 0})
	child.ParentEmbeddingID = "p1"
	child.AISummaryText = "summary of c1"
	child.EmbeddingType = types.EmbeddingTypeSummary

	err := store.BulkInsert(ctx, []*EmbeddingRecord{parent, child})
	require.NoError(t, err)

	records, err := store.GetEmbeddingsForFile(ctx, "pkg/a.go", "agent-a")
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]*EmbeddingRecord{}
	for _, r := range records {
		byID[r.EmbeddingID] = r
	}
	got := byID["c1"]
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ParentEmbeddingID)
	assert.Equal(t, "summary of c1", got.AISummaryText)
	assert.Equal(t, types.EmbeddingTypeSummary, got.EmbeddingType)
	assert.Equal(t, []float32{0, 1, 0}, got.Vector)
	assert.Equal(t, 3, got.Dimension)
	assert.Equal(t, "function", got.Metadata.Type)
	assert.Equal(t, 5, got.Metadata.EndLine)

	// Parent has no parent pointer and no summary
	assert.Empty(t, byID["p1"].ParentEmbeddingID)
	assert.Empty(t, byID["p1"].AISummaryText)
}

func TestBulkInsertEmpty(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.BulkInsert(context.Background(), nil))
}

func TestBulkInsertDimensionMismatch(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	good := makeRecord("g1", "agent-a", "a.go", []float32{1, 0, 0})
	bad := makeRecord("b1", "agent-a", "a.go", []float32{1, 0, 0})
	bad.Dimension = 5

	err := store.BulkInsert(ctx, []*EmbeddingRecord{good, bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// Nothing committed: the batch is atomic
	records, err := store.GetEmbeddingsForFile(ctx, "a.go", "agent-a")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBulkDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		makeRecord("d1", "agent-a", "a.go", []float32{1, 0, 0}),
		makeRecord("d2", "agent-a", "a.go", []float32{0, 1, 0}),
		makeRecord("d3", "agent-a", "b.go", []float32{0, 0, 1}),
	}))

	deleted, err := store.BulkDelete(ctx, []string{"d1", "d3", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	records, err := store.GetEmbeddingsForFile(ctx, "a.go", "agent-a")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "d2", records[0].EmbeddingID)
}

func TestBulkDeleteEmpty(t *testing.T) {
	store := setupTestStore(t)
	deleted, err := store.BulkDelete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestGetEmbeddingsByIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		makeRecord("i1", "agent-a", "a.go", []float32{1, 0, 0}),
		makeRecord("i2", "agent-a", "b.go", []float32{0, 1, 0}),
	}))

	// Missing ids are silently skipped, not an error
	records, err := store.GetEmbeddingsByIDs(ctx, []string{"i2", "nope"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "i2", records[0].EmbeddingID)

	records, err = store.GetEmbeddingsByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGetEmbeddingsForFileAgentScoping(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mine := makeRecord("m1", "agent-a", "shared.go", []float32{1, 0, 0})
	theirs := makeRecord("t1", "agent-b", "shared.go", []float32{0, 1, 0})
	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{mine, theirs}))

	records, err := store.GetEmbeddingsForFile(ctx, "shared.go", "agent-a")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m1", records[0].EmbeddingID)
}

func TestGetLatestFileHashes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := makeRecord("h1", "agent-a", "a.go", []float32{1, 0, 0})
	old.FileHash = "hash-old"
	old.CreatedUnix = 1000
	newer := makeRecord("h2", "agent-a", "a.go", []float32{0, 1, 0})
	newer.FileHash = "hash-new"
	newer.CreatedUnix = 2000
	other := makeRecord("h3", "agent-a", "b.go", []float32{0, 0, 1})
	other.FileHash = "hash-b"
	other.CreatedUnix = 1500
	foreign := makeRecord("h4", "agent-b", "a.go", []float32{1, 0, 0})
	foreign.FileHash = "hash-foreign"

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{old, newer, other, foreign}))

	hashes, err := store.GetLatestFileHashes(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a.go": "hash-new",
		"b.go": "hash-b",
	}, hashes)
}

func TestGetAllFilePathsForAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		makeRecord("f1", "agent-a", "b.go", []float32{1, 0, 0}),
		makeRecord("f2", "agent-a", "a.go", []float32{0, 1, 0}),
		makeRecord("f3", "agent-a", "a.go", []float32{0, 0, 1}),
		makeRecord("f4", "agent-b", "c.go", []float32{1, 0, 0}),
	}))

	paths, err := store.GetAllFilePathsForAgent(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, paths)
}

func TestHasChunkHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		makeRecord("ch1", "agent-a", "a.go", []float32{1, 0, 0}),
	}))

	ok, err := store.HasChunkHash(ctx, "chunkhash-ch1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasChunkHash(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetVectorByChunkHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := makeRecord("v1", "agent-a", "a.go", []float32{0.5, -0.25, 1})
	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{r}))

	sv, err := store.GetVectorByChunkHash(ctx, "chunkhash-v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25, 1}, sv.Vector)
	assert.Equal(t, 3, sv.Dimension)
	assert.Equal(t, "test-model", sv.ModelName)

	_, err = store.GetVectorByChunkHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshRetained(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := makeRecord("r1", "agent-a", "a.go", []float32{1, 0, 0})
	r.ParentEmbeddingID = ""
	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{r}))

	err := store.RefreshRetained(ctx, []RetainUpdate{
		{EmbeddingID: "r1", FileHash: "updated-hash", ParentEmbeddingID: "new-parent"},
	})
	require.NoError(t, err)

	records, err := store.GetEmbeddingsByIDs(ctx, []string{"r1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "updated-hash", records[0].FileHash)
	assert.Equal(t, "new-parent", records[0].ParentEmbeddingID)
	// Vector untouched
	assert.Equal(t, []float32{1, 0, 0}, records[0].Vector)
}

func TestPurgeAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		makeRecord("p1", "agent-a", "a.go", []float32{1, 0, 0}),
		makeRecord("p2", "agent-a", "b.go", []float32{0, 1, 0}),
		makeRecord("p3", "agent-b", "c.go", []float32{0, 0, 1}),
	}))

	purged, err := store.PurgeAgent(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	// Vector rows removed too: content-addressed lookup finds nothing
	_, err = store.GetVectorByChunkHash(ctx, "chunkhash-p1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Other agents untouched
	records, err := store.GetEmbeddingsForFile(ctx, "c.go", "agent-b")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	purged, err = store.PurgeAgent(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
}

func TestStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{
		makeRecord("s1", "agent-a", "a.go", []float32{1, 0, 0}),
		makeRecord("s2", "agent-a", "a.go", []float32{0, 1, 0}),
		makeRecord("s3", "agent-a", "b.go", []float32{0, 0, 1}),
	}))

	status, err := store.Status(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", status.AgentID)
	assert.Equal(t, 3, status.RecordCount)
	assert.Equal(t, 2, status.FileCount)
	assert.Greater(t, status.IndexSizeMB, 0.0)

	status, err = store.Status(ctx, "agent-unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, status.RecordCount)
	assert.Equal(t, 0, status.FileCount)
}

func TestMetadataRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := makeRecord("md1", "agent-a", "a.py", []float32{1, 0, 0})
	r.Metadata = types.Metadata{
		Type:      "class",
		StartLine: 10,
		EndLine:   42,
		Language:  "python",
		FullName:  "pkg.Widget",
		Extra:     map[string]string{"decorators": "dataclass"},
	}
	require.NoError(t, store.BulkInsert(ctx, []*EmbeddingRecord{r}))

	records, err := store.GetEmbeddingsByIDs(ctx, []string{"md1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r.Metadata, records[0].Metadata)
}

func TestManyRecordsOneTransaction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	records := make([]*EmbeddingRecord, 0, 100)
	for i := 0; i < 100; i++ {
		records = append(records,
			makeRecord(fmt.Sprintf("bulk-%03d", i), "agent-a", fmt.Sprintf("f%02d.go", i%10), []float32{1, 0, 0}))
	}
	require.NoError(t, store.BulkInsert(ctx, records))

	status, err := store.Status(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 100, status.RecordCount)
	assert.Equal(t, 10, status.FileCount)
}
