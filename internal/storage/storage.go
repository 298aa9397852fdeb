package storage

import (
	"context"
	"errors"

	"github.com/semdex/semdex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a record's vector length disagrees
	// with its declared dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// EmbeddingRecord is the persisted unit: one chunk's vector plus its metadata.
// Records are immutable once written; a changed chunk is a delete plus a new
// record, never an in-place update.
type EmbeddingRecord struct {
	EmbeddingID       string
	AgentID           string
	FilePathRelative  string
	FullFilePath      string
	EntityName        string
	ChunkText         string
	AISummaryText     string
	Vector            []float32
	Dimension         int
	ModelName         string
	ChunkHash         string
	FileHash          string
	Metadata          types.Metadata
	CreatedUnix       int64
	EmbeddingType     types.EmbeddingType
	ParentEmbeddingID string
}

// StoredVector is a vector looked up by content hash, used to reuse an
// already-paid-for embedding for identical text at a different path.
type StoredVector struct {
	Vector    []float32
	Dimension int
	ModelName string
}

// SimilarRequest parameterizes a hybrid similarity query.
type SimilarRequest struct {
	QueryVector  []float32
	QueryText    string // lexical signal; empty disables the FTS bonus
	TopK         int
	AgentID      string
	PathPrefix   string   // optional filter on FilePathRelative
	ExcludeKinds []string // metadata type discriminators to leave out
}

// ScoredRecord pairs a record with its combined similarity score.
type ScoredRecord struct {
	Record *EmbeddingRecord
	Score  float64
}

// RetainUpdate refreshes bookkeeping fields on a retained record whose file
// changed but whose own chunk text did not.
type RetainUpdate struct {
	EmbeddingID       string
	FileHash          string
	ParentEmbeddingID string
}

// AgentStatus summarizes an agent's slice of the index.
type AgentStatus struct {
	AgentID     string
	RecordCount int
	FileCount   int
	IndexSizeMB float64
}

// Store is the only component that touches persistent storage for embeddings.
// Every record committed by BulkInsert is immediately retrievable by path,
// by id, and by chunk hash.
type Store interface {
	BulkInsert(ctx context.Context, records []*EmbeddingRecord) error
	BulkDelete(ctx context.Context, ids []string) (int, error)

	GetEmbeddingsForFile(ctx context.Context, filePathRel, agentID string) ([]*EmbeddingRecord, error)
	GetEmbeddingsByIDs(ctx context.Context, ids []string) ([]*EmbeddingRecord, error)
	GetLatestFileHashes(ctx context.Context, agentID string) (map[string]string, error)
	GetAllFilePathsForAgent(ctx context.Context, agentID string) ([]string, error)

	HasChunkHash(ctx context.Context, chunkHash string) (bool, error)
	GetVectorByChunkHash(ctx context.Context, chunkHash string) (*StoredVector, error)
	RefreshRetained(ctx context.Context, updates []RetainUpdate) error

	FindSimilar(ctx context.Context, req SimilarRequest) ([]ScoredRecord, error)

	PurgeAgent(ctx context.Context, agentID string) (int, error)
	Status(ctx context.Context, agentID string) (*AgentStatus, error)

	Close() error
}
