package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// EmbeddingType distinguishes raw code chunks from AI-generated summaries.
type EmbeddingType string

const (
	EmbeddingTypeChunk   EmbeddingType = "chunk"
	EmbeddingTypeSummary EmbeddingType = "summary"
)

// ChunkKind values used in Metadata.Type. Providers may emit additional
// discriminators (e.g. "<kind>_summary"); these are the ones the core knows.
const (
	KindFullFile = "full_file"
	KindFunction = "function"
	KindClass    = "class"
	KindBlock    = "block"
)

// Metadata is the typed envelope for per-chunk annotations. The known
// discriminators are first-class fields; provider-specific extras travel in
// Extra and survive a marshal round trip untouched.
type Metadata struct {
	Type      string            `json:"type,omitempty"`
	StartLine int               `json:"startLine,omitempty"`
	EndLine   int               `json:"endLine,omitempty"`
	Language  string            `json:"language,omitempty"`
	FullName  string            `json:"fullName,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Chunk is a candidate span of text considered for embedding. ParentKey
// refers to another chunk produced for the same file (by its Key) and is
// resolved to a persisted record ID during ingestion.
type Chunk struct {
	Text          string
	EntityName    string
	Metadata      Metadata
	EmbeddingType EmbeddingType
	Key           string // unique within one file's chunk list
	ParentKey     string // optional reference to a sibling chunk's Key
}

// Validate checks that the chunk can be embedded.
func (c *Chunk) Validate() error {
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.EmbeddingType != EmbeddingTypeChunk && c.EmbeddingType != EmbeddingTypeSummary {
		return errors.New("invalid embedding type")
	}
	return nil
}

// HashText computes the content hash used for chunk and file fingerprints.
// It is a deterministic function of the text alone: identical text anywhere
// in the corpus yields the same hash and may be deduplicated.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashBytes is HashText for raw file content.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EstimateTokens approximates the token count of a text for usage counters.
// Uses the characters/4 heuristic; close enough for observability.
func EstimateTokens(text string) int {
	return len(text) / 4
}
