package types

// RetrievedChunk is one entry of a retrieval result set.
type RetrievedChunk struct {
	EmbeddingID   string
	FilePath      string
	EntityName    string
	ChunkText     string
	AISummaryText string
	Score         float64
	EmbeddingType EmbeddingType
	Metadata      Metadata
}

// ScannedFile describes one entry found by a directory scanner.
type ScannedFile struct {
	Path         string // absolute path
	RelativePath string // relative to the scan root
	Language     string // empty when undetected
	SizeBytes    int64
}
