package chunker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/semdex/semdex/pkg/types"
)

// Summarizer produces a natural-language summary of a code chunk. Typically
// backed by an LLM call; the chunker only cares about the text.
type Summarizer interface {
	Summarize(ctx context.Context, entityName, text, language string) (string, error)
}

// MultiVector wraps a FileChunker and emits an additional summary chunk per
// entity chunk, linked child-to-parent by key. Summarization failures drop
// the summary, never the source chunk.
type MultiVector struct {
	inner      FileChunker
	summarizer Summarizer
	log        *slog.Logger
}

// NewMultiVector creates the summary-augmenting chunker.
func NewMultiVector(inner FileChunker, summarizer Summarizer, log *slog.Logger) *MultiVector {
	if log == nil {
		log = slog.Default()
	}
	return &MultiVector{inner: inner, summarizer: summarizer, log: log}
}

// ChunkFile satisfies FileChunker, discarding the call counter.
func (m *MultiVector) ChunkFile(ctx context.Context, agentID, fullPath string, content []byte, relPath, language string) ([]types.Chunk, error) {
	chunks, _, err := m.ChunkFileWithSummaries(ctx, agentID, fullPath, content, relPath, language)
	return chunks, err
}

// ChunkFileWithSummaries chunks the file and appends summary chunks,
// reporting how many summarization calls were made (attempted, including
// failures) so ingestion reports can account for AI usage.
func (m *MultiVector) ChunkFileWithSummaries(ctx context.Context, agentID, fullPath string, content []byte, relPath, language string) ([]types.Chunk, int, error) {
	chunks, err := m.inner.ChunkFile(ctx, agentID, fullPath, content, relPath, language)
	if err != nil || m.summarizer == nil {
		return chunks, 0, err
	}

	calls := 0
	summaries := make([]types.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.EmbeddingType != types.EmbeddingTypeChunk || c.Metadata.Type == types.KindFullFile {
			continue
		}

		calls++
		summary, sumErr := m.summarizer.Summarize(ctx, c.EntityName, c.Text, language)
		if sumErr != nil {
			m.log.Warn("summarization failed, keeping source chunk only",
				"path", relPath, "entity", c.EntityName, "error", sumErr)
			continue
		}
		if summary == "" {
			continue
		}

		summaries = append(summaries, types.Chunk{
			Text:          summary,
			EntityName:    c.EntityName,
			EmbeddingType: types.EmbeddingTypeSummary,
			Key:           "summary:" + c.Key,
			ParentKey:     c.Key,
			Metadata: types.Metadata{
				Type:      fmt.Sprintf("%s_summary", c.Metadata.Type),
				StartLine: c.Metadata.StartLine,
				EndLine:   c.Metadata.EndLine,
				Language:  language,
				FullName:  c.Metadata.FullName,
			},
		})
	}

	return append(chunks, summaries...), calls, nil
}
