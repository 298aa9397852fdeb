package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/semdex/semdex/pkg/types"
)

// FileChunker splits one file's content into embeddable chunks. Chunk keys
// and parent keys are file-local; the ingestion layer resolves them to
// persisted record IDs.
type FileChunker interface {
	ChunkFile(ctx context.Context, agentID, fullPath string, content []byte, relPath, language string) ([]types.Chunk, error)
}

// MaxChunkTokens is the target ceiling per chunk; oversized entity blocks
// are kept whole (splitting mid-entity hurts retrieval more than a long
// chunk does), but the full-file chunk is truncated to this bound.
const MaxChunkTokens = 4000

// BlockChunker is the reference implementation: one full-file chunk as the
// structural parent, plus one chunk per top-level declaration found by the
// language's declaration pattern. Unknown languages get the full-file chunk
// only.
type BlockChunker struct{}

// New creates a BlockChunker.
func New() *BlockChunker {
	return &BlockChunker{}
}

// fileKey is the chunk key of the full-file parent chunk.
const fileKey = "file"

// ChunkFile produces the full-file chunk followed by entity chunks linked
// to it. Empty content yields zero chunks, which the ingestion layer
// treats as "remove this file from the index".
func (b *BlockChunker) ChunkFile(ctx context.Context, agentID, fullPath string, content []byte, relPath, language string) ([]types.Chunk, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")

	fileText := text
	if types.EstimateTokens(fileText) > MaxChunkTokens {
		fileText = truncateToTokens(fileText, MaxChunkTokens)
	}

	chunks := []types.Chunk{{
		Text:          fileText,
		EntityName:    relPath,
		EmbeddingType: types.EmbeddingTypeChunk,
		Key:           fileKey,
		Metadata: types.Metadata{
			Type:      types.KindFullFile,
			StartLine: 1,
			EndLine:   len(lines),
			Language:  language,
		},
	}}

	for _, block := range findBlocks(lines, language) {
		chunks = append(chunks, types.Chunk{
			Text:          strings.Join(lines[block.startIdx:block.endIdx], "\n"),
			EntityName:    block.name,
			EmbeddingType: types.EmbeddingTypeChunk,
			Key:           fmt.Sprintf("%s:%s:%d", block.kind, block.name, block.startIdx+1),
			ParentKey:     fileKey,
			Metadata: types.Metadata{
				Type:      block.kind,
				StartLine: block.startIdx + 1,
				EndLine:   block.endIdx,
				Language:  language,
				FullName:  block.name,
			},
		})
	}

	return chunks, nil
}

// truncateToTokens cuts text at the last newline before the token budget.
func truncateToTokens(text string, maxTokens int) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
