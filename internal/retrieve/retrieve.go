// Package retrieve implements parent document retrieval: nearest chunks
// are fetched with headroom, their structural parents are pulled in at a
// boosted score, and the merged set is reranked and truncated.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/pkg/types"
)

// Tuning defaults; both are heuristics, so both are configurable.
const (
	DefaultParentBoost     = 0.95
	DefaultOverfetchFactor = 2
	DefaultTopK            = 10
)

// Options tunes retrieval behavior.
type Options struct {
	// ParentBoost is the fixed score assigned to fetched parent records.
	// High enough that structural context survives the rerank, without
	// pretending to be geometric similarity.
	ParentBoost float64
	// OverfetchFactor multiplies topK for the candidate fetch, leaving
	// room for parent expansion without starving the final set.
	OverfetchFactor int
}

// Query is one retrieval request.
type Query struct {
	AgentID      string
	Text         string
	TopK         int
	PathPrefix   string   // optional filter on relative path
	ExcludeKinds []string // metadata type discriminators to leave out
}

// Retriever answers queries against the store.
type Retriever struct {
	store  storage.Store
	client *embedder.Client
	opts   Options
	log    *slog.Logger
}

// New creates a Retriever. Zero option fields get defaults.
func New(store storage.Store, client *embedder.Client, opts Options, log *slog.Logger) *Retriever {
	if opts.ParentBoost <= 0 || opts.ParentBoost > 1 {
		opts.ParentBoost = DefaultParentBoost
	}
	if opts.OverfetchFactor < 1 {
		opts.OverfetchFactor = DefaultOverfetchFactor
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{store: store, client: client, opts: opts, log: log}
}

// Search embeds the query, over-fetches nearest candidates, expands their
// parents, and returns the merged topK. An unembeddable query is fatal;
// a failed parent fetch degrades to the unaugmented candidates.
func (r *Retriever) Search(ctx context.Context, q Query) ([]types.RetrievedChunk, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}

	vec, _, err := r.client.EmbedQuery(ctx, "search:"+q.AgentID, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.store.FindSimilar(ctx, storage.SimilarRequest{
		QueryVector:  vec.Values,
		QueryText:    q.Text,
		TopK:         q.TopK * r.opts.OverfetchFactor,
		AgentID:      q.AgentID,
		PathPrefix:   q.PathPrefix,
		ExcludeKinds: q.ExcludeKinds,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	merged := r.expandParents(ctx, candidates)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > q.TopK {
		merged = merged[:q.TopK]
	}

	out := make([]types.RetrievedChunk, 0, len(merged))
	for _, sr := range merged {
		out = append(out, types.RetrievedChunk{
			EmbeddingID:   sr.Record.EmbeddingID,
			FilePath:      sr.Record.FilePathRelative,
			EntityName:    sr.Record.EntityName,
			ChunkText:     sr.Record.ChunkText,
			AISummaryText: sr.Record.AISummaryText,
			Score:         sr.Score,
			EmbeddingType: sr.Record.EmbeddingType,
			Metadata:      sr.Record.Metadata,
		})
	}
	return out, nil
}

// expandParents merges candidates with their parent records, deduplicated
// by id keeping the higher score.
func (r *Retriever) expandParents(ctx context.Context, candidates []storage.ScoredRecord) []storage.ScoredRecord {
	best := make(map[string]storage.ScoredRecord, len(candidates))
	for _, c := range candidates {
		if prev, ok := best[c.Record.EmbeddingID]; !ok || c.Score > prev.Score {
			best[c.Record.EmbeddingID] = c
		}
	}

	parentIDs := make([]string, 0)
	seen := make(map[string]bool)
	for _, c := range candidates {
		pid := c.Record.ParentEmbeddingID
		if pid == "" || seen[pid] {
			continue
		}
		seen[pid] = true
		if prev, already := best[pid]; already {
			// Also a direct candidate: keep the higher of its own score
			// and the parent boost.
			if r.opts.ParentBoost > prev.Score {
				prev.Score = r.opts.ParentBoost
				best[pid] = prev
			}
			continue
		}
		parentIDs = append(parentIDs, pid)
	}

	if len(parentIDs) > 0 {
		parents, err := r.store.GetEmbeddingsByIDs(ctx, parentIDs)
		if err != nil {
			// Candidates stand on their own; losing augmentation beats
			// failing the query.
			r.log.Warn("parent fetch failed, returning candidates unaugmented",
				"parents", len(parentIDs), "error", err)
		} else {
			for _, p := range parents {
				scored := storage.ScoredRecord{Record: p, Score: r.opts.ParentBoost}
				if prev, ok := best[p.EmbeddingID]; !ok || scored.Score > prev.Score {
					best[p.EmbeddingID] = scored
				}
			}
		}
	}

	merged := make([]storage.ScoredRecord, 0, len(best))
	for _, sr := range best {
		merged = append(merged, sr)
	}
	return merged
}
