package embedder

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/semdex/semdex/pkg/types"
)

// Batch and limiter defaults
const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	DefaultCallsPerWindow = 60
	DefaultWindow         = time.Minute

	DefaultCacheSize = 10000
)

// Config configures the batch embedding client.
type Config struct {
	BatchSize      int           // texts per provider call, capped at MaxBatchSize
	CallsPerWindow int           // rate limit budget per window per operation key
	Window         time.Duration // rate limit window
	Retry          RetryConfig
	CacheSize      int // LRU entries; 0 disables caching
}

// DefaultConfig returns sensible defaults for API usage.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		CallsPerWindow: DefaultCallsPerWindow,
		Window:         DefaultWindow,
		Retry:          DefaultRetryConfig(),
		CacheSize:      DefaultCacheSize,
	}
}

// Vector is one embedding result.
type Vector struct {
	Values    []float32
	Dimension int
}

// Stats carries aggregate counters for observability.
type Stats struct {
	Requests        int64
	Retries         int64
	TokensProcessed int64
	Failed          int64
}

// Add merges other into s.
func (s *Stats) Add(other Stats) {
	s.Requests += other.Requests
	s.Retries += other.Retries
	s.TokensProcessed += other.TokensProcessed
	s.Failed += other.Failed
}

// Result maps each input text, in input order, to either a vector or a nil
// failure marker. Partial failure is an expected outcome, not an error.
type Result struct {
	Vectors []*Vector
	Stats   Stats
}

// Client turns lists of texts into vectors via a rate-limited provider,
// tolerating partial failure. Each instance owns its limiters: two ingestion
// runs share a budget only when they share a Client.
type Client struct {
	provider Provider
	cfg      Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	cache *lru.Cache[string, []float32]
}

// NewClient creates a batch embedding client around a provider.
func NewClient(provider Provider, cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.CallsPerWindow <= 0 {
		cfg.CallsPerWindow = DefaultCallsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	var cache *lru.Cache[string, []float32]
	if cfg.CacheSize > 0 {
		cache, _ = lru.New[string, []float32](cfg.CacheSize)
	}

	return &Client{
		provider: provider,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		cache:    cache,
	}
}

// Provider exposes the underlying provider for model metadata.
func (c *Client) Provider() Provider {
	return c.provider
}

// Close releases provider resources.
func (c *Client) Close() error {
	return c.provider.Close()
}

// limiter returns the rate limiter for a logical operation key, creating it
// on first use.
func (c *Client) limiter(opKey string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[opKey]; ok {
		return l
	}
	perSecond := float64(c.cfg.CallsPerWindow) / c.cfg.Window.Seconds()
	l := rate.NewLimiter(rate.Limit(perSecond), c.cfg.CallsPerWindow)
	c.limiters[opKey] = l
	return l
}

// cacheKey derives the cache key for a text under the current model.
func (c *Client) cacheKey(text string) string {
	return types.HashText(text + "\x00" + c.provider.ModelName())
}

// EmbedTexts embeds texts in bounded batches. The returned Vectors slice has
// one entry per input in input order; a nil entry marks a text whose batch
// failed after retries. The only returned errors are context cancellation
// and invalid input; provider failures degrade to nil markers.
func (c *Client) EmbedTexts(ctx context.Context, opKey string, texts []string) (*Result, error) {
	result := &Result{Vectors: make([]*Vector, len(texts))}
	if len(texts) == 0 {
		return result, nil
	}

	// Serve cached vectors first so a fully cached call costs no budget.
	pendingIdx := make([]int, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyText, i)
		}
		if c.cache != nil {
			if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
				result.Vectors[i] = &Vector{Values: vec, Dimension: len(vec)}
				continue
			}
		}
		pendingIdx = append(pendingIdx, i)
	}

	for start := 0; start < len(pendingIdx); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(pendingIdx) {
			end = len(pendingIdx)
		}
		batchIdx := pendingIdx[start:end]

		batch := make([]string, len(batchIdx))
		for j, idx := range batchIdx {
			batch[j] = texts[idx]
		}

		if err := c.limiter(opKey).Wait(ctx); err != nil {
			return nil, err
		}

		vectors, stats, err := c.embedBatchWithRetry(ctx, batch)
		result.Stats.Add(stats)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Whole batch failed: every text maps to a nil marker.
			result.Stats.Failed += int64(len(batchIdx))
			continue
		}

		for j, idx := range batchIdx {
			vec := vectors[j]
			result.Vectors[idx] = &Vector{Values: vec, Dimension: len(vec)}
			result.Stats.TokensProcessed += int64(types.EstimateTokens(texts[idx]))
			if c.cache != nil {
				c.cache.Add(c.cacheKey(texts[idx]), vec)
			}
		}
	}

	return result, nil
}

// EmbedQuery embeds a single text and fails loudly when no vector is
// produced, for callers (retrieval) that cannot proceed without one.
func (c *Client) EmbedQuery(ctx context.Context, opKey, text string) (*Vector, Stats, error) {
	res, err := c.EmbedTexts(ctx, opKey, []string{text})
	if err != nil {
		return nil, Stats{}, err
	}
	if res.Vectors[0] == nil {
		return nil, res.Stats, fmt.Errorf("failed to embed query text")
	}
	return res.Vectors[0], res.Stats, nil
}

// embedBatchWithRetry calls the provider once, retrying with exponential
// backoff only on rate-limit responses. Other provider errors fail the batch
// immediately.
func (c *Client) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, Stats, error) {
	var stats Stats
	backoff := c.cfg.Retry.BaseDelay
	var lastErr error

	for attempt := 0; attempt < c.cfg.Retry.MaxRetries; attempt++ {
		stats.Requests++
		vectors, err := c.provider.EmbedBatch(ctx, batch)
		if err == nil {
			if len(vectors) != len(batch) {
				return nil, stats, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch))
			}
			return vectors, stats, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}
		if !IsRateLimit(err) {
			return nil, stats, err
		}

		if attempt < c.cfg.Retry.MaxRetries-1 {
			stats.Retries++
			select {
			case <-ctx.Done():
				return nil, stats, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * c.cfg.Retry.Multiplier)
				if backoff > c.cfg.Retry.MaxDelay {
					backoff = c.cfg.Retry.MaxDelay
				}
			}
		}
	}

	return nil, stats, fmt.Errorf("rate limit retries exhausted: %w", lastErr)
}
