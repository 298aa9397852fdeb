package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrUnsupportedModel  = errors.New("unsupported model")
)

// Provider is the transport to an embedding model. Implementations return
// one vector per input text in input order, or an error for the whole call.
// Batch sizing, rate limiting and retry are owned by Client, not providers.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimension() int
	Close() error
}

// RateLimitError signals a provider-side rate limit (HTTP 429 or
// equivalent). The client retries these with exponential backoff; any other
// provider error fails the batch immediately.
type RateLimitError struct {
	RetryAfter time.Duration // zero when the provider gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	return "provider rate limited"
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
