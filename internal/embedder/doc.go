// Package embedder turns chunk text into vectors through pluggable
// providers (OpenAI, Jina, or a deterministic local fallback).
//
// The Client batches texts, enforces a per-operation rate limit, caches
// vectors by content hash, and retries rate-limited batches with
// exponential backoff. A failed batch yields nil vector markers so callers
// can tell exactly which inputs were not embedded; other batches in the
// same call are unaffected.
package embedder
