// Package staging holds computed embeddings between "provider call
// succeeded" and "row committed to the store". The buffer is persisted to
// disk on every change so a crash never loses a vector that was already
// paid for.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"github.com/semdex/semdex/internal/storage"
)

// Cache is a durable write-ahead buffer of embedding records keyed by chunk
// hash. An entry is added at most once per hash and removed only after a
// successful commit to the store, or on explicit Clear.
type Cache struct {
	path  string
	store storage.Store
	log   *slog.Logger

	// flushLock serializes flushes across processes sharing the same
	// staging file; mu protects the in-memory buffer within one.
	flushLock *flock.Flock

	mu     sync.Mutex
	buffer map[string]*storage.EmbeddingRecord
}

// New creates a staging cache persisted at path. The parent directory is
// created if missing.
func New(path string, store storage.Store, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		path:      path,
		store:     store,
		log:       log,
		flushLock: flock.New(path + ".lock"),
		buffer:    make(map[string]*storage.EmbeddingRecord),
	}, nil
}

// Load reads pending entries from disk into memory. Missing or unreadable
// state is treated as empty: losing the buffer file only costs re-embedding,
// while refusing to start costs everything.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("staging file unreadable, starting empty", "path", c.path, "error", err)
		}
		return nil
	}

	var entries map[string]*storage.EmbeddingRecord
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warn("staging file corrupt, starting empty", "path", c.path, "error", err)
		return nil
	}

	c.buffer = entries
	if c.buffer == nil {
		c.buffer = make(map[string]*storage.EmbeddingRecord)
	}
	return nil
}

// Has reports whether chunkHash is already covered, either by a buffered
// entry or by a committed record in the store.
func (c *Cache) Has(ctx context.Context, chunkHash string) (bool, error) {
	c.mu.Lock()
	_, buffered := c.buffer[chunkHash]
	c.mu.Unlock()
	if buffered {
		return true, nil
	}
	return c.store.HasChunkHash(ctx, chunkHash)
}

// Add buffers a freshly computed record and persists the buffer. Before
// writing it re-checks the store: a concurrent run may have committed the
// same hash already, in which case Add is a no-op.
func (c *Cache) Add(ctx context.Context, record *storage.EmbeddingRecord) error {
	if record == nil || record.ChunkHash == "" {
		return fmt.Errorf("staging add: record missing chunk hash")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.buffer[record.ChunkHash]; ok {
		return nil
	}

	exists, err := c.store.HasChunkHash(ctx, record.ChunkHash)
	if err != nil {
		return fmt.Errorf("staging add: check store: %w", err)
	}
	if exists {
		return nil
	}

	c.buffer[record.ChunkHash] = record
	if err := c.persistLocked(); err != nil {
		// Entry stays in memory; the next successful persist covers it.
		c.log.Error("staging persist failed, entry retained in memory",
			"chunk_hash", record.ChunkHash, "error", err)
		return err
	}
	return nil
}

// Flush commits every buffered entry into the store. Entries that fail to
// commit stay in the buffer for the next flush. The flush is a cross-process
// critical section so two runs sharing a staging file never interleave.
func (c *Cache) Flush(ctx context.Context) (committed int, err error) {
	if err := c.flushLock.Lock(); err != nil {
		return 0, fmt.Errorf("staging flush: acquire lock: %w", err)
	}
	defer func() {
		_ = c.flushLock.Unlock()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffer) == 0 {
		return 0, nil
	}

	// Stable order keeps failure logs reproducible.
	hashes := make([]string, 0, len(c.buffer))
	for h := range c.buffer {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	var firstErr error
	for _, hash := range hashes {
		entry := c.buffer[hash]
		if insertErr := c.store.BulkInsert(ctx, []*storage.EmbeddingRecord{entry}); insertErr != nil {
			c.log.Warn("staging entry commit failed, retained for retry",
				"chunk_hash", hash, "path", entry.FilePathRelative, "error", insertErr)
			if firstErr == nil {
				firstErr = insertErr
			}
			continue
		}
		delete(c.buffer, hash)
		committed++
	}

	if persistErr := c.persistLocked(); persistErr != nil && firstErr == nil {
		firstErr = persistErr
	}
	return committed, firstErr
}

// VectorFor returns the buffered vector for chunkHash, if any. Lets
// ingestion reuse a staged-but-uncommitted vector for identical text at
// another path without a provider call.
func (c *Cache) VectorFor(chunkHash string) (*storage.StoredVector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.buffer[chunkHash]
	if !ok {
		return nil, false
	}
	return &storage.StoredVector{
		Vector:    entry.Vector,
		Dimension: entry.Dimension,
		ModelName: entry.ModelName,
	}, true
}

// Clear discards the entire buffer. Explicit reset only.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = make(map[string]*storage.EmbeddingRecord)
	return c.persistLocked()
}

// Pending returns the number of buffered, not-yet-committed entries.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// persistLocked writes the buffer via temp file + rename so a crash
// mid-write leaves the previous file intact. Caller holds c.mu.
func (c *Cache) persistLocked() error {
	data, err := json.Marshal(c.buffer)
	if err != nil {
		return fmt.Errorf("marshal staging buffer: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write staging temp file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace staging file: %w", err)
	}
	return nil
}
