package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/semdex/semdex/internal/chunker"
	"github.com/semdex/semdex/internal/detect"
	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/scanner"
	"github.com/semdex/semdex/internal/staging"
	"github.com/semdex/semdex/internal/storage"
	"github.com/semdex/semdex/pkg/types"
)

// DefaultWorkers bounds concurrent file tasks in a directory sync.
const DefaultWorkers = 4

// summaryChunker is satisfied by chunkers that also report how many
// AI-summarization calls they made.
type summaryChunker interface {
	ChunkFileWithSummaries(ctx context.Context, agentID, fullPath string, content []byte, relPath, language string) ([]types.Chunk, int, error)
}

// Ingestor drives the ingestion pipeline: scan, detect, chunk, embed,
// stage, commit, clean up stale records.
type Ingestor struct {
	store   storage.Store
	staging *staging.Cache
	client  *embedder.Client
	chunker chunker.FileChunker
	log     *slog.Logger
	workers int
}

// New creates an Ingestor. workers <= 0 selects DefaultWorkers.
func New(store storage.Store, stage *staging.Cache, client *embedder.Client, fc chunker.FileChunker, workers int, log *slog.Logger) *Ingestor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		store:   store,
		staging: stage,
		client:  client,
		chunker: fc,
		log:     log,
		workers: workers,
	}
}

// pendingRecord is a record awaiting its vector.
type pendingRecord struct {
	record *storage.EmbeddingRecord
	text   string
}

// fileResult is the immutable outcome of one file's preparation phase.
// Workers build these independently; nothing is shared until the merge.
type fileResult struct {
	relPath      string
	status       FileStatus
	err          error
	staleIDs     []string
	retained     []storage.RetainUpdate
	reused       int
	inserts      []*storage.EmbeddingRecord // vector already resolved
	toEmbed      []pendingRecord
	summaryCalls int
}

// SyncFile ingests a single file. root anchors the relative path stored
// in the index.
func (ing *Ingestor) SyncFile(ctx context.Context, agentID, fullPath, root string) (*Report, error) {
	index, err := ing.store.GetLatestFileHashes(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load file hash index: %w", err)
	}

	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		rel = fullPath
	}
	file := types.ScannedFile{
		Path:         fullPath,
		RelativePath: filepath.ToSlash(rel),
		Language:     scanner.DetectLanguage(fullPath),
	}

	report := newReport(agentID)
	res := ing.prepareFile(ctx, agentID, file, index)
	if err := ing.commitResults(ctx, agentID, []*fileResult{res}, report); err != nil {
		return report, err
	}
	return report, nil
}

// SyncDirectory ingests every eligible file under dir, then deletes the
// records of previously indexed paths no longer present. File failures are
// isolated: one file's error never stops its siblings.
func (ing *Ingestor) SyncDirectory(ctx context.Context, agentID, dir string) (*Report, error) {
	report := newReport(agentID)

	index, err := ing.store.GetLatestFileHashes(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load file hash index: %w", err)
	}

	files, err := scanner.ScanRecursive(dir, dir)
	if err != nil {
		return nil, err
	}
	ing.log.Info("directory scan complete", "agent", agentID, "dir", dir, "eligible_files", len(files))

	// Bounded fan-out. Each task owns its slot in results and touches no
	// shared state; merging happens single-threaded after the wait.
	results := make([]*fileResult, len(files))
	semaphore := make(chan struct{}, ing.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		g.Go(func() error {
			select {
			case semaphore <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-semaphore }()

			results[i] = ing.prepareFile(gctx, agentID, files[i], index)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if err := ing.commitResults(ctx, agentID, results, report); err != nil {
		return report, err
	}

	// Paths indexed before but not seen by this scan belong to deleted or
	// newly ineligible files.
	visited := make(map[string]bool, len(files))
	for _, f := range files {
		visited[f.RelativePath] = true
	}
	if err := ing.deleteUnvisited(ctx, agentID, visited, report); err != nil {
		return report, err
	}

	ing.log.Info("directory sync complete",
		"agent", agentID,
		"indexed", report.FilesIndexed,
		"skipped", report.FilesSkipped,
		"errors", report.FilesErrored,
		"new", report.NewEmbeddings,
		"reused", report.ReusedEmbeddings,
		"deleted", report.DeletedEmbeddings)
	return report, nil
}

// PurgeAgent removes every record belonging to agentID and clears the
// staging buffer.
func (ing *Ingestor) PurgeAgent(ctx context.Context, agentID string) (int, error) {
	removed, err := ing.store.PurgeAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if err := ing.staging.Clear(); err != nil {
		return removed, fmt.Errorf("clear staging after purge: %w", err)
	}
	return removed, nil
}

// prepareFile runs the read → detect → chunk → plan phase for one file.
// Never returns an error: an unreadable file becomes StatusSkipped, any
// other failure a fileResult with StatusError.
func (ing *Ingestor) prepareFile(ctx context.Context, agentID string, file types.ScannedFile, index detect.FileHashIndex) *fileResult {
	res := &fileResult{relPath: file.RelativePath}

	// Unreadable now doesn't mean gone: keep the indexed records and let a
	// later sync try again.
	content, err := os.ReadFile(file.Path)
	if err != nil {
		ing.log.Warn("file unreadable, skipping", "agent", agentID, "path", file.RelativePath, "error", err)
		res.status = StatusSkipped
		return res
	}

	det := detect.Check(content, file.RelativePath, index)
	if det.Status == detect.StatusSkipped {
		res.status = StatusSkipped
		return res
	}

	chunks, summaryCalls, err := ing.chunkFile(ctx, agentID, file, content)
	if err != nil {
		res.status = StatusError
		res.err = fmt.Errorf("chunk: %w", err)
		return res
	}
	res.summaryCalls = summaryCalls

	existing, err := ing.store.GetEmbeddingsForFile(ctx, file.RelativePath, agentID)
	if err != nil {
		res.status = StatusError
		res.err = fmt.Errorf("load existing records: %w", err)
		return res
	}

	// Zero chunks means the file no longer yields indexable content:
	// everything it had in the index is stale.
	if len(chunks) == 0 {
		for _, rec := range existing {
			res.staleIDs = append(res.staleIDs, rec.EmbeddingID)
		}
		res.status = StatusRemoved
		return res
	}

	existingByHash := make(map[string]*storage.EmbeddingRecord, len(existing))
	for _, rec := range existing {
		if _, ok := existingByHash[rec.ChunkHash]; !ok {
			existingByHash[rec.ChunkHash] = rec
		}
	}

	// First pass: assign a record ID per chunk key. Retained chunks keep
	// their existing ID so parent references stay stable.
	type planned struct {
		chunk    types.Chunk
		hash     string
		id       string
		retained *storage.EmbeddingRecord
	}
	idByKey := make(map[string]string, len(chunks))
	seenHash := make(map[string]bool, len(chunks))
	plan := make([]planned, 0, len(chunks))
	for _, c := range chunks {
		hash := types.HashText(c.Text)
		if seenHash[hash] {
			// Identical text twice in one file: one record covers both.
			if c.Key != "" {
				for _, p := range plan {
					if p.hash == hash {
						idByKey[c.Key] = p.id
						break
					}
				}
			}
			continue
		}
		seenHash[hash] = true

		p := planned{chunk: c, hash: hash}
		if ex, ok := existingByHash[hash]; ok {
			p.id = ex.EmbeddingID
			p.retained = ex
		} else {
			p.id = uuid.NewString()
		}
		if c.Key != "" {
			idByKey[c.Key] = p.id
		}
		plan = append(plan, p)
	}

	retainedHashes := make(map[string]bool, len(plan))
	now := time.Now().Unix()
	for _, p := range plan {
		parentID := ""
		if p.chunk.ParentKey != "" {
			parentID = idByKey[p.chunk.ParentKey]
		}

		if p.retained != nil {
			retainedHashes[p.hash] = true
			res.reused++
			if p.retained.FileHash != det.FileHash || p.retained.ParentEmbeddingID != parentID {
				res.retained = append(res.retained, storage.RetainUpdate{
					EmbeddingID:       p.id,
					FileHash:          det.FileHash,
					ParentEmbeddingID: parentID,
				})
			}
			continue
		}

		rec := ing.makeRecord(p.chunk, p.id, parentID, agentID, file, det.FileHash, now)

		// Content-addressed reuse: identical text already embedded at
		// another path, or still staged, costs no provider call.
		if sv, err := ing.store.GetVectorByChunkHash(ctx, p.hash); err == nil {
			rec.Vector = sv.Vector
			rec.Dimension = sv.Dimension
			rec.ModelName = sv.ModelName
			res.inserts = append(res.inserts, rec)
			res.reused++
			continue
		}
		if sv, ok := ing.staging.VectorFor(p.hash); ok {
			rec.Vector = sv.Vector
			rec.Dimension = sv.Dimension
			rec.ModelName = sv.ModelName
			res.inserts = append(res.inserts, rec)
			res.reused++
			continue
		}

		res.toEmbed = append(res.toEmbed, pendingRecord{record: rec, text: p.chunk.Text})
	}

	// Existing records whose hash vanished from the file are stale.
	for _, rec := range existing {
		if !retainedHashes[rec.ChunkHash] {
			res.staleIDs = append(res.staleIDs, rec.EmbeddingID)
		}
	}

	res.status = StatusIndexed
	return res
}

func (ing *Ingestor) chunkFile(ctx context.Context, agentID string, file types.ScannedFile, content []byte) ([]types.Chunk, int, error) {
	if sc, ok := ing.chunker.(summaryChunker); ok {
		return sc.ChunkFileWithSummaries(ctx, agentID, file.Path, content, file.RelativePath, file.Language)
	}
	chunks, err := ing.chunker.ChunkFile(ctx, agentID, file.Path, content, file.RelativePath, file.Language)
	return chunks, 0, err
}

func (ing *Ingestor) makeRecord(c types.Chunk, id, parentID, agentID string, file types.ScannedFile, fileHash string, now int64) *storage.EmbeddingRecord {
	return &storage.EmbeddingRecord{
		EmbeddingID:       id,
		AgentID:           agentID,
		FilePathRelative:  file.RelativePath,
		FullFilePath:      file.Path,
		EntityName:        c.EntityName,
		ChunkText:         c.Text,
		ModelName:         ing.client.Provider().ModelName(),
		ChunkHash:         types.HashText(c.Text),
		FileHash:          fileHash,
		Metadata:          c.Metadata,
		CreatedUnix:       now,
		EmbeddingType:     c.EmbeddingType,
		ParentEmbeddingID: parentID,
	}
}

// commitResults merges prepared file results into the store: stale deletes
// first, then retained refreshes and reuse inserts, then one global embed
// pass over everything still needing a vector, write-through staging, and
// a flush.
func (ing *Ingestor) commitResults(ctx context.Context, agentID string, results []*fileResult, report *Report) error {
	var pending []pendingRecord

	for _, res := range results {
		if res == nil {
			continue
		}
		if res.err == nil {
			res.err = ing.persistPrepared(ctx, res, report)
		}
		if res.err != nil {
			ing.log.Warn("file ingestion failed", "agent", agentID, "path", res.relPath, "error", res.err)
			report.ErrorSamples = addSample(report.ErrorSamples, fmt.Sprintf("%s: %v", res.relPath, res.err))
			report.setStatus(res.relPath, StatusError)
			continue
		}
		report.setStatus(res.relPath, res.status)
		report.SummaryCalls += res.summaryCalls
		pending = append(pending, res.toEmbed...)
	}

	if err := ing.embedPending(ctx, agentID, pending, report); err != nil {
		return err
	}

	committed, err := ing.staging.Flush(ctx)
	if err != nil {
		ing.log.Warn("staging flush incomplete, entries retained",
			"agent", agentID, "committed", committed, "pending", ing.staging.Pending(), "error", err)
	}
	return nil
}

// persistPrepared commits one file's prepared changes. A failure here stays
// with this file: the caller records the error and moves on to the next
// result. Stale records go before inserts so the same logical region is
// never covered twice, even transiently.
func (ing *Ingestor) persistPrepared(ctx context.Context, res *fileResult, report *Report) error {
	if len(res.staleIDs) > 0 {
		deleted, err := ing.store.BulkDelete(ctx, res.staleIDs)
		if err != nil {
			return fmt.Errorf("delete stale records: %w", err)
		}
		report.DeletedEmbeddings += deleted
		report.DeletedSamples = addSample(report.DeletedSamples, res.relPath)
	}

	if len(res.retained) > 0 {
		if err := ing.store.RefreshRetained(ctx, res.retained); err != nil {
			return fmt.Errorf("refresh retained records: %w", err)
		}
	}
	if res.reused > 0 {
		report.ReusedEmbeddings += res.reused
		report.ReusedSamples = addSample(report.ReusedSamples, res.relPath)
	}

	if len(res.inserts) > 0 {
		if err := ing.store.BulkInsert(ctx, res.inserts); err != nil {
			return fmt.Errorf("insert reused records: %w", err)
		}
	}
	return nil
}

// embedPending embeds all queued texts in one batched pass, deduplicated by
// chunk hash across files, and writes results through the staging cache.
func (ing *Ingestor) embedPending(ctx context.Context, agentID string, pending []pendingRecord, report *Report) error {
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, 0, len(pending))
	slotByHash := make(map[string]int, len(pending))
	for _, p := range pending {
		if _, ok := slotByHash[p.record.ChunkHash]; !ok {
			slotByHash[p.record.ChunkHash] = len(texts)
			texts = append(texts, p.text)
		}
	}

	result, err := ing.client.EmbedTexts(ctx, "ingest:"+agentID, texts)
	if err != nil {
		return fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	report.EmbedStats.Add(result.Stats)

	// One record per hash goes through staging; additional records sharing
	// the hash insert directly, since staging keeps at most one entry per
	// hash and would silently swallow them.
	staged := make(map[string]bool, len(slotByHash))
	var duplicates []*storage.EmbeddingRecord
	for _, p := range pending {
		vec := result.Vectors[slotByHash[p.record.ChunkHash]]
		if vec == nil {
			report.FailedEmbeddings++
			ing.log.Warn("chunk not embedded, left out of the index",
				"agent", agentID, "path", p.record.FilePathRelative, "entity", p.record.EntityName)
			continue
		}

		p.record.Vector = vec.Values
		p.record.Dimension = vec.Dimension

		if staged[p.record.ChunkHash] {
			duplicates = append(duplicates, p.record)
		} else {
			staged[p.record.ChunkHash] = true
			if err := ing.staging.Add(ctx, p.record); err != nil {
				ing.log.Error("staging add failed", "path", p.record.FilePathRelative, "error", err)
				continue
			}
		}
		report.NewEmbeddings++
		report.NewSamples = addSample(report.NewSamples, fmt.Sprintf("%s#%s", p.record.FilePathRelative, p.record.EntityName))
	}

	if len(duplicates) > 0 {
		if err := ing.store.BulkInsert(ctx, duplicates); err != nil {
			return fmt.Errorf("insert duplicate-hash records: %w", err)
		}
	}
	return nil
}

// deleteUnvisited removes records for paths that were indexed before but
// not seen by the current scan.
func (ing *Ingestor) deleteUnvisited(ctx context.Context, agentID string, visited map[string]bool, report *Report) error {
	prev, err := ing.store.GetAllFilePathsForAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("list indexed paths: %w", err)
	}

	for _, path := range prev {
		if visited[path] {
			continue
		}
		records, err := ing.store.GetEmbeddingsForFile(ctx, path, agentID)
		if err != nil {
			return fmt.Errorf("load records for removed path %s: %w", path, err)
		}
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.EmbeddingID)
		}
		if len(ids) == 0 {
			continue
		}
		deleted, err := ing.store.BulkDelete(ctx, ids)
		if err != nil {
			return fmt.Errorf("delete records for removed path %s: %w", path, err)
		}
		report.DeletedEmbeddings += deleted
		report.DeletedSamples = addSample(report.DeletedSamples, path)
		report.setStatus(path, StatusRemoved)
		ing.log.Info("removed stale path from index", "agent", agentID, "path", path, "records", deleted)
	}
	return nil
}
