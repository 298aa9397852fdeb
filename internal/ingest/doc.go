// Package ingest orchestrates the indexing pipeline.
//
// A sync runs in two phases. Preparation is per file and side-effect free:
// read, hash-compare against the index, chunk, and plan which chunks are
// retained, which reuse an existing vector by content hash, and which need
// embedding. Directory syncs prepare files concurrently under a bounded
// worker pool; each task fills its own result slot, so the merge that
// follows is single-threaded and race-free.
//
// Commit applies results in a fixed order per file: stale deletes first,
// then retained-record refreshes and reuse inserts, then one global
// embedding pass over every text still needing a vector. Freshly computed
// vectors go through the staging cache before the flush commits them, so a
// crash after the provider call never wastes a paid embedding. Finally a
// directory sync deletes records of previously indexed paths the scan did
// not visit.
package ingest
