// Package storage persists embedding records in SQLite and answers the
// queries the rest of the pipeline is built on.
//
// Records live in two tables committed together: embeddings (metadata, keyed
// by embedding_id with secondary indexes on (file_path_rel, agent_id) and
// chunk_hash) and embedding_vectors (the serialized float32 vector). An FTS5
// table over chunk text supplies the lexical half of the hybrid similarity
// query.
//
// Two SQLite drivers are supported via build tags: modernc.org/sqlite for
// pure Go builds (the default) and mattn/go-sqlite3 for CGO builds. See
// build_purego.go and build_cgo.go.
//
// The Store interface is the contract the orchestrators and the staging
// cache depend on; SQLiteStore is the production implementation.
package storage
