// Package detect decides whether a file needs re-ingestion by comparing
// its current content hash against the last indexed hash. Pure: nothing
// here mutates the index; the orchestrator refreshes it through committed
// records.
package detect

import (
	"github.com/semdex/semdex/pkg/types"
)

// FileHashIndex maps a relative file path to the most recently ingested
// file hash, one entry per path.
type FileHashIndex map[string]string

// Status reports the outcome of a change check.
type Status int

const (
	// StatusNeedsProcessing means the file is new or its content changed.
	StatusNeedsProcessing Status = iota
	// StatusSkipped means the indexed hash matches the current content.
	StatusSkipped
)

func (s Status) String() string {
	if s == StatusSkipped {
		return "skipped"
	}
	return "needs-processing"
}

// Result carries the computed hash alongside the decision so callers never
// hash the same content twice.
type Result struct {
	FileHash string
	Status   Status
}

// Check hashes content and compares it against the indexed hash for relPath.
func Check(content []byte, relPath string, index FileHashIndex) Result {
	hash := types.HashBytes(content)
	if indexed, ok := index[relPath]; ok && indexed == hash {
		return Result{FileHash: hash, Status: StatusSkipped}
	}
	return Result{FileHash: hash, Status: StatusNeedsProcessing}
}
