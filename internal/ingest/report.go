package ingest

import (
	"github.com/semdex/semdex/internal/embedder"
)

// FileStatus is the per-file outcome of a sync run.
type FileStatus string

const (
	StatusIndexed FileStatus = "indexed" // file was (re)chunked and committed
	StatusSkipped FileStatus = "skipped" // file hash unchanged
	StatusRemoved FileStatus = "removed" // file yielded no chunks; records deleted
	StatusError   FileStatus = "error"   // this file failed; siblings unaffected
)

// maxSamples caps the example listings in a report.
const maxSamples = 10

// Report is the stable contract surface returned to callers after a sync.
type Report struct {
	AgentID    string                `json:"agentId"`
	FileStatus map[string]FileStatus `json:"fileStatus"`

	FilesIndexed int `json:"filesIndexed"`
	FilesSkipped int `json:"filesSkipped"`
	FilesRemoved int `json:"filesRemoved"`
	FilesErrored int `json:"filesErrored"`

	NewEmbeddings     int `json:"newEmbeddings"`
	ReusedEmbeddings  int `json:"reusedEmbeddings"`
	DeletedEmbeddings int `json:"deletedEmbeddings"`
	FailedEmbeddings  int `json:"failedEmbeddings"`

	NewSamples     []string `json:"newSamples,omitempty"`
	ReusedSamples  []string `json:"reusedSamples,omitempty"`
	DeletedSamples []string `json:"deletedSamples,omitempty"`
	ErrorSamples   []string `json:"errorSamples,omitempty"`

	SummaryCalls int            `json:"summaryCalls"`
	EmbedStats   embedder.Stats `json:"embedStats"`
}

func newReport(agentID string) *Report {
	return &Report{
		AgentID:    agentID,
		FileStatus: make(map[string]FileStatus),
	}
}

func (r *Report) setStatus(relPath string, status FileStatus) {
	r.FileStatus[relPath] = status
	switch status {
	case StatusIndexed:
		r.FilesIndexed++
	case StatusSkipped:
		r.FilesSkipped++
	case StatusRemoved:
		r.FilesRemoved++
	case StatusError:
		r.FilesErrored++
	}
}

func addSample(samples []string, s string) []string {
	if len(samples) >= maxSamples {
		return samples
	}
	return append(samples, s)
}
