//go:build !cgo_sqlite
// +build !cgo_sqlite

package storage

// This file is compiled for the default pure Go build. It needs no C
// compiler and cross-compiles cleanly; FTS5 comes bundled with
// modernc.org/sqlite.
//
// Build command:
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
