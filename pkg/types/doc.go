// Package types provides the shared domain types for semdex: chunks produced
// by a chunker, the typed metadata envelope attached to them, and retrieval
// result shapes. Content hashing helpers live here because both the change
// detector and the storage layer depend on the same fingerprint function.
package types
