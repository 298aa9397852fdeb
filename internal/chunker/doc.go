// Package chunker splits source files into embeddable chunks.
//
// The reference BlockChunker emits a full-file chunk as the structural
// parent plus one chunk per top-level declaration, located by per-language
// regular expressions. It favors recall over parse fidelity: a file in an
// unknown language still gets its full-file chunk, and a declaration the
// patterns miss is still covered by the parent. Callers needing AST-accurate
// chunking plug their own FileChunker behind the same contract.
//
// MultiVector layers optional AI summaries on top, one summary chunk per
// entity chunk, linked child to parent.
package chunker
