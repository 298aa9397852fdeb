// Package mcp exposes the ingestion and retrieval pipeline as MCP tools
// over stdio.
//
// Tools:
//
//	index_directory  recursively index a directory for an agent
//	index_file       index a single file
//	search_code      parent-document retrieval over the index
//	get_status       record/file counts and index size for an agent
//	purge_agent      delete an agent's records
//
// All tool responses are JSON text. Logging goes to stderr; stdout belongs
// to the protocol.
package mcp
