package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/semdex/semdex/internal/ingest"
	"github.com/semdex/semdex/internal/retrieve"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// handleIndexDirectory handles the index_directory tool invocation
func (s *Server) handleIndexDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	agentID, err := requireString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if err := validateDir(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	report, err := s.ingestor.SyncDirectory(ctx, agentID, path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(reportResponse(report))), nil
}

// handleIndexFile handles the index_file tool invocation
func (s *Server) handleIndexFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	agentID, err := requireString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		return nil, newMCPError(ErrorCodeInvalidParams, "path must be absolute", map[string]interface{}{
			"param": "path",
		})
	}
	info, statErr := os.Stat(path)
	if statErr != nil || info.IsDir() {
		return nil, newMCPError(ErrorCodeInvalidParams, "path is not a readable file", map[string]interface{}{
			"param": "path",
		})
	}

	root := getStringDefault(args, "root", filepath.Dir(path))

	report, err := s.ingestor.SyncFile(ctx, agentID, path, root)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(reportResponse(report))), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	agentID, err := requireString(args, "agent_id")
	if err != nil {
		return nil, err
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	var excludeTypes []string
	if raw, ok := args["exclude_types"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				excludeTypes = append(excludeTypes, s)
			}
		}
	}

	results, err := s.retriever.Search(ctx, retrieve.Query{
		AgentID:      agentID,
		Text:         query,
		TopK:         limit,
		PathPrefix:   getStringDefault(args, "path_prefix", ""),
		ExcludeKinds: excludeTypes,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		item := map[string]interface{}{
			"embedding_id": r.EmbeddingID,
			"file_path":    r.FilePath,
			"entity_name":  r.EntityName,
			"chunk_text":   r.ChunkText,
			"score":        r.Score,
			"type":         string(r.EmbeddingType),
			"metadata":     r.Metadata,
		}
		if r.AISummaryText != "" {
			item["summary"] = r.AISummaryText
		}
		items = append(items, item)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"query":   query,
		"count":   len(items),
		"results": items,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	agentID, err := requireString(args, "agent_id")
	if err != nil {
		return nil, err
	}

	status, err := s.store.Status(ctx, agentID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"agent_id":      status.AgentID,
		"records":       status.RecordCount,
		"files":         status.FileCount,
		"index_size_mb": fmt.Sprintf("%.2f", status.IndexSizeMB),
		"model":         s.client.Provider().ModelName(),
	})), nil
}

// handlePurgeAgent handles the purge_agent tool invocation
func (s *Server) handlePurgeAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	agentID, err := requireString(args, "agent_id")
	if err != nil {
		return nil, err
	}

	removed, err := s.ingestor.PurgeAgent(ctx, agentID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "purge failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"agent_id": agentID,
		"removed":  removed,
	})), nil
}

// Helper functions

// reportResponse flattens an ingestion report into the tool response shape.
func reportResponse(report *ingest.Report) map[string]interface{} {
	resp := map[string]interface{}{
		"agent_id":           report.AgentID,
		"files_indexed":      report.FilesIndexed,
		"files_skipped":      report.FilesSkipped,
		"files_removed":      report.FilesRemoved,
		"files_errored":      report.FilesErrored,
		"new_embeddings":     report.NewEmbeddings,
		"reused_embeddings":  report.ReusedEmbeddings,
		"deleted_embeddings": report.DeletedEmbeddings,
		"failed_embeddings":  report.FailedEmbeddings,
		"api_requests":       report.EmbedStats.Requests,
		"api_retries":        report.EmbedStats.Retries,
		"tokens_processed":   report.EmbedStats.TokensProcessed,
	}
	if len(report.NewSamples) > 0 {
		resp["new_samples"] = report.NewSamples
	}
	if len(report.DeletedSamples) > 0 {
		resp["deleted_samples"] = report.DeletedSamples
	}
	if len(report.ErrorSamples) > 0 {
		resp["errors"] = report.ErrorSamples
	}
	return resp
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// validateDir checks that path is an absolute, readable directory.
func validateDir(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
