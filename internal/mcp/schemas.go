package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexDirectoryTool returns the tool definition for index_directory
func indexDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_directory",
		Description: "Recursively index a directory of source files into the semantic index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"agent_id": map[string]interface{}{
					"type":        "string",
					"description": "Tenant scope owning the indexed records",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the directory to index",
				},
			},
			Required: []string{"agent_id", "path"},
		},
	}
}

// indexFileTool returns the tool definition for index_file
func indexFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_file",
		Description: "Index a single source file into the semantic index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"agent_id": map[string]interface{}{
					"type":        "string",
					"description": "Tenant scope owning the indexed records",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the file to index",
				},
				"root": map[string]interface{}{
					"type":        "string",
					"description": "Root directory anchoring the stored relative path (defaults to the file's directory)",
				},
			},
			Required: []string{"agent_id", "path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search indexed code with a natural language query, returning chunks with their structural parent context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"agent_id": map[string]interface{}{
					"type":        "string",
					"description": "Tenant scope to search in",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"path_prefix": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to relative paths under this prefix",
				},
				"exclude_types": map[string]interface{}{
					"type":        "array",
					"description": "Chunk type discriminators to leave out (e.g. full_file)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"agent_id", "query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query index statistics for an agent",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"agent_id": map[string]interface{}{
					"type":        "string",
					"description": "Tenant scope to report on",
				},
			},
			Required: []string{"agent_id"},
		},
	}
}

// purgeAgentTool returns the tool definition for purge_agent
func purgeAgentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "purge_agent",
		Description: "Delete every indexed record belonging to an agent",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"agent_id": map[string]interface{}{
					"type":        "string",
					"description": "Tenant scope to purge",
				},
			},
			Required: []string{"agent_id"},
		},
	}
}
