package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/semdex/semdex/internal/chunker"
	"github.com/semdex/semdex/internal/config"
	"github.com/semdex/semdex/internal/embedder"
	"github.com/semdex/semdex/internal/ingest"
	"github.com/semdex/semdex/internal/retrieve"
	"github.com/semdex/semdex/internal/staging"
	"github.com/semdex/semdex/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "semdex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the ingestion and retrieval pipeline.
type Server struct {
	mcp       *server.MCPServer
	store     storage.Store
	client    *embedder.Client
	ingestor  *ingest.Ingestor
	retriever *retrieve.Retriever
	log       *slog.Logger
}

// NewServer assembles the pipeline from configuration and registers the
// tool surface.
func NewServer(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	provider, err := embedder.NewProvider(cfg.Provider, cfg.Model)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialize embedding provider: %w", err)
	}
	log.Info("embedding provider ready", "model", provider.ModelName(), "dimension", provider.Dimension())

	embedCfg := embedder.DefaultConfig()
	embedCfg.BatchSize = cfg.Ingest.BatchSize
	embedCfg.CallsPerWindow = cfg.Ingest.CallsPerWindow
	embedCfg.Window = time.Duration(cfg.Ingest.WindowSeconds) * time.Second
	client := embedder.NewClient(provider, embedCfg)

	stage, err := staging.New(cfg.StagingPath, store, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialize staging cache: %w", err)
	}
	if err := stage.Load(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load staging cache: %w", err)
	}
	if pending := stage.Pending(); pending > 0 {
		log.Info("recovered staged embeddings from previous run", "pending", pending)
	}

	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion),
		store:     store,
		client:    client,
		ingestor:  ingest.New(store, stage, client, chunker.New(), cfg.Ingest.Workers, log),
		retriever: retrieve.New(store, client, retrieve.Options{
			ParentBoost:     cfg.Retrieve.ParentBoost,
			OverfetchFactor: cfg.Retrieve.OverfetchFactor,
		}, log),
		log: log,
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		_ = s.client.Close()
		_ = s.store.Close()
	}()
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexDirectoryTool(), s.handleIndexDirectory)
	s.mcp.AddTool(indexFileTool(), s.handleIndexFile)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(purgeAgentTool(), s.handlePurgeAgent)
}
