// Package mcp exposes the indexed collections to MCP clients over stdio.
// Two tools are offered: semantic search within a collection, and a listing
// of the collections themselves.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	ragerr "localrag/internal/errors"
	"localrag/internal/store"
	"localrag/pkg/version"
)

const defaultSearchLimit = 5

// Embedder produces an embedding vector for a query.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Server is the MCP facade over the vector stores.
type Server struct {
	mcp      *mcp.Server
	manager  *store.Manager
	embedder Embedder
	model    string
	minScore float32
	logger   *slog.Logger
}

// NewServer builds the MCP server and registers its tools.
func NewServer(manager *store.Manager, embedder Embedder, embeddingModel string, minScore float32, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:  manager,
		embedder: embedder,
		model:    embeddingModel,
		minScore: minScore,
		logger:   logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "localrag",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over an indexed document collection. Returns the most relevant passages with their source file and section.",
	}, s.searchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "collections",
		Description: "List the indexed collections with their size and health.",
	}, s.collectionsHandler)
}

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Collection string `json:"collection" jsonschema:"the collection to search"`
	Query      string `json:"query" jsonschema:"the natural-language search query"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
}

// SearchResultOutput is one search hit.
type SearchResultOutput struct {
	FileName      string  `json:"fileName"`
	SourcePath    string  `json:"sourcePath"`
	HeaderContext string  `json:"headerContext,omitempty"`
	Score         float32 `json:"score"`
	Text          string  `json:"text"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, ragerr.ValidationError("query parameter is required")
	}
	if input.Collection == "" {
		return nil, SearchOutput{}, ragerr.ValidationError("collection parameter is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	st, err := s.manager.Get(input.Collection)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	vec, err := s.embedder.Embed(ctx, input.Query, s.model)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	results, err := st.FindNearest(vec, limit, s.minScore, s.model)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			FileName:      r.Metadata.FileName,
			SourcePath:    r.Metadata.SourcePath,
			HeaderContext: r.Metadata.HeaderContext,
			Score:         r.Score,
			Text:          r.Metadata.ChunkText,
		})
	}
	return nil, out, nil
}

// CollectionsInput is the (empty) input schema for the collections tool.
type CollectionsInput struct{}

// CollectionsOutput lists the indexed collections.
type CollectionsOutput struct {
	Collections []store.Info `json:"collections"`
}

func (s *Server) collectionsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CollectionsInput) (
	*mcp.CallToolResult,
	CollectionsOutput,
	error,
) {
	return nil, CollectionsOutput{Collections: s.manager.Infos()}, nil
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server started", "transport", "stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
