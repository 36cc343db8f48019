package cmd

import (
	"github.com/spf13/cobra"

	"localrag/internal/logging"
	"localrag/internal/mcp"
	"localrag/internal/ollama"
	"localrag/internal/store"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the indexed collections to MCP clients over stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout so AI assistants can
search the indexed collections. Logs go to the log directory only; stdout is
reserved for the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// stdout carries JSON-RPC, so no stderr logging here either:
			// some clients treat stderr output as a protocol failure.
			logger, cleanup, err := logging.Setup(logging.Config{
				Level: cfg.LogLevel,
				Dir:   cfg.LogsDir,
			})
			if err != nil {
				return err
			}
			defer cleanup()

			client := ollama.NewClient(ollama.Config{
				BaseURL:   cfg.OllamaURL,
				CacheSize: cfg.EmbedCacheSize,
			})
			manager := store.NewManager(cfg.DataDir, cfg.EmbeddingModel)
			if err := manager.LoadAll(); err != nil {
				return err
			}

			srv := mcp.NewServer(manager, client, cfg.EmbeddingModel, cfg.MinScore, logger)
			return srv.Serve(cmd.Context())
		},
	}
}
