package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"localrag/internal/ingest"
	"localrag/internal/logging"
	"localrag/internal/ollama"
	"localrag/internal/queue"
	"localrag/internal/store"
)

func newIngestCmd() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Index a file or directory into a collection",
		Long: `Runs one ingestion synchronously, without the HTTP service. Unchanged
files are skipped by content hash, renamed files are detected without
re-embedding, and files deleted from a directory are removed from the index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

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

			pipeline := ingest.NewPipeline(ingest.Config{
				DataDir:        cfg.DataDir,
				EmbeddingModel: cfg.EmbeddingModel,
				ChunkSize:      cfg.ChunkSize,
				ChunkOverlap:   cfg.ChunkOverlap,
			}, client, manager, logger)

			job := queue.Job{
				ID:         "cli",
				Path:       args[0],
				Collection: collection,
				AddedAt:    time.Now().UTC(),
			}

			var last string
			err = pipeline.Run(cmd.Context(), job, func(msg string) {
				last = msg
				fmt.Fprintf(cmd.OutOrStdout(), "\r%s", msg)
			})
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("ingestion failed (%s): %w", last, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "done: %s\n", last)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "default", "Target collection name")
	return cmd
}
