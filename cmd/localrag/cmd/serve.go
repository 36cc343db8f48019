package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"localrag/internal/config"
	"localrag/internal/ingest"
	"localrag/internal/logging"
	"localrag/internal/ollama"
	"localrag/internal/qlog"
	"localrag/internal/query"
	"localrag/internal/queue"
	"localrag/internal/server"
	"localrag/internal/store"
	"localrag/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var port int
	var watchFlag bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Starts the localrag HTTP/SSE service: ingestion queue, vector search,
and grounded chat. Runs until SIGINT or SIGTERM, then drains in-flight
requests and persists state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("watch") {
				cfg.Watch.Enabled = watchFlag
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "HTTP listen port")
	cmd.Flags().BoolVar(&watchFlag, "watch", false, "Re-ingest previously ingested directories when their files change")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.LogLevel,
		Dir:           cfg.LogsDir,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ollama.NewClient(ollama.Config{
		BaseURL:     cfg.OllamaURL,
		ChatTimeout: cfg.ChatTimeout,
		CacheSize:   cfg.EmbedCacheSize,
	})

	manager := store.NewManager(cfg.DataDir, cfg.EmbeddingModel)
	if err := manager.LoadAll(); err != nil {
		return err
	}

	qlogger, err := qlog.New(cfg.QueryLogFile(), logger)
	if err != nil {
		return err
	}
	defer qlogger.Close()

	pipeline := ingest.NewPipeline(ingest.Config{
		DataDir:        cfg.DataDir,
		EmbeddingModel: cfg.EmbeddingModel,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
	}, client, manager, logger)

	jobs, err := queue.New(cfg.QueueFile(), pipeline.Run, logger)
	if err != nil {
		return err
	}
	jobs.Start(ctx)

	qp := query.New(query.Config{
		EmbeddingModel:   cfg.EmbeddingModel,
		ChatModel:        cfg.ChatModel,
		TopK:             cfg.TopK,
		MinScore:         cfg.MinScore,
		MaxContextTokens: cfg.MaxContextTokens,
	}, client, client, manager, qlogger, logger)

	if cfg.Watch.Enabled {
		w, err := watcher.New(jobs, cfg.Watch.Debounce, logger)
		if err != nil {
			return err
		}
		defer w.Close()
		registerWatchedRoots(w, jobs, logger)
		w.Start(ctx)
	}

	srv, err := server.New(cfg, server.Deps{
		Client:   client,
		Manager:  manager,
		Pipeline: qp,
		Queue:    jobs,
		QueryLog: qlogger,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("localrag started",
		"port", cfg.Port,
		"dataDir", cfg.DataDir,
		"embeddingModel", cfg.EmbeddingModel,
		"chatModel", cfg.ChatModel)
	return srv.Run(ctx)
}

// registerWatchedRoots re-arms watching for directories that completed an
// ingestion in a previous run.
func registerWatchedRoots(w *watcher.Watcher, jobs *queue.Queue, logger *slog.Logger) {
	seen := map[string]bool{}
	for _, job := range jobs.Jobs() {
		if job.Status != queue.StatusCompleted || seen[job.Path] {
			continue
		}
		info, err := os.Stat(job.Path)
		if err != nil || !info.IsDir() {
			continue
		}
		seen[job.Path] = true
		if err := w.Watch(job.Path, job.Collection); err != nil {
			logger.Warn("cannot watch ingested root", "path", job.Path, "error", err)
		}
	}
}
