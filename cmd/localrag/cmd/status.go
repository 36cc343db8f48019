package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"localrag/internal/ollama"
	"localrag/internal/queue"
	"localrag/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collections, queue, and upstream state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			client := ollama.NewClient(ollama.Config{BaseURL: cfg.OllamaURL, CacheSize: -1})
			if err := client.Heartbeat(cmd.Context()); err != nil {
				fmt.Fprintf(out, "upstream:   unreachable (%s)\n", cfg.OllamaURL)
			} else {
				fmt.Fprintf(out, "upstream:   ok (%s)\n", cfg.OllamaURL)
			}
			fmt.Fprintf(out, "data dir:   %s\n", cfg.DataDir)
			fmt.Fprintf(out, "models:     embed=%s chat=%s\n\n", cfg.EmbeddingModel, cfg.ChatModel)

			manager := store.NewManager(cfg.DataDir, cfg.EmbeddingModel)
			if err := manager.LoadAll(); err != nil {
				return err
			}
			infos := manager.Infos()
			if len(infos) == 0 {
				fmt.Fprintln(out, "no collections indexed")
			} else {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "COLLECTION\tVECTORS\tDIMS\tMODEL\tSIZE\tHEALTH")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\t%s\n",
						info.Collection, info.VectorCount, info.Dimension,
						info.EmbeddingModel, info.TotalSizeBytes, info.Health)
				}
				w.Flush()
			}

			jobs, err := queue.New(cfg.QueueFile(), nil, nil)
			if err != nil {
				return err
			}
			byStatus := map[queue.Status]int{}
			for _, j := range jobs.Jobs() {
				byStatus[j.Status]++
			}
			fmt.Fprintf(out, "\nqueue: %d pending, %d processing, %d completed, %d failed, %d cancelled\n",
				byStatus[queue.StatusPending], byStatus[queue.StatusProcessing],
				byStatus[queue.StatusCompleted], byStatus[queue.StatusFailed],
				byStatus[queue.StatusCancelled])
			return nil
		},
	}
}
