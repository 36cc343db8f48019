// Package cmd provides the CLI commands for localrag.
package cmd

import (
	"github.com/spf13/cobra"

	"localrag/internal/config"
	"localrag/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the localrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "localrag",
		Short: "Offline RAG service over your local documents",
		Long: `localrag ingests local documents into per-collection vector stores and
answers questions about them with a local model runtime. Everything stays on
this machine: embeddings, retrieval, chat, and telemetry.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("localrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
