package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/config"
	"github.com/spec-kit/support-dispatch/internal/observability"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "autopatchctl",
	Short: "Inspect the configuration catalog and dry-run ticket detection",
	Long: "autopatchctl loads the same blueprint and knowledge corpus as the dispatch\n" +
		"service and runs the detection cascade against a ticket text without\n" +
		"touching the ticket store.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logger, err = observability.NewLogger(cfg.App, cfg.Logger, observability.WriteTo("stderr"))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
