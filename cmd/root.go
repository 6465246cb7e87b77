package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lead-ranker",
	Short: "Persona-driven lead ranking engine",
	Long:  "Ranks company contact lists against a buyer persona: heuristic shortlisting, multi-pass Claude scoring, cached results, and per-run cost accounting.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
