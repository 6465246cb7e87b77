package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the ranking result cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired cache entries",
	Long:  "Expiry is otherwise lazy: expired rows are skipped on read but kept on disk until purged.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		purged, err := st.PurgeExpiredRankCache(ctx)
		if err != nil {
			return eris.Wrap(err, "cache purge")
		}

		zap.L().Info("cache purged", zap.Int("entries", purged))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
