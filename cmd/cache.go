package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cache"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the analysis cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry and hit counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.GetCacheStats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("entries: %d\nhits:    %d\n", stats.Entries, stats.TotalHits)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		retryCfg := resilience.FromConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMS,
			cfg.Retry.MaxBackoffMS,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		)
		n, err := cache.New(st, cfg.Cache.TTL(), retryCfg).Purge(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("purged %d expired entries\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
