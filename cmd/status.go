package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health over the recent window",
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

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		formatStatus(snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

func formatStatus(snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "window\t%dh\n", snap.LookbackHours)
	fmt.Fprintf(w, "runs\t%d (done %d, failed %d, rejected %d, unmatched %d)\n",
		snap.RunsTotal, snap.RunsDone, snap.RunsFailed, snap.RunsRejected, snap.RunsUnmatched)
	fmt.Fprintf(w, "failure rate\t%.1f%%\n", snap.FailRate*100)
	fmt.Fprintf(w, "spend\t$%.2f\n", snap.CostUSD)
	fmt.Fprintf(w, "avg latency\t%dms\n", snap.AvgLatencyMS)
	fmt.Fprintf(w, "cache\t%d entries, %d hits (%.1f%% of runs served from cache)\n",
		snap.CacheEntries, snap.CacheHits, snap.CacheHitRate*100)
	fmt.Fprintf(w, "validation\t%d pending, %d confirmed, %d rejected, %d expired\n",
		snap.SessionsPresented, snap.SessionsConfirmed, snap.SessionsRejected, snap.SessionsExpired)
	_ = w.Flush()
}
