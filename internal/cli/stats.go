package cli

import (
	"fmt"
	"slices"

	"github.com/raphaelgruber/sortify/internal/client"
	"github.com/raphaelgruber/sortify/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sortify-server statistics",
	Long: `Show per-operation timing collected by the sortify-server at
$SORTIFY_SERVER_URL.

Examples:
  sortify stats`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	snap, err := client.New(cfg.ServerURL, cfg.Owner).Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}
	printStats(cmd, snap)
	return nil
}

func printStats(cmd *cobra.Command, snap *metrics.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Uptime: %.0fs\n\n", snap.UptimeSeconds)

	if len(snap.Operations) == 0 {
		fmt.Fprintln(out, "No operations recorded yet.")
		return
	}

	names := make([]string, 0, len(snap.Operations))
	for name := range snap.Operations {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprintf(out, "%-16s %7s %7s %9s %9s %9s\n", "OPERATION", "COUNT", "ERRORS", "AVG(ms)", "MIN(ms)", "MAX(ms)")
	for _, name := range names {
		op := snap.Operations[name]
		fmt.Fprintf(out, "%-16s %7d %7d %9.1f %9d %9d\n", name, op.Count, op.Errors, op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	}
}
