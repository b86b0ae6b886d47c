package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	gcJSON    bool
	statsJSON bool
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete expired index versions and batches",
	Long: `Deletes index versions older than index.retention, always keeping the
published version and the index.retain_versions newest. Embedding batches
of finished cycles are deleted once no kept version was built from them.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and queue statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	gcCmd.Flags().BoolVar(&gcJSON, "json", false, "output as JSON")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(statsCmd)
}

func runGC(cmd *cobra.Command, _ []string) error {
	if maintenanceService == nil {
		return errNotConfigured("maintenance service")
	}

	report, err := maintenanceService.Cleanup(cmd.Context())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	if gcJSON {
		return printJSON(cmd, report)
	}

	cmd.Printf("Kept %d versions, deleted %d versions and %d cycles (%d objects).\n",
		len(report.KeptVersions), len(report.DeletedVersions), len(report.DeletedCycles), report.DeletedKeys)
	for _, v := range report.DeletedVersions {
		cmd.Printf("  - %s\n", v)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	if maintenanceService == nil {
		return errNotConfigured("maintenance service")
	}

	stats, err := maintenanceService.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	if statsJSON {
		return printJSON(cmd, stats)
	}

	latest := stats.LatestVersion
	if latest == "" {
		latest = "(none)"
	}
	cmd.Printf("Latest version:  %s\n", latest)
	if stats.LatestVersion != "" {
		cmd.Printf("Vectors:         %d (%s)\n", stats.LatestVectors, stats.LatestKind)
	}
	cmd.Printf("Stored versions: %d\n", stats.StoredVersions)
	cmd.Printf("Batch cycles:    %d\n", stats.BatchCycles)
	cmd.Println("Queue depth:")
	lanes := make([]string, 0, len(stats.QueueDepth))
	for lane := range stats.QueueDepth {
		lanes = append(lanes, string(lane))
	}
	sort.Strings(lanes)
	for _, lane := range lanes {
		cmd.Printf("  %-12s %d\n", lane, stats.QueueDepth[domain.Lane(lane)])
	}
	return nil
}
