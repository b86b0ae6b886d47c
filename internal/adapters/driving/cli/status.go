package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	statusLimit int
	statusJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [cycle-id]",
	Short: "Show refresh cycle status",
	Long: `Shows the status of a refresh cycle, or lists the most recent cycles
when no cycle ID is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of cycles to list")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if refreshService == nil {
		return errNotConfigured("refresh service")
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		stats, err := refreshService.GetStatus(ctx, args[0])
		if err != nil {
			return fmt.Errorf("getting status: %w", err)
		}
		if statusJSON {
			return printJSON(cmd, stats)
		}
		printCycle(cmd, stats)
		return nil
	}

	cycles, err := refreshService.ListCycles(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("listing cycles: %w", err)
	}
	if statusJSON {
		return printJSON(cmd, cycles)
	}
	if len(cycles) == 0 {
		cmd.Println("No refresh cycles.")
		return nil
	}

	cmd.Printf("%-38s %-10s %8s %8s %6s  %s\n", "CYCLE", "STATE", "DOCS", "BATCHES", "FAILED", "VERSION")
	for _, c := range cycles {
		cmd.Printf("%-38s %-10s %8d %8d %6d  %s\n",
			c.CycleID, c.State, c.TotalDocuments, c.TotalBatches, c.FailedBatches, shortVersion(c))
	}
	return nil
}

func shortVersion(c domain.RefreshStats) string {
	if len(c.VersionID) > 14 {
		return c.VersionID[:14]
	}
	return c.VersionID
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
