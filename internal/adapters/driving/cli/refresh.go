package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

var (
	refreshAsync   bool
	refreshWait    bool
	refreshWorkers bool
)

// statusPollInterval is how often a waiting command re-reads cycle status.
var statusPollInterval = 500 * time.Millisecond

var refreshCmd = &cobra.Command{
	Use:   "refresh [source]",
	Short: "Start a refresh cycle",
	Long: `Partitions the corpus into embedding batches, waits for the embed tasks
and submits the index build for the batches that succeeded.

The source defaults to pipeline.source. With --async the cycle runs in the
background and its ID is printed. With --wait the command returns once the
new version is published. --workers runs lane workers in this process for
the duration of the refresh and implies --wait.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshAsync, "async", false, "submit the cycle and return immediately")
	refreshCmd.Flags().BoolVar(&refreshWait, "wait", false, "wait until the index is published")
	refreshCmd.Flags().BoolVar(&refreshWorkers, "workers", false, "run lane workers in this process")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if refreshService == nil {
		return errNotConfigured("refresh service")
	}

	sourceRef := settings.Pipeline.SourceRef
	if len(args) > 0 {
		sourceRef = args[0]
	}
	if sourceRef == "" {
		return errors.New("no source given and pipeline.source is not set")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if refreshAsync {
		cycleID, err := refreshService.SubmitRefresh(ctx, sourceRef)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}
		cmd.Printf("Refresh cycle %s submitted.\n", cycleID)
		return nil
	}

	if refreshWorkers {
		if workerPool == nil {
			return errNotConfigured("worker pool")
		}
		workerCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = workerPool.Start(workerCtx)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	cmd.Printf("Refreshing %s...\n", sourceRef)
	stats, err := refreshService.RunFullRefresh(ctx, sourceRef)
	if err != nil {
		if stats.CycleID != "" {
			printCycle(cmd, stats)
		}
		return fmt.Errorf("refresh failed: %w", err)
	}

	if refreshWait || refreshWorkers {
		cmd.Printf("Waiting for cycle %s to publish...\n", stats.CycleID)
		stats, err = waitForCycle(ctx, stats.CycleID)
		if err != nil {
			return fmt.Errorf("waiting for cycle: %w", err)
		}
	}

	printCycle(cmd, stats)
	if stats.State == domain.RefreshFailed {
		return fmt.Errorf("refresh cycle %s failed: %s", stats.CycleID, stats.Error)
	}
	return nil
}

// waitForCycle polls the cycle until it reaches a terminal state.
func waitForCycle(ctx context.Context, cycleID string) (domain.RefreshStats, error) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		stats, err := refreshService.GetStatus(ctx, cycleID)
		if err != nil {
			return stats, err
		}
		if stats.State.IsTerminal() {
			return stats, nil
		}
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-ticker.C:
		}
	}
}

// printCycle prints the details of one refresh cycle.
func printCycle(cmd *cobra.Command, s domain.RefreshStats) {
	cmd.Printf("Cycle:     %s\n", s.CycleID)
	cmd.Printf("Source:    %s\n", s.SourceRef)
	cmd.Printf("State:     %s\n", s.State)
	cmd.Printf("Documents: %d (%d skipped)\n", s.TotalDocuments, s.SkippedDocuments)
	cmd.Printf("Batches:   %d total, %d succeeded, %d failed\n", s.TotalBatches, s.SucceededBatches, s.FailedBatches)
	if s.DocsPerSecond > 0 {
		cmd.Printf("Embedding: %s (%.1f docs/s)\n", s.EmbedDuration.Round(time.Millisecond), s.DocsPerSecond)
	}
	if s.BuildTaskID != "" {
		cmd.Printf("Build:     %s\n", s.BuildTaskID)
	}
	if s.VersionID != "" {
		cmd.Printf("Version:   %s\n", s.VersionID)
	}
	if s.Error != "" {
		cmd.Printf("Error:     %s\n", s.Error)
	}
}
