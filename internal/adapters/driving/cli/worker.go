package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
)

var (
	workerNoScheduler bool
	workerMetricsAddr string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run lane workers",
	Long: `Leases tasks from the embedding, indexing and maintenance lanes and runs
them until interrupted. Each lane has its own workers, so a flood of
embedding work never starves index builds.

The periodic scheduler runs alongside the workers unless --no-scheduler is
given. Metrics are served on the metrics address.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerNoScheduler, "no-scheduler", false, "do not run periodic triggers")
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", "", "metrics listen address (default from metrics.addr)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if workerPool == nil {
		return errNotConfigured("worker pool")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	components := []driving.Scheduler{workerPool}
	if !workerNoScheduler && scheduler != nil {
		components = append(components, scheduler)
	}

	cmd.Println("Workers started. Press Ctrl+C to stop.")
	err := runUntilDone(ctx, components, metricsListener(workerMetricsAddr))
	cmd.Println("Workers stopped.")
	return err
}

// metricsListener serves /metrics and /healthz on addr, or on the
// configured metrics address when addr is empty.
func metricsListener(addr string) listener {
	if addr == "" {
		addr = settings.MetricsAddr
	}
	if newRouter == nil {
		return listener{}
	}
	return listener{addr: addr, handler: newRouter()}
}
