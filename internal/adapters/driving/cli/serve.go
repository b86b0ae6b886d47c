package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
)

var (
	serveAddr    string
	serveWorkers bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a serving node",
	Long: `Loads the published index and keeps it current: hot-swap announcements
trigger an immediate swap and a periodic poll of the latest pointer catches
any missed announcement. Metrics and a health check are served on the
metrics address.

With --workers the node also runs lane workers and the scheduler, which
makes a single process a complete deployment.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "metrics listen address (default from metrics.addr)")
	serveCmd.Flags().BoolVar(&serveWorkers, "workers", false, "also run lane workers and the scheduler")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if swapSubscriber == nil {
		return errNotConfigured("swap subscriber")
	}

	components := []driving.Scheduler{swapSubscriber}
	if serveWorkers {
		if workerPool == nil {
			return errNotConfigured("worker pool")
		}
		components = append(components, workerPool)
		if scheduler != nil {
			components = append(components, scheduler)
		}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cmd.Println("Serving node started. Press Ctrl+C to stop.")
	err := runUntilDone(ctx, components, metricsListener(serveAddr))
	if searchService != nil {
		if v := searchService.CurrentVersion(); v != "" {
			cmd.Printf("Last served version: %s\n", v)
		}
	}
	cmd.Println("Serving node stopped.")
	return err
}
