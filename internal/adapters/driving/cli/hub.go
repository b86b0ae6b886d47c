package cli

import (
	"github.com/spf13/cobra"
)

var hubAddr string

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the bus relay",
	Long: `Relays hot-swap announcements between worker and serving processes.
Workers publish to the hub and serving nodes hold a websocket subscription
to it. Only needed when bus.backend is "websocket".`,
	Args: cobra.NoArgs,
	RunE: runHub,
}

func init() {
	hubCmd.Flags().StringVar(&hubAddr, "addr", "", "listen address (default from bus.listen)")
	rootCmd.AddCommand(hubCmd)
}

func runHub(cmd *cobra.Command, _ []string) error {
	if hubHandler == nil {
		return errNotConfigured("bus hub")
	}
	addr := hubAddr
	if addr == "" {
		addr = settings.Bus.Listen
	}
	if addr == "" {
		addr = ":7070"
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cmd.Printf("Bus hub listening on %s. Press Ctrl+C to stop.\n", addr)
	err := runUntilDone(ctx, nil, listener{addr: addr, handler: hubHandler})
	cmd.Println("Bus hub stopped.")
	return err
}
