// Package cli provides the sercha-indexer command line.
//
// Commands are registered on rootCmd in init functions. The services they
// drive are injected with Configure, or built on first use by the
// bootstrap function installed with SetBootstrap.
package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Services holds everything the commands operate on.
type Services struct {
	// Settings is the loaded runtime configuration.
	Settings domain.Settings

	Refresh     driving.RefreshService
	Tasks       driving.TaskService
	Search      driving.SearchService
	Maintenance driving.MaintenanceService

	// Workers runs the lane workers. Start blocks.
	Workers driving.Scheduler

	// Scheduler submits periodic refresh, cleanup and stats work.
	Scheduler driving.Scheduler

	// Subscriber keeps the serving cache on the published version.
	Subscriber driving.Scheduler

	// NewRouter returns a router carrying /metrics and /healthz.
	NewRouter func() chi.Router

	// Hub relays bus messages between processes. Nil when the bus is in-process.
	Hub http.Handler

	// Close releases stores and connections.
	Close func() error
}

// Bootstrap builds the services from the configuration in configDir.
type Bootstrap func(ctx context.Context, configDir string) (*Services, error)

var (
	version   = "dev"
	bootstrap Bootstrap

	configDir string
	verbose   bool
)

// Injected services.
var (
	settings           = domain.DefaultSettings()
	refreshService     driving.RefreshService
	taskService        driving.TaskService
	searchService      driving.SearchService
	maintenanceService driving.MaintenanceService
	workerPool         driving.Scheduler
	scheduler          driving.Scheduler
	swapSubscriber     driving.Scheduler
	newRouter          func() chi.Router
	hubHandler         http.Handler
	closeServices      func() error
	configured         bool
)

var rootCmd = &cobra.Command{
	Use:   "sercha-indexer",
	Short: "Asynchronous vector index refresh pipeline",
	Long: `sercha-indexer embeds a document corpus in batches on a task queue,
builds a versioned vector index from the finished batches, publishes it to
an object store and hot-swaps it into every serving node.

Run "worker" processes to execute queued tasks and "serve" processes to
answer queries; "refresh" starts a new cycle.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		if cmd.Annotations[annotationNoServices] == "true" {
			return nil
		}
		return ensureServices(cmd.Context())
	},
}

// annotationNoServices marks commands that run without services.
const annotationNoServices = "no-services"

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "config directory (default ~/.sercha-indexer)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetBootstrap installs the function that builds services on first use.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// Configure injects services directly.
func Configure(s *Services) {
	settings = s.Settings
	refreshService = s.Refresh
	taskService = s.Tasks
	searchService = s.Search
	maintenanceService = s.Maintenance
	workerPool = s.Workers
	scheduler = s.Scheduler
	swapSubscriber = s.Subscriber
	newRouter = s.NewRouter
	hubHandler = s.Hub
	closeServices = s.Close
	configured = true
}

func ensureServices(ctx context.Context) error {
	if configured || bootstrap == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := bootstrap(ctx, configDir)
	if err != nil {
		return err
	}
	Configure(s)
	return nil
}

// Execute runs the root command and releases services afterwards.
func Execute() error {
	err := rootCmd.Execute()
	if closeServices != nil {
		if cerr := closeServices(); cerr != nil {
			logger.Warn("closing services: %v", cerr)
		}
	}
	return err
}

// errNotConfigured reports a service the command needs but was not given.
func errNotConfigured(name string) error {
	return errors.New(name + " not configured")
}
