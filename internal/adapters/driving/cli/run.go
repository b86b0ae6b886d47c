package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// listener serves an HTTP handler for the lifetime of a long-running command.
type listener struct {
	addr    string
	handler http.Handler
}

// runUntilDone starts every component and listener and blocks until ctx
// ends or one of them fails. Components are stopped in reverse order.
func runUntilDone(ctx context.Context, components []driving.Scheduler, listeners ...listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(components)+len(listeners))
	for _, c := range components {
		go func(c driving.Scheduler) {
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}(c)
	}
	for _, l := range listeners {
		if l.addr == "" || l.handler == nil {
			continue
		}
		go func(l listener) {
			if err := serveHTTP(ctx, l.addr, l.handler); err != nil {
				errCh <- err
			}
		}(l)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()

	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(); err != nil {
			logger.Warn("stopping component: %v", err)
		}
	}
	return runErr
}

// serveHTTP runs handler on addr and shuts it down gracefully when ctx ends.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("http: listening on %s", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
