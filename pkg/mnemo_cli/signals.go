// pkg/mnemo_cli/signals.go

package mnemo_cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// cleanupTimeout bounds how long graceful shutdown may take before the
// handler gives up on registered cleanups.
const cleanupTimeout = 10 * time.Second

// CleanupFunc releases one resource during shutdown.
type CleanupFunc func() error

// SignalHandler cancels its context on SIGINT or SIGTERM and runs
// registered cleanups in reverse order when stopped. A second signal
// exits immediately for operators who will not wait.
type SignalHandler struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu      sync.Mutex
	cleanup []CleanupFunc
	once    sync.Once
	sigCh   chan os.Signal
}

// NewSignalHandler installs the signal watcher. Callers must defer Stop.
func NewSignalHandler(ctx context.Context, log *zap.Logger) *SignalHandler {
	ctx, cancel := context.WithCancel(ctx)
	if log == nil {
		log = zap.NewNop()
	}

	h := &SignalHandler{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		sigCh:  make(chan os.Signal, 2),
	}
	signal.Notify(h.sigCh, os.Interrupt, syscall.SIGTERM)
	go h.watch()
	return h
}

// Context returns the context operations should run under; it is
// cancelled on the first signal.
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

// RegisterCleanup adds a shutdown step. Cleanups run in reverse order of
// registration.
func (h *SignalHandler) RegisterCleanup(fn CleanupFunc) {
	h.mu.Lock()
	h.cleanup = append(h.cleanup, fn)
	h.mu.Unlock()
}

// Stop detaches from signals, cancels the context, and runs cleanups.
// Safe to call more than once; only the first call does the work.
func (h *SignalHandler) Stop() {
	h.once.Do(func() {
		signal.Stop(h.sigCh)
		h.cancel()
		h.runCleanups()
	})
}

func (h *SignalHandler) watch() {
	select {
	case sig := <-h.sigCh:
		h.log.Warn("Received signal, shutting down",
			zap.String("signal", sig.String()))
		h.cancel()

		sig = <-h.sigCh
		h.log.Error("Second signal, exiting immediately",
			zap.String("signal", sig.String()))
		os.Exit(1)
	case <-h.ctx.Done():
	}
}

func (h *SignalHandler) runCleanups() {
	h.mu.Lock()
	fns := make([]CleanupFunc, len(h.cleanup))
	copy(fns, h.cleanup)
	h.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				h.log.Warn("Cleanup step failed", zap.Error(err))
			}
		}
	}()

	select {
	case <-finished:
	case <-time.After(cleanupTimeout):
		h.log.Error("Cleanup timed out",
			zap.Duration("timeout", cleanupTimeout))
	}
}
