package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"enhanceswarm/log"
)

// SignalHandler intercepts termination requests and drives graceful shutdown
// by cancelling the run context. The monitor and retry sleeps observe the
// cancellation within one poll interval. A second termination request during
// an in-progress shutdown is ignored.
type SignalHandler struct {
	cancel      context.CancelFunc
	sigCh       chan os.Signal
	once        sync.Once
	interrupted atomic.Bool
}

// NewSignalHandler returns a handler that cancels the given function on
// SIGINT or SIGTERM.
func NewSignalHandler(cancel context.CancelFunc) *SignalHandler {
	return &SignalHandler{
		cancel: cancel,
		sigCh:  make(chan os.Signal, 1),
	}
}

// Start registers the signal handlers. Call Stop to unregister.
func (h *SignalHandler) Start() {
	signal.Notify(h.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range h.sigCh {
			h.once.Do(func() {
				h.interrupted.Store(true)
				log.InfoLog.Printf("received %s, shutting down gracefully", sig)
				h.cancel()
			})
			// Further signals are swallowed: shutdown is already in progress.
		}
	}()
}

// Stop unregisters the signal handlers.
func (h *SignalHandler) Stop() {
	signal.Stop(h.sigCh)
	close(h.sigCh)
}

// Interrupted reports whether a termination request was received.
func (h *SignalHandler) Interrupted() bool {
	return h.interrupted.Load()
}

// RequestShutdown triggers the same path as an external signal, for callers
// that cancel programmatically. Idempotent.
func (h *SignalHandler) RequestShutdown() {
	h.once.Do(func() {
		h.interrupted.Store(true)
		log.InfoLog.Printf("shutdown requested")
		h.cancel()
	})
}
