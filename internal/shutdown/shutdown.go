// Package shutdown turns SIGINT/SIGTERM into context cancellation and runs
// cleanup callbacks once the crawl has stopped.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/logger"
)

// Handler manages graceful shutdown.
type Handler struct {
	mu sync.Mutex

	// Callbacks
	callbacks     []Callback
	callbackNames []string

	// State
	signalled      atomic.Bool
	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration

	// Context
	ctx    context.Context
	cancel context.CancelFunc

	// Signal handling
	sigChan chan os.Signal

	logger *logger.Logger
}

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration // budget for all callbacks together
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a handler whose context derives from parent and starts
// listening for signals.
func New(parent context.Context, cfg Config) *Handler {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = defaults.Signals
	}

	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		logger:  logger.OrNop(cfg.Logger).WithComponent("shutdown"),
	}

	signal.Notify(h.sigChan, cfg.Signals...)
	go h.wait()

	return h
}

// Register registers a shutdown callback with a name.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.callbackNames = append(h.callbackNames, name)
}

// RegisterFunc registers a cleanup function that may fail.
func (h *Handler) RegisterFunc(name string, fn func() error) {
	h.Register(name, func(ctx context.Context) error {
		return fn()
	})
}

// Context returns the crawl context. It is cancelled on the first signal
// or when Shutdown runs.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Signalled reports whether a signal interrupted the run.
func (h *Handler) Signalled() bool {
	return h.signalled.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// wait cancels the context on the first signal. Cleanup is left to
// Shutdown so that in-flight work can finish writing its results.
func (h *Handler) wait() {
	select {
	case sig := <-h.sigChan:
		h.signalled.Store(true)
		h.logger.WithField("signal", sig.String()).
			Warn("Interrupt received, cancelling remaining probes")
		h.cancel()
	case <-h.ctx.Done():
	}
}

// Trigger simulates a termination signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
		// Signal already pending
	}
}

// Shutdown stops signal delivery, cancels the context and runs callbacks
// in reverse registration order. It returns the callback errors. Only the
// first call does any work.
func (h *Handler) Shutdown() []error {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return nil
	}
	defer close(h.done)

	start := time.Now()
	signal.Stop(h.sigChan)
	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	callbacks := make([]Callback, len(h.callbacks))
	names := make([]string, len(h.callbackNames))
	copy(callbacks, h.callbacks)
	copy(names, h.callbackNames)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.executeCallback(shutdownCtx, names[i], callbacks[i]); err != nil {
			h.logger.WithError(err).WithField("callback", names[i]).Warn("Cleanup failed")
			errs = append(errs, err)
		}
	}

	h.logger.Debugf("Shutdown completed in %v", time.Since(start))
	return errs
}

// executeCallback executes a shutdown callback with timeout handling.
func (h *Handler) executeCallback(ctx context.Context, name string, callback Callback) error {
	done := make(chan error, 1)

	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
