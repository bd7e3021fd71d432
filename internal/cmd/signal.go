package cmd

import (
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// signalHandler cancels the running scheduler on SIGINT/SIGQUIT/SIGTERM,
// the same "range over a notify channel, shut down on the first terminal
// signal" shape as AdGuardDNS's own signalHandler, adapted to a single
// context.CancelFunc instead of a list of independently-stoppable
// services.
type signalHandler struct {
	logger *slog.Logger
	signal chan os.Signal
	cancel func()
}

// newSignalHandler returns a *signalHandler that calls cancel on the first
// SIGINT, SIGQUIT, or SIGTERM.
func newSignalHandler(logger *slog.Logger, cancel func()) (h *signalHandler) {
	h = &signalHandler{
		logger: logger,
		signal: make(chan os.Signal, 1),
		cancel: cancel,
	}

	signal.Notify(h.signal, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)

	return h
}

// wait blocks until a signal arrives, then cancels the run and returns.
func (h *signalHandler) wait() {
	sig, ok := <-h.signal
	if !ok {
		return
	}

	h.logger.Info("received signal, shutting down", "signal", sig)
	h.cancel()
}

// stop releases the signal notification registered by newSignalHandler.
func (h *signalHandler) stop() {
	signal.Stop(h.signal)
	close(h.signal)
}
