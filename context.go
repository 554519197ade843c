package db5fuse

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienblitte/db5fuse/internal/dlog"
)

// InterruptibleContext returns a context which is canceled when the
// program is interrupted (i.e. receiving SIGINT or SIGTERM), logging
// the signal that triggered cancellation via log so a FUSE unmount
// that follows the cancellation has a paper trail to compare against.
func InterruptibleContext(log *dlog.Logger) (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		log.Log(dlog.Notice, "context", "received %v, cancelling mount context", s)
		canc()
	}()
	return ctx, canc
}
