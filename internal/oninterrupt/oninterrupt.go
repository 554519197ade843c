// Package oninterrupt runs registered cleanup callbacks on SIGINT,
// then exits the process with status 128 plus the signal number.
package oninterrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/julienblitte/db5fuse/internal/dlog"
)

// onInterrupt allows subcommands to register cleanup handlers which shall be
// run on receiving SIGINT, e.g. unmounting a live FUSE mount or closing an
// open device so its HDR/DAT files are left in a consistent state.
var (
	onInterruptMu sync.Mutex
	onInterrupt   []func()
	log           *dlog.Logger
)

// SetLogger directs interrupt-handling diagnostics (signal received,
// callback count, re-raised exit status) to l.
func SetLogger(l *dlog.Logger) {
	onInterruptMu.Lock()
	defer onInterruptMu.Unlock()
	log = l
}

func init() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		received := <-c

		onInterruptMu.Lock()
		cbs, l := onInterrupt, log
		onInterruptMu.Unlock()

		l.Log(dlog.Notice, "oninterrupt", "%v received, running %d cleanup callback(s)", received, len(cbs))
		for _, f := range cbs {
			f()
		}

		// TODO: replace by cancelling a context:
		// https://medium.com/@matryer/make-ctrl-c-cancel-the-context-context-bd006a8ad6ff
		if sig, ok := received.(syscall.Signal); ok {
			l.Log(dlog.Info, "oninterrupt", "re-raising as exit status %d", 128+int(sig))
			os.Exit(128 + int(sig))
		}
		os.Exit(1) // generic EXIT_FAILURE
	}()
}

// Register queues cb to run, in registration order, the next time a
// SIGINT is delivered.
func Register(cb func()) {
	onInterruptMu.Lock()
	defer onInterruptMu.Unlock()
	onInterrupt = append(onInterrupt, cb)
}
