// Package db5fuse holds the small pieces cmd/db5fuse and cmd/fsck.db5
// share: an interruptible context that cancels on SIGINT/SIGTERM, and
// an at-exit registry the commands run on a normal return to close the
// device. The registry runs only when RunAtExit is called; nothing in
// this package runs it on a signal.
package db5fuse

import (
	"sync"
	"sync/atomic"

	"github.com/julienblitte/db5fuse/internal/dlog"
)

var atExit struct {
	sync.Mutex
	fns    []func() error
	closed uint32
	log    *dlog.Logger
}

// SetExitLogger directs atExit's registration and cleanup-failure
// traces to log, the same diagnostic log every other db5 layer writes
// through. A nil log (the zero value before SetExitLogger is called)
// is safe — dlog.Logger.Log drops records on a nil receiver.
func SetExitLogger(log *dlog.Logger) {
	atExit.Lock()
	defer atExit.Unlock()
	atExit.log = log
}

// RegisterAtExit queues fn to run once, in registration order, when
// RunAtExit is called — typically a Db.Close or a FUSE unmount.
func RegisterAtExit(fn func() error) {
	if atomic.LoadUint32(&atExit.closed) != 0 {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
	atExit.log.Log(dlog.Debug, "atexit", "registered cleanup %d", len(atExit.fns))
}

// RunAtExit runs every registered cleanup, stopping at the first error.
func RunAtExit() error {
	atomic.StoreUint32(&atExit.closed, 1)

	atExit.Lock()
	fns, log := atExit.fns, atExit.log
	atExit.Unlock()

	for i, fn := range fns {
		if err := fn(); err != nil {
			log.Log(dlog.Err, "atexit", "cleanup %d failed: %v", i, err)
			return err
		}
	}
	log.Log(dlog.Info, "atexit", "%d cleanup(s) ran", len(fns))
	return nil
}
