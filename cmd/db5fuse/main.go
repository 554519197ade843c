// Command db5fuse mounts a portable media player's device filesystem
// (its DB5000.HDR/DB5000.DAT/Names.txt triple and MUSIC directory) as a
// FUSE filesystem of long music filenames, translating every file
// operation into a transactional edit of the underlying database.
//
// Usage mirrors the original fuse_main.c exactly:
//
//	db5fuse <device> <mountpoint>
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/julienblitte/db5fuse"
	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/db5"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/fsbridge"
	"github.com/julienblitte/db5fuse/internal/oninterrupt"
)

var logLevel = flag.Int("loglevel", config.DefaultLogLevel, "diagnostic log verbosity (0-8, higher is more verbose)")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <device> <mountpoint>\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func funcmain() error {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	device, mountpoint := flag.Arg(0), flag.Arg(1)

	absDevice, err := filepath.Abs(device)
	if err != nil {
		return xerrors.Errorf("resolving device path: %w", err)
	}

	log, err := dlog.Open(filepath.Join(absDevice, config.LogFilename), dlog.Level(*logLevel))
	if err != nil {
		return xerrors.Errorf("opening log: %w", err)
	}
	defer log.Close()

	db5fuse.SetExitLogger(log)
	oninterrupt.SetLogger(log)

	d, err := db5.Open(absDevice, log)
	if err != nil {
		return xerrors.Errorf("opening device: %w", err)
	}
	db5fuse.RegisterAtExit(d.Close)

	ctx, canc := db5fuse.InterruptibleContext(log)
	defer canc()

	join, err := fsbridge.Mount(ctx, mountpoint, d, log)
	if err != nil {
		return xerrors.Errorf("mounting: %w", err)
	}
	oninterrupt.Register(func() { canc() })

	if err := join(ctx); err != nil {
		return xerrors.Errorf("Join: %w", err)
	}
	return db5fuse.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
