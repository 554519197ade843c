// Command fsck.db5 checks, and optionally repairs, a portable media
// player device's database consistency offline (no FUSE mount
// involved): its header row count, its MUSIC directory, every row's
// backing file, and any orphan file MUSIC holds with no row.
//
// Usage mirrors the original fsck.c exactly — the -f flag may appear
// on either side of the device argument:
//
//	fsck.db5 [-f] <device>
//	fsck.db5 <device> [-f]
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/julienblitte/db5fuse"
	"github.com/julienblitte/db5fuse/internal/config"
	"github.com/julienblitte/db5fuse/internal/db5"
	"github.com/julienblitte/db5fuse/internal/dlog"
	"github.com/julienblitte/db5fuse/internal/fsck"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-f] <device>\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(os.Stderr, "       %s <device> [-f]\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(os.Stderr, "\n-f repairs what it finds; without it, problems are only reported.\n")
}

// parseArgs reproduces fsck.c's main(): exactly one positional argument
// (the device) and an optional -f, accepted on either side of it.
func parseArgs(args []string) (device string, fix bool, ok bool) {
	switch len(args) {
	case 1:
		if args[0] == "-f" {
			return "", false, false
		}
		return args[0], false, true
	case 2:
		switch {
		case args[0] == "-f" && args[1] != "-f":
			return args[1], true, true
		case args[1] == "-f" && args[0] != "-f":
			return args[0], true, true
		default:
			return "", false, false
		}
	default:
		return "", false, false
	}
}

func funcmain() error {
	device, fix, ok := parseArgs(os.Args[1:])
	if !ok {
		usage()
		os.Exit(2)
	}

	absDevice, err := filepath.Abs(device)
	if err != nil {
		return xerrors.Errorf("resolving device path: %w", err)
	}

	fmt.Printf("Scan of %q.\n", absDevice)
	logPath := filepath.Join(absDevice, config.LogFilename)
	fmt.Printf("Diagnostic log: %s\n", logPath)

	log, err := dlog.Open(logPath, config.DefaultLogLevel)
	if err != nil {
		return xerrors.Errorf("opening log: %w", err)
	}
	defer log.Close()

	db5fuse.SetExitLogger(log)

	d, err := db5.Open(absDevice, log)
	if err != nil {
		return xerrors.Errorf("opening device: %w", err)
	}
	db5fuse.RegisterAtExit(d.Close)

	checker := fsck.New(d, log)
	if err := checker.Check(fix); err != nil {
		return xerrors.Errorf("check failed: %w", err)
	}

	fmt.Println("done.")
	return db5fuse.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
