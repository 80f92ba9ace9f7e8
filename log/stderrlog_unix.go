//go:build !windows
// +build !windows

package log

import (
	"os"
	"syscall"
)

// newStderrLogger builds a Logger that writes to stderr, optionally
// redirecting the process's stderr file descriptor to fileOverride first so
// that panics and runtime crash output land in the same file as structured
// logs.
func newStderrLogger(fileOverride string, cb StderrCallback) (lgr *Logger, err error) {
	if len(fileOverride) > 0 {
		var fout *os.File
		if fout, err = os.Create(fileOverride); err != nil {
			return
		}
		if cb != nil {
			cb(fout)
		}
		if err = syscall.Dup2(int(fout.Fd()), int(os.Stderr.Fd())); err != nil {
			fout.Close()
			return
		}
	}
	lgr = New(os.Stderr)
	return
}
