package retention

import (
	"errors"
	"syscall"
)

// isCrossDevice reports whether err represents a cross-device rename
// (EXDEV), which os.Rename cannot satisfy and requires a
// copy-then-unlink fallback instead.
func isCrossDevice(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.EXDEV
}
