//go:build unix

package fragstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// datasync flushes file data (and only the metadata needed to read it back)
// to stable storage. It is cheaper than a full fsync because it skips
// metadata that doesn't affect a subsequent read, such as mtime.
func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
