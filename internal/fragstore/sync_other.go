//go:build !unix

package fragstore

import "os"

// datasync falls back to a full fsync on platforms where x/sys/unix does
// not expose Fdatasync.
func datasync(f *os.File) error {
	return f.Sync()
}
