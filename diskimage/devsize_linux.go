//go:build linux

package diskimage

import (
	"os"

	"golang.org/x/sys/unix"
)

// deviceSize reports the size of the block device backing f via the
// BLKGETSIZE64 ioctl. stat() reports 0 for block devices, so the size
// must come from the kernel.
func deviceSize(f *os.File) (int64, bool) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, false
	}
	return int64(size), true
}
