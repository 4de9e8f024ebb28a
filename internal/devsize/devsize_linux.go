//go:build linux

// Package devsize implements the block-device size probe of spec.md §6,
// grounded on nbdkit's common/utils/device-size.c: fstat first, then an
// OS-specific block-device ioctl, then an exponential-then-binary seek
// search as a last resort. It never requires the fd to be writable.
package devsize

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blockIoctlSize tries the Linux BLKGETSIZE64 ioctl, which returns the
// device size in bytes directly as a uint64 out-parameter.
func blockIoctlSize(f *os.File) (uint64, bool) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, false
	}
	return size, true
}

func platformName() string { return "linux" }
