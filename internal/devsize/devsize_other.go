//go:build !linux

package devsize

import "os"

// blockIoctlSize has an implementation only on Linux. On every other
// platform, Darwin and FreeBSD included, no block-device ioctl is tried
// and Probe falls straight through to the exponential-then-binary seek
// search.
func blockIoctlSize(f *os.File) (uint64, bool) { return 0, false }

func platformName() string { return "generic" }
