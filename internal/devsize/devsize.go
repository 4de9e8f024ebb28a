package devsize

import (
	"errors"
	"io"
	"os"
)

// Probe returns the size in bytes of the file or block device backing f
// (spec.md §6). It never requires f to be opened for writing.
func Probe(f *os.File) (uint64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	if fi.Mode().IsRegular() {
		return uint64(fi.Size()), nil
	}

	if fi.Mode()&os.ModeDevice != 0 {
		if size, ok := blockIoctlSize(f); ok {
			return size, nil
		}
	}

	return seekSearch(f)
}

// seekSearch finds the largest readable offset by exponential probing
// followed by a binary search between the last readable and first
// unreadable offset, per spec.md §6's fallback. It always restores the
// file's offset to 0 before returning (spec.md §9's open question about
// the original fallback's ambiguous trailing read is resolved explicitly
// here rather than relied upon).
func seekSearch(f *os.File) (uint64, error) {
	defer func() { _, _ = f.Seek(0, io.SeekStart) }()

	readableAt := func(off int64) bool {
		var b [1]byte
		_, err := f.ReadAt(b[:], off)
		return err == nil || errors.Is(err, io.EOF) && off == 0
	}

	if !readableAt(0) {
		return 0, nil
	}

	var lo, hi int64 = 0, 1
	for readableAt(hi) {
		lo = hi
		if hi > (1<<62)/2 {
			break
		}
		hi *= 2
	}

	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if readableAt(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}

	return uint64(lo + 1), nil
}
