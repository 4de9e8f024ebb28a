package server

import (
	"encoding/binary"
	"io"
)

func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

func ioReadFull(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}

// discard reads and throws away exactly n bytes, used to drain a
// rejected option's payload without growing a buffer for it.
func discard(r io.Reader, n uint32) error {
	buf := make([]byte, 4096)
	for n > 0 {
		chunk := buf
		if uint32(len(chunk)) > n {
			chunk = chunk[:n]
		}
		got, err := io.ReadFull(r, chunk)
		n -= uint32(got)
		if err != nil {
			return err
		}
	}
	return nil
}
