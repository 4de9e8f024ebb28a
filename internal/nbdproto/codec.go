package nbdproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rclone/rnbd/internal/nbderr"
)

// Request is a decoded transmission-phase request (spec.md §3's Request
// tuple). Extended-header requests and classic 28-byte requests both decode
// into this shape; Extended records which form was on the wire so the
// dispatcher can reply in kind.
type Request struct {
	Extended bool
	Flags    uint16
	Op       Op
	Handle   uint64
	Offset   uint64
	Length   uint64 // 32-bit on the wire for classic requests
}

// ReadRequest decodes one transmission-phase request header. It peeks the
// magic to distinguish classic from extended framing.
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, err
	}
	magic := binary.BigEndian.Uint32(hdr[:])

	switch magic {
	case RequestMagic:
		var rest [24]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return Request{}, err
		}
		return Request{
			Extended: false,
			Flags:    binary.BigEndian.Uint16(rest[0:2]),
			Op:       Op(binary.BigEndian.Uint16(rest[2:4])),
			Handle:   binary.BigEndian.Uint64(rest[4:12]),
			Offset:   binary.BigEndian.Uint64(rest[12:20]),
			Length:   uint64(binary.BigEndian.Uint32(rest[20:24])),
		}, nil
	case ExtendedRequestMagic:
		var rest [28]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return Request{}, err
		}
		return Request{
			Extended: true,
			Flags:    binary.BigEndian.Uint16(rest[0:2]),
			Op:       Op(binary.BigEndian.Uint16(rest[2:4])),
			Handle:   binary.BigEndian.Uint64(rest[4:12]),
			Offset:   binary.BigEndian.Uint64(rest[12:20]),
			Length:   binary.BigEndian.Uint64(rest[20:28]),
		}, nil
	default:
		return Request{}, fmt.Errorf("nbdproto: unrecognized request magic %#x", magic)
	}
}

// WriteSimpleReply writes the 16-byte simple reply form.
func WriteSimpleReply(w io.Writer, errno uint32, handle uint64) error {
	var buf [SimpleReplyHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], SimpleReplyMagic)
	binary.BigEndian.PutUint32(buf[4:8], errno)
	binary.BigEndian.PutUint64(buf[8:16], handle)
	_, err := w.Write(buf[:])
	return err
}

// StructuredChunkHeader is the fixed prefix of every structured/extended
// reply chunk.
type StructuredChunkHeader struct {
	Extended bool
	Flags    uint16
	Type     uint16
	Handle   uint64
	Length   uint64 // payload length following the header
}

// WriteStructuredHeader writes the chunk header (20 bytes classic, 32
// extended); the caller writes Length bytes of payload immediately after.
func WriteStructuredHeader(w io.Writer, h StructuredChunkHeader) error {
	if h.Extended {
		var buf [32]byte
		binary.BigEndian.PutUint32(buf[0:4], ExtendedReplyMagic)
		binary.BigEndian.PutUint16(buf[4:6], h.Flags)
		binary.BigEndian.PutUint16(buf[6:8], h.Type)
		binary.BigEndian.PutUint64(buf[8:16], h.Handle)
		binary.BigEndian.PutUint64(buf[16:24], h.Length)
		// bytes 24:32 reserved, left zero.
		_, err := w.Write(buf[:])
		return err
	}
	var buf [20]byte
	binary.BigEndian.PutUint32(buf[0:4], StructuredReplyMagic)
	binary.BigEndian.PutUint16(buf[4:6], h.Flags)
	binary.BigEndian.PutUint16(buf[6:8], h.Type)
	binary.BigEndian.PutUint64(buf[8:16], h.Handle)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Length))
	_, err := w.Write(buf[:])
	return err
}

// ErrnoFor maps an abstract error kind (spec.md §7) to the wire errno value
// carried in simple replies and structured/extended error chunks.
func ErrnoFor(kind nbderr.Kind) uint32 {
	switch kind {
	case nbderr.InvalidRequest, nbderr.OutOfRange:
		return 22 // EINVAL
	case nbderr.ReadOnly:
		return 30 // EROFS
	case nbderr.PermissionDenied:
		return 1 // EPERM
	case nbderr.NotSupported:
		return 95 // ENOTSUP / EOPNOTSUPP
	case nbderr.OutOfMemory:
		return 12 // ENOMEM
	case nbderr.IOFailure, nbderr.FormatError, nbderr.PrematureEOF:
		return 5 // EIO
	case nbderr.Timeout:
		return 108 // ESHUTDOWN
	default:
		return 5
	}
}
