package nbdproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ServerHandshakeFlags is the 16-bit flag field the server sends right
// after MagicNBD/MagicIHAVEOPT. This server only ever speaks fixed-newstyle
// with zero-padding suppressed (spec.md §6).
func ServerHandshakeFlags() uint16 {
	return FlagFixedNewstyle | FlagNoZeroes
}

// WriteServerPreamble writes the fixed-newstyle opening of the handshake:
// MagicNBD, MagicIHAVEOPT, and the server's handshake flags.
func WriteServerPreamble(w io.Writer) error {
	var buf [18]byte
	binary.BigEndian.PutUint64(buf[0:8], MagicNBD)
	binary.BigEndian.PutUint64(buf[8:16], MagicIHAVEOPT)
	binary.BigEndian.PutUint16(buf[16:18], ServerHandshakeFlags())
	_, err := w.Write(buf[:])
	return err
}

// ReadClientFlags reads the 32-bit client handshake flags that follow the
// server preamble.
func ReadClientFlags(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// OptionHeader is one client option request during OPT_WAIT: magic, an
// OptionCode, and the length of the payload that follows.
type OptionHeader struct {
	Code   OptionCode
	Length uint32
}

// ReadOptionHeader reads and validates the 16-byte option header (magic,
// code, length); the caller reads exactly Length payload bytes next.
func ReadOptionHeader(r io.Reader) (OptionHeader, error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return OptionHeader{}, err
	}
	magic := binary.BigEndian.Uint64(buf[0:8])
	if magic != MagicIHAVEOPT {
		return OptionHeader{}, fmt.Errorf("nbdproto: bad option magic %#x", magic)
	}
	return OptionHeader{
		Code:   OptionCode(binary.BigEndian.Uint32(buf[8:12])),
		Length: binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// WriteOptionReply writes one option reply: magic, the option it answers,
// the reply type, the payload length, and the payload itself.
func WriteOptionReply(w io.Writer, code OptionCode, rtype ReplyType, payload []byte) error {
	var hdr [20]byte
	binary.BigEndian.PutUint64(hdr[0:8], MagicReply)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(code))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(rtype))
	binary.BigEndian.PutUint32(hdr[16:20], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// EncodeInfoExport builds the NBD_INFO_EXPORT payload: the info type,
// export size, and transmission flags.
func EncodeInfoExport(size uint64, transmissionFlags uint16) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], uint16(InfoExport))
	binary.BigEndian.PutUint64(buf[2:10], size)
	binary.BigEndian.PutUint16(buf[10:12], transmissionFlags)
	return buf
}

// EncodeInfoName builds the NBD_INFO_NAME payload.
func EncodeInfoName(name string) []byte {
	buf := make([]byte, 2+len(name))
	binary.BigEndian.PutUint16(buf[0:2], uint16(InfoName))
	copy(buf[2:], name)
	return buf
}

// EncodeInfoDescription builds the NBD_INFO_DESCRIPTION payload.
func EncodeInfoDescription(description string) []byte {
	buf := make([]byte, 2+len(description))
	binary.BigEndian.PutUint16(buf[0:2], uint16(InfoDescription))
	copy(buf[2:], description)
	return buf
}

// EncodeInfoBlockSize builds the NBD_INFO_BLOCK_SIZE payload.
func EncodeInfoBlockSize(min, preferred, max uint32) []byte {
	buf := make([]byte, 14)
	binary.BigEndian.PutUint16(buf[0:2], uint16(InfoBlockSize))
	binary.BigEndian.PutUint32(buf[2:6], min)
	binary.BigEndian.PutUint32(buf[6:10], preferred)
	binary.BigEndian.PutUint32(buf[10:14], max)
	return buf
}

// EncodeMetaContextReply builds the NBD_REP_META_CONTEXT payload: the
// negotiated context id followed by its name.
func EncodeMetaContextReply(id uint32, name string) []byte {
	buf := make([]byte, 4+len(name))
	binary.BigEndian.PutUint32(buf[0:4], id)
	copy(buf[4:], name)
	return buf
}

// InfoOrGoRequest is the decoded payload of NBD_OPT_INFO / NBD_OPT_GO: the
// export name plus zero or more specific information requests (an empty
// list means "send everything you have").
type InfoOrGoRequest struct {
	Export   string
	Requests []InfoType
}

// DecodeInfoOrGoRequest parses the NBD_OPT_INFO/NBD_OPT_GO payload:
// uint32 name length, name, uint16 count, count * uint16 info type.
func DecodeInfoOrGoRequest(payload []byte) (InfoOrGoRequest, error) {
	if len(payload) < 4 {
		return InfoOrGoRequest{}, fmt.Errorf("nbdproto: info/go payload too short")
	}
	nameLen := binary.BigEndian.Uint32(payload[0:4])
	payload = payload[4:]
	if uint32(len(payload)) < nameLen+2 {
		return InfoOrGoRequest{}, fmt.Errorf("nbdproto: info/go payload truncated")
	}
	name := string(payload[:nameLen])
	payload = payload[nameLen:]
	count := binary.BigEndian.Uint16(payload[0:2])
	payload = payload[2:]
	if uint32(len(payload)) < uint32(count)*2 {
		return InfoOrGoRequest{}, fmt.Errorf("nbdproto: info/go request list truncated")
	}
	reqs := make([]InfoType, count)
	for i := range reqs {
		reqs[i] = InfoType(binary.BigEndian.Uint16(payload[i*2 : i*2+2]))
	}
	return InfoOrGoRequest{Export: name, Requests: reqs}, nil
}

// DecodeSetMetaContext parses NBD_OPT_SET_META_CONTEXT /
// NBD_OPT_LIST_META_CONTEXT's shared payload shape: uint32 export name
// length, name, uint32 query count, then length-prefixed query strings
// (each a context name, e.g. "base:allocation").
func DecodeSetMetaContext(payload []byte) (export string, queries []string, err error) {
	if len(payload) < 4 {
		return "", nil, fmt.Errorf("nbdproto: set-meta-context payload too short")
	}
	nameLen := binary.BigEndian.Uint32(payload[0:4])
	payload = payload[4:]
	if uint32(len(payload)) < nameLen+4 {
		return "", nil, fmt.Errorf("nbdproto: set-meta-context payload truncated")
	}
	export = string(payload[:nameLen])
	payload = payload[nameLen:]
	count := binary.BigEndian.Uint32(payload[0:4])
	payload = payload[4:]
	queries = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(payload) < 4 {
			return "", nil, fmt.Errorf("nbdproto: set-meta-context query truncated")
		}
		qLen := binary.BigEndian.Uint32(payload[0:4])
		payload = payload[4:]
		if uint32(len(payload)) < qLen {
			return "", nil, fmt.Errorf("nbdproto: set-meta-context query string truncated")
		}
		queries = append(queries, string(payload[:qLen]))
		payload = payload[qLen:]
	}
	return export, queries, nil
}
