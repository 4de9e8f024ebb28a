// Package nbdproto implements the wire-level constants and framing of the
// Network Block Device protocol: the fixed-newstyle handshake, transmission
// request/reply headers, and the option/info sub-protocol used during
// negotiation. It does not drive the state machine (see internal/server);
// it only knows how to read and write bytes.
package nbdproto

// Handshake magics (network byte order on the wire).
const (
	MagicNBD    uint64 = 0x4e42444d41474943 // "NBDMAGIC"
	MagicIHAVEOPT uint64 = 0x49484156454f5054 // "IHAVEOPT"
	MagicOption   uint64 = 0x49484156454f5054
	MagicReply    uint64 = 0x3e889045565a9

	// OldstyleMagic follows MagicNBD on the oldstyle handshake; this server
	// only speaks fixed-newstyle (spec.md §4.2) so it is used solely to
	// recognize and reject oldstyle clients cleanly.
	OldstyleMagic uint64 = 0x00420281861253
)

// Handshake flags (server -> client, after MagicNBD/MagicIHAVEOPT).
const (
	FlagFixedNewstyle uint16 = 1 << 0
	FlagNoZeroes      uint16 = 1 << 1
)

// Client handshake flags.
const (
	ClientFlagFixedNewstyle uint32 = 1 << 0
	ClientFlagNoZeroes      uint32 = 1 << 1
)

// Option codes (client -> server during OPT_WAIT, spec.md §4.2).
type OptionCode uint32

const (
	OptExportName       OptionCode = 1
	OptAbort            OptionCode = 2
	OptList             OptionCode = 3
	OptStartTLS         OptionCode = 5
	OptInfo             OptionCode = 6
	OptGo               OptionCode = 7
	OptStructuredReply  OptionCode = 8
	OptListMetaContext  OptionCode = 9
	OptSetMetaContext   OptionCode = 10
	OptExtendedHeaders  OptionCode = 11
)

// Option reply types.
type ReplyType uint32

const (
	RepAck               ReplyType = 1
	RepServer            ReplyType = 2
	RepInfo              ReplyType = 3
	RepMetaContext       ReplyType = 4
	RepErrUnsup          ReplyType = 1<<31 + 1
	RepErrPolicy         ReplyType = 1<<31 + 2
	RepErrInvalid        ReplyType = 1<<31 + 3
	RepErrPlatform       ReplyType = 1<<31 + 4
	RepErrTLSReqd        ReplyType = 1<<31 + 5
	RepErrUnknown        ReplyType = 1<<31 + 6
	RepErrShutdown       ReplyType = 1<<31 + 7
	RepErrBlockSizeReqd  ReplyType = 1<<31 + 8
)

// Info record types for NBD_OPT_INFO/NBD_OPT_GO.
type InfoType uint16

const (
	InfoExport      InfoType = 0
	InfoName        InfoType = 1
	InfoDescription InfoType = 2
	InfoBlockSize   InfoType = 3
)

// Transmission flags, returned with NBD_INFO_EXPORT / the oldstyle export
// reply.
const (
	FlagHasFlags      uint16 = 1 << 0
	FlagReadOnly      uint16 = 1 << 1
	FlagSendFlush     uint16 = 1 << 2
	FlagSendFUA       uint16 = 1 << 3
	FlagRotational    uint16 = 1 << 4
	FlagSendTrim      uint16 = 1 << 5
	FlagSendWriteZero uint16 = 1 << 6
	FlagSendDF        uint16 = 1 << 7
	FlagCanMultiConn  uint16 = 1 << 8
	FlagSendResize    uint16 = 1 << 9
	FlagSendCache     uint16 = 1 << 10
	FlagSendFastZero  uint16 = 1 << 11
	FlagBlockStatusPayload uint16 = 1 << 12
)

// Command flags on the transmission-phase request header.
const (
	CmdFlagFUA      uint16 = 1 << 0
	CmdFlagNoHole   uint16 = 1 << 1
	CmdFlagDF       uint16 = 1 << 2
	CmdFlagReqOne   uint16 = 1 << 3
	CmdFlagFastZero uint16 = 1 << 4
	CmdFlagPayloadLen uint16 = 1 << 5

	// MayTrim is not a wire flag; it is implied by the WRITE_ZEROES command
	// absent CmdFlagNoHole, kept here as a named constant for readability
	// at call sites in internal/server.
	MayTrimImplied = 0
)

// Op is a transmission-phase command (spec.md §3).
type Op uint16

const (
	OpRead        Op = 0
	OpWrite       Op = 1
	OpDisc        Op = 2
	OpFlush       Op = 3
	OpTrim        Op = 4
	OpCache       Op = 5
	OpWriteZeroes Op = 6
	OpBlockStatus Op = 7
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpDisc:
		return "DISC"
	case OpFlush:
		return "FLUSH"
	case OpTrim:
		return "TRIM"
	case OpCache:
		return "CACHE"
	case OpWriteZeroes:
		return "WRITE_ZEROES"
	case OpBlockStatus:
		return "BLOCK_STATUS"
	default:
		return "UNKNOWN"
	}
}

const (
	RequestMagic       uint32 = 0x25609513
	ExtendedRequestMagic uint32 = 0x21e41c71
	SimpleReplyMagic   uint32 = 0x67446698
	StructuredReplyMagic uint32 = 0x668e33ef
	ExtendedReplyMagic uint32 = 0x6e8a278c
)

// Structured/extended reply chunk flags.
const (
	ReplyFlagDone uint16 = 1 << 0
)

// Structured reply chunk types.
const (
	ReplyTypeNone        uint16 = 0
	ReplyTypeOffsetData  uint16 = 1
	ReplyTypeOffsetHole  uint16 = 2
	ReplyTypeBlockStatus uint16 = 5
	ReplyTypeBlockStatusExt uint16 = 6
	ReplyTypeError       uint16 = 1<<15 + 1
	ReplyTypeErrorOffset uint16 = 1<<15 + 2
)

// RequestHeaderSize and ExtendedRequestHeaderSize are the fixed wire sizes
// of the transmission-phase request header (spec.md §6).
const (
	RequestHeaderSize         = 28
	ExtendedRequestHeaderSize = 32
	SimpleReplyHeaderSize     = 16
)

// BaseAllocationContext is the well-known metadata context negotiated with
// NBD_OPT_SET_META_CONTEXT for block-status queries (spec.md §4.2).
const BaseAllocationContext = "base:allocation"

// Well-known base:allocation block-status flags.
const (
	StateHole uint32 = 1 << 0
	StateZero uint32 = 1 << 1
)
