package server

import (
	"context"
	"io"

	"github.com/rclone/rnbd/internal/chain"
	"github.com/rclone/rnbd/internal/nbderr"
	"github.com/rclone/rnbd/internal/nbdproto"
)

// maxWritePayload bounds one WRITE request's payload so the dispatcher
// never allocates an attacker-controlled amount of memory for a payload
// buffer (spec.md §4.4's "read the payload into a buffer owned by the
// dispatcher").
const maxWritePayload = 64 << 20

// readyLoop implements spec.md §4.2's READY/RECV_REQUEST/DISPATCH/
// SEND_REPLY cycle: read one request, handle it, reply, repeat until DISC,
// a protocol violation, or the watchdog marks the connection DEAD.
func (c *Connection) readyLoop(ctx context.Context) error {
	for {
		if c.getState() == StateDead {
			return nil
		}
		c.setState(StateReady)

		c.setState(StateRecvRequest)
		req, err := nbdproto.ReadRequest(c.rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			c.setState(StateDead)
			return err
		}

		c.setState(StateDispatch)
		if req.Op == nbdproto.OpDisc {
			c.setState(StateClosed)
			return nil
		}

		var payload []byte
		if req.Op == nbdproto.OpWrite {
			if req.Length > maxWritePayload {
				c.setState(StateDead)
				return nbderr.New(nbderr.ProtocolViolation, "write request too large")
			}
			payload = make([]byte, req.Length)
			if _, err := io.ReadFull(c.rw, payload); err != nil {
				c.setState(StateDead)
				return err
			}
		}

		c.setState(StateSendReply)
		replyErr, frameErr := c.dispatchAndReply(ctx, req, payload)
		if frameErr != nil {
			c.setState(StateDead)
			return frameErr
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ObserveRequest(req.Op.String())
			if replyErr != nil {
				c.cfg.Metrics.ObserveError(nbderr.KindOf(replyErr))
			}
		}
		if nbderr.KindOf(replyErr) == nbderr.ProtocolViolation {
			c.setState(StateDead)
			return replyErr
		}
	}
}

// dispatchAndReply runs one request against the chain top and writes its
// reply. It returns two errors: the op-level error the chain reported (for
// metrics/state-machine decisions) and a framing error from writing to the
// socket itself (which always ends the connection).
func (c *Connection) dispatchAndReply(ctx context.Context, req nbdproto.Request, payload []byte) (opErr, frameErr error) {
	if c.requestGate != nil {
		if err := c.requestGate.Acquire(ctx, 1); err != nil {
			return err, nbdproto.WriteSimpleReply(c.rw, nbdproto.ErrnoFor(nbderr.KindOf(err)), req.Handle)
		}
		defer c.requestGate.Release(1)
	}

	fua := req.Flags&nbdproto.CmdFlagFUA != 0

	switch req.Op {
	case nbdproto.OpRead:
		return c.sendReadReply(ctx, req)

	case nbdproto.OpBlockStatus:
		return c.sendBlockStatusReply(ctx, req)

	case nbdproto.OpWrite:
		opErr = c.guardWritable()
		if opErr == nil {
			opErr = c.validateBounds(req)
		}
		if opErr == nil {
			opErr = c.top.Pwrite(ctx, payload, req.Offset, fua)
		}

	case nbdproto.OpFlush:
		opErr = c.top.Flush(ctx)

	case nbdproto.OpTrim:
		opErr = c.guardWritable()
		if opErr == nil {
			opErr = c.validateBounds(req)
		}
		if opErr == nil {
			opErr = c.top.Trim(ctx, req.Offset, req.Length)
		}

	case nbdproto.OpWriteZeroes:
		if opErr = c.guardWritable(); opErr == nil {
			opErr = c.validateBounds(req)
		}
		if opErr == nil {
			mayTrim := req.Flags&nbdproto.CmdFlagNoHole == 0
			fastZero := req.Flags&nbdproto.CmdFlagFastZero != 0
			if fastZero && !c.caps.FastZero {
				opErr = nbderr.New(nbderr.NotSupported, "fast zero not supported by this chain")
			} else {
				opErr = c.top.Zero(ctx, req.Offset, req.Length, mayTrim, fastZero)
			}
		}

	case nbdproto.OpCache:
		opErr = c.validateBounds(req)
		if opErr == nil {
			opErr = c.top.Cache(ctx, req.Offset, req.Length)
		}

	default:
		opErr = nbderr.New(nbderr.InvalidRequest, "unrecognized command")
	}

	if opErr != nil {
		frameErr = nbdproto.WriteSimpleReply(c.rw, nbdproto.ErrnoFor(nbderr.KindOf(opErr)), req.Handle)
	} else {
		frameErr = nbdproto.WriteSimpleReply(c.rw, 0, req.Handle)
	}
	return opErr, frameErr
}

func (c *Connection) guardWritable() error {
	if c.readonly {
		return nbderr.New(nbderr.ReadOnly, "export is read-only")
	}
	return nil
}

// validateBounds rejects a request whose length exceeds the export's
// negotiated maximum block size, or whose offset+length range runs past
// the export's size (spec.md §3's Request invariant). It must run before
// any chain op is called: a plugin's Pread/Pwrite/Zero has no reason to
// re-check what capability negotiation already bounded, and silently
// trusts offset/length (internal/plugins/file's ReadAt/WriteAt will read
// short or extend the backing file past EOF instead of rejecting).
func (c *Connection) validateBounds(req nbdproto.Request) error {
	if c.caps == nil {
		return nil
	}
	if req.Length > uint64(c.caps.BlockMax) {
		return nbderr.New(nbderr.OutOfRange, "length exceeds negotiated maximum block size")
	}
	if req.Offset > c.caps.Size || req.Length > c.caps.Size-req.Offset {
		return nbderr.New(nbderr.OutOfRange, "offset+length exceeds export size")
	}
	return nil
}

func (c *Connection) sendReadReply(ctx context.Context, req nbdproto.Request) (opErr, frameErr error) {
	if err := c.validateBounds(req); err != nil {
		if !c.structuredReply {
			return err, nbdproto.WriteSimpleReply(c.rw, nbdproto.ErrnoFor(nbderr.KindOf(err)), req.Handle)
		}
		return err, c.writeStructuredError(req, err)
	}

	buf := make([]byte, req.Length)
	if err := c.top.Pread(ctx, buf, req.Offset); err != nil {
		if !c.structuredReply {
			return err, nbdproto.WriteSimpleReply(c.rw, nbdproto.ErrnoFor(nbderr.KindOf(err)), req.Handle)
		}
		return err, c.writeStructuredError(req, err)
	}

	if !c.structuredReply {
		if err := nbdproto.WriteSimpleReply(c.rw, 0, req.Handle); err != nil {
			return nil, err
		}
		_, err := c.rw.Write(buf)
		return nil, err
	}

	offsetData := make([]byte, 8+len(buf))
	putUint64(offsetData[0:8], req.Offset)
	copy(offsetData[8:], buf)
	hdr := nbdproto.StructuredChunkHeader{
		Extended: req.Extended,
		Flags:    nbdproto.ReplyFlagDone,
		Type:     nbdproto.ReplyTypeOffsetData,
		Handle:   req.Handle,
		Length:   uint64(len(offsetData)),
	}
	if err := nbdproto.WriteStructuredHeader(c.rw, hdr); err != nil {
		return nil, err
	}
	_, err := c.rw.Write(offsetData)
	return nil, err
}

func (c *Connection) sendBlockStatusReply(ctx context.Context, req nbdproto.Request) (opErr, frameErr error) {
	if !c.structuredReply {
		return nbderr.New(nbderr.InvalidRequest, "block status requires structured replies"),
			nbdproto.WriteSimpleReply(c.rw, nbdproto.ErrnoFor(nbderr.InvalidRequest), req.Handle)
	}
	if !c.caps.Extents || len(c.metaContexts) == 0 {
		err := nbderr.New(nbderr.NotSupported, "block status not negotiated")
		return err, c.writeStructuredError(req, err)
	}
	if err := c.validateBounds(req); err != nil {
		return err, c.writeStructuredError(req, err)
	}

	reqOne := req.Flags&nbdproto.CmdFlagReqOne != 0
	extents, err := c.top.Extents(ctx, req.Offset, req.Length, reqOne)
	if err != nil {
		return err, c.writeStructuredError(req, err)
	}

	payload := encodeBlockStatusPayload(c.metaContexts[0].ID, extents)
	hdr := nbdproto.StructuredChunkHeader{
		Extended: req.Extended,
		Flags:    nbdproto.ReplyFlagDone,
		Type:     nbdproto.ReplyTypeBlockStatus,
		Handle:   req.Handle,
		Length:   uint64(len(payload)),
	}
	if err := nbdproto.WriteStructuredHeader(c.rw, hdr); err != nil {
		return nil, err
	}
	_, werr := c.rw.Write(payload)
	return nil, werr
}

func encodeBlockStatusPayload(contextID uint32, extents []chain.Extent) []byte {
	buf := make([]byte, 4+8*len(extents))
	putUint32(buf[0:4], contextID)
	off := 4
	for _, e := range extents {
		putUint32(buf[off:off+4], uint32(e.Length))
		putUint32(buf[off+4:off+8], e.Flags)
		off += 8
	}
	return buf
}

func (c *Connection) writeStructuredError(req nbdproto.Request, err error) error {
	msg := err.Error()
	payload := make([]byte, 4+2+len(msg))
	putUint32(payload[0:4], nbdproto.ErrnoFor(nbderr.KindOf(err)))
	putUint16(payload[4:6], uint16(len(msg)))
	copy(payload[6:], msg)
	hdr := nbdproto.StructuredChunkHeader{
		Extended: req.Extended,
		Flags:    nbdproto.ReplyFlagDone,
		Type:     nbdproto.ReplyTypeError,
		Handle:   req.Handle,
		Length:   uint64(len(payload)),
	}
	if err := nbdproto.WriteStructuredHeader(c.rw, hdr); err != nil {
		return err
	}
	_, werr := c.rw.Write(payload)
	return werr
}
