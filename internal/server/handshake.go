package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/rclone/rnbd/internal/capability"
	"github.com/rclone/rnbd/internal/nbdproto"
)

// maxOptionPayload bounds a single option's declared length, so a
// malicious or buggy client can't make the handshake allocate unbounded
// memory before any validation happens.
const maxOptionPayload = 1 << 20

// handshake drives NEW_SEND through OPT_WAIT to either GO_FINISH/READY or
// a clean abort (spec.md §4.2). It returns a non-nil error for
// transport-level failures and for an NBD_OPT_EXPORT_NAME that cannot be
// served, since that option has no error reply; other option errors are
// reported to the client with a REP_ERR_* and keep the loop in OPT_WAIT.
func (c *Connection) handshake(ctx context.Context) error {
	c.setState(StateNewSend)
	if err := nbdproto.WriteServerPreamble(c.rw); err != nil {
		return err
	}

	c.setState(StateNewRecvFlags)
	if _, err := nbdproto.ReadClientFlags(c.rw); err != nil {
		return err
	}

	c.setState(StateOptWait)
	for {
		hdr, err := nbdproto.ReadOptionHeader(c.rw)
		if err != nil {
			return err
		}
		if hdr.Length > maxOptionPayload {
			if werr := nbdproto.WriteOptionReply(c.rw, hdr.Code, nbdproto.RepErrInvalid, nil); werr != nil {
				return werr
			}
			if err := discard(c.rw, hdr.Length); err != nil {
				return err
			}
			continue
		}
		payload := make([]byte, hdr.Length)
		if _, err := ioReadFull(c.rw, payload); err != nil {
			return err
		}

		done, err := c.handleOption(ctx, hdr.Code, payload)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// handleOption processes one option; the returned bool reports whether
// the handshake loop should stop (NBD_OPT_ABORT, NBD_OPT_EXPORT_NAME, or a
// successful NBD_OPT_GO).
func (c *Connection) handleOption(ctx context.Context, code nbdproto.OptionCode, payload []byte) (bool, error) {
	switch code {
	case nbdproto.OptExportName:
		return true, c.handleExportNameOption(ctx, payload)

	case nbdproto.OptAbort:
		if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil); err != nil {
			return true, err
		}
		return true, nil

	case nbdproto.OptList:
		for _, name := range c.cfg.Exports.Names() {
			reply := make([]byte, 4+len(name))
			putUint32(reply[0:4], uint32(len(name)))
			copy(reply[4:], name)
			if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepServer, reply); err != nil {
				return true, err
			}
		}
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil)

	case nbdproto.OptStartTLS:
		return false, c.handleStartTLS(code)

	case nbdproto.OptInfo:
		return false, c.handleInfoOrGo(ctx, code, payload)

	case nbdproto.OptGo:
		ok, err := c.handleInfoOrGoGo(ctx, code, payload)
		return ok, err

	case nbdproto.OptStructuredReply:
		c.structuredReply = true
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil)

	case nbdproto.OptExtendedHeaders:
		c.extendedHeaders = true
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil)

	case nbdproto.OptSetMetaContext:
		return false, c.handleMetaContext(code, payload, true)

	case nbdproto.OptListMetaContext:
		return false, c.handleMetaContext(code, payload, false)

	default:
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrUnsup, nil)
	}
}

// handleExportNameOption implements the legacy NBD_OPT_EXPORT_NAME path:
// no option-reply envelope, just the export size/flags (and padding unless
// the client asked for NBD_FLAG_C_NO_ZEROES) immediately followed by the
// transmission phase.
func (c *Connection) handleExportNameOption(ctx context.Context, payload []byte) error {
	name := string(payload)
	ch, canonical, ok := c.cfg.Exports.Resolve(name)
	if !ok {
		// Per the classic protocol, an unknown export means the server
		// must simply close the connection — there is no reply to send.
		return fmt.Errorf("server: unknown export %q", name)
	}

	top := ch.Top()
	if _, err := top.Open(ctx, canonical, false); err != nil {
		return err
	}
	if err := top.Prepare(ctx); err != nil {
		top.Close(ctx)
		return err
	}
	neg := capability.New()
	caps, err := neg.Get(ctx, top, canonical)
	if err != nil {
		top.Close(ctx)
		return err
	}

	var buf [8 + 2 + 124]byte
	putUint64(buf[0:8], caps.Size)
	putUint16(buf[8:10], caps.TransmissionFlags(nbdproto.FlagHasFlags))
	if _, err := c.rw.Write(buf[:10]); err != nil {
		top.Close(ctx)
		return err
	}
	if _, err := c.rw.Write(buf[10:]); err != nil { // 124 zero-pad bytes; NO_ZEROES is an optimization we don't bother tracking here
		top.Close(ctx)
		return err
	}

	c.chainRef, c.top, c.caps, c.exportName, c.negotiator = ch, top, caps, canonical, neg
	c.readonly = !caps.Writable
	if err := c.applyThreadModel(ctx); err != nil {
		top.Close(ctx)
		return err
	}
	c.setState(StateReady)
	return nil
}

// handleInfoOrGoGo is NBD_OPT_GO: identical record production to
// NBD_OPT_INFO, but on success the opened chain becomes this connection's
// live export and the state machine advances to READY.
func (c *Connection) handleInfoOrGoGo(ctx context.Context, code nbdproto.OptionCode, payload []byte) (bool, error) {
	req, err := nbdproto.DecodeInfoOrGoRequest(payload)
	if err != nil {
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}
	ch, canonical, ok := c.cfg.Exports.Resolve(req.Export)
	if !ok {
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrUnknown, nil)
	}

	top := ch.Top()
	if _, err := top.Open(ctx, canonical, false); err != nil {
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}
	if err := top.Prepare(ctx); err != nil {
		top.Close(ctx)
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}
	neg := capability.New()
	caps, err := neg.Get(ctx, top, canonical)
	if err != nil {
		top.Close(ctx)
		return false, nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}

	if err := c.writeInfoRecords(code, canonical, caps, req.Requests); err != nil {
		top.Close(ctx)
		return true, err
	}
	if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil); err != nil {
		top.Close(ctx)
		return true, err
	}

	c.chainRef, c.top, c.caps, c.exportName, c.negotiator = ch, top, caps, canonical, neg
	c.readonly = !caps.Writable
	if err := c.applyThreadModel(ctx); err != nil {
		top.Close(ctx)
		return true, err
	}
	c.setState(StateGoFinish)
	c.setState(StateReady)
	return true, nil
}

// handleInfoOrGo implements NBD_OPT_INFO: report the records, never keeping
// the probed chain open past this call.
func (c *Connection) handleInfoOrGo(ctx context.Context, code nbdproto.OptionCode, payload []byte) error {
	req, err := nbdproto.DecodeInfoOrGoRequest(payload)
	if err != nil {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}
	ch, canonical, ok := c.cfg.Exports.Resolve(req.Export)
	if !ok {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrUnknown, nil)
	}

	top := ch.Top()
	if _, err := top.Open(ctx, canonical, false); err != nil {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}
	defer top.Close(ctx)
	if err := top.Prepare(ctx); err != nil {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}
	neg := capability.New()
	caps, err := neg.Get(ctx, top, canonical)
	if err != nil {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}

	if err := c.writeInfoRecords(code, canonical, caps, req.Requests); err != nil {
		return err
	}
	return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil)
}

func (c *Connection) writeInfoRecords(code nbdproto.OptionCode, name string, caps *capability.Set, want []nbdproto.InfoType) error {
	wantAll := len(want) == 0
	has := func(t nbdproto.InfoType) bool {
		if wantAll {
			return true
		}
		for _, w := range want {
			if w == t {
				return true
			}
		}
		return false
	}

	if has(nbdproto.InfoExport) {
		flags := caps.TransmissionFlags(nbdproto.FlagHasFlags)
		if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepInfo, nbdproto.EncodeInfoExport(caps.Size, flags)); err != nil {
			return err
		}
	}
	if has(nbdproto.InfoName) {
		if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepInfo, nbdproto.EncodeInfoName(name)); err != nil {
			return err
		}
	}
	if has(nbdproto.InfoDescription) {
		if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepInfo, nbdproto.EncodeInfoDescription("")); err != nil {
			return err
		}
	}
	if has(nbdproto.InfoBlockSize) {
		if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepInfo, nbdproto.EncodeInfoBlockSize(caps.BlockMin, caps.BlockPreferred, caps.BlockMax)); err != nil {
			return err
		}
	}
	return nil
}

// handleStartTLS implements spec.md §4.2's TLS_START/TLS_HANDSHAKE pair:
// ack, then immediately re-home the connection's stream on a tls.Conn and
// re-enter OPT_WAIT.
func (c *Connection) handleStartTLS(code nbdproto.OptionCode) error {
	if c.cfg.TLSConfig == nil {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrPolicy, nil)
	}
	nc, ok := c.rw.(net.Conn)
	if !ok {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrPlatform, nil)
	}
	if _, already := nc.(*tls.Conn); already {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}

	c.setState(StateTLSStart)
	if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil); err != nil {
		return err
	}

	c.setState(StateTLSHandshake)
	tlsConn := tls.Server(nc, c.cfg.TLSConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return err
	}
	c.rw = tlsConn
	c.setState(StateOptWait)
	return nil
}

// handleMetaContext answers both NBD_OPT_SET_META_CONTEXT (persist=true)
// and NBD_OPT_LIST_META_CONTEXT (persist=false). Only base:allocation is a
// recognized context (spec.md §6's scope); any other requested name is
// simply not matched, per the option's "only report contexts you know"
// semantics.
func (c *Connection) handleMetaContext(code nbdproto.OptionCode, payload []byte, persist bool) error {
	_, queries, err := nbdproto.DecodeSetMetaContext(payload)
	if err != nil {
		return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepErrInvalid, nil)
	}
	for _, q := range queries {
		if q != nbdproto.BaseAllocationContext {
			continue
		}
		if err := nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepMetaContext,
			nbdproto.EncodeMetaContextReply(1, nbdproto.BaseAllocationContext)); err != nil {
			return err
		}
		if persist {
			c.metaContexts = []metaContextBinding{{ID: 1, Name: nbdproto.BaseAllocationContext}}
		}
	}
	return nbdproto.WriteOptionReply(c.rw, code, nbdproto.RepAck, nil)
}
