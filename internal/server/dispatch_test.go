package server

import (
	"bytes"
	"context"
	"testing"

	"github.com/rclone/rnbd/internal/capability"
	"github.com/rclone/rnbd/internal/nbdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rwBuffer adapts a *bytes.Buffer into an io.ReadWriteCloser.
type rwBuffer struct{ *bytes.Buffer }

func (rwBuffer) Close() error { return nil }

func TestDispatchReadSimpleReply(t *testing.T) {
	ch := newMemChain(t, []byte("hello world!!!!"), true)

	var buf bytes.Buffer
	c := NewConnection("test", &rwBuffer{Buffer: &buf}, &Config{})
	top := ch.Top()
	_, err := top.Open(context.Background(), "disk", false)
	require.NoError(t, err)
	require.NoError(t, top.Prepare(context.Background()))
	caps, err := capability.New().Get(context.Background(), top, "disk")
	require.NoError(t, err)
	c.chainRef, c.top, c.caps = ch, top, caps
	c.readonly = !caps.Writable

	req := nbdproto.Request{Op: nbdproto.OpRead, Handle: 42, Offset: 0, Length: 5}
	opErr, frameErr := c.dispatchAndReply(context.Background(), req, nil)
	require.NoError(t, opErr)
	require.NoError(t, frameErr)

	out := buf.Bytes()
	require.GreaterOrEqual(t, len(out), nbdproto.SimpleReplyHeaderSize+5)
	assert.Equal(t, "hello", string(out[nbdproto.SimpleReplyHeaderSize:nbdproto.SimpleReplyHeaderSize+5]))
}

func TestDispatchWriteThenReadBack(t *testing.T) {
	ch := newMemChain(t, make([]byte, 16), true)

	var buf bytes.Buffer
	c := NewConnection("test", &rwBuffer{Buffer: &buf}, &Config{})
	top := ch.Top()
	_, err := top.Open(context.Background(), "disk", false)
	require.NoError(t, err)
	require.NoError(t, top.Prepare(context.Background()))
	caps, err := capability.New().Get(context.Background(), top, "disk")
	require.NoError(t, err)
	c.chainRef, c.top, c.caps = ch, top, caps
	c.readonly = !caps.Writable

	writeReq := nbdproto.Request{Op: nbdproto.OpWrite, Handle: 1, Offset: 0, Length: 4}
	opErr, frameErr := c.dispatchAndReply(context.Background(), writeReq, []byte("data"))
	require.NoError(t, opErr)
	require.NoError(t, frameErr)
	buf.Reset()

	readReq := nbdproto.Request{Op: nbdproto.OpRead, Handle: 2, Offset: 0, Length: 4}
	opErr, frameErr = c.dispatchAndReply(context.Background(), readReq, nil)
	require.NoError(t, opErr)
	require.NoError(t, frameErr)
	out := buf.Bytes()
	assert.Equal(t, "data", string(out[nbdproto.SimpleReplyHeaderSize:nbdproto.SimpleReplyHeaderSize+4]))
}

func TestDispatchWriteRejectedWhenReadOnly(t *testing.T) {
	ch := newMemChain(t, make([]byte, 16), false)

	var buf bytes.Buffer
	c := NewConnection("test", &rwBuffer{Buffer: &buf}, &Config{})
	top := ch.Top()
	_, err := top.Open(context.Background(), "disk", true)
	require.NoError(t, err)
	require.NoError(t, top.Prepare(context.Background()))
	caps, err := capability.New().Get(context.Background(), top, "disk")
	require.NoError(t, err)
	c.chainRef, c.top, c.caps = ch, top, caps
	c.readonly = !caps.Writable
	require.True(t, c.readonly)

	req := nbdproto.Request{Op: nbdproto.OpWrite, Handle: 1, Offset: 0, Length: 4}
	opErr, frameErr := c.dispatchAndReply(context.Background(), req, []byte("data"))
	require.Error(t, opErr)
	require.NoError(t, frameErr)
}

func TestDispatchRejectsReadPastExportSize(t *testing.T) {
	ch := newMemChain(t, make([]byte, 16), true)

	var buf bytes.Buffer
	c := NewConnection("test", &rwBuffer{Buffer: &buf}, &Config{})
	top := ch.Top()
	_, err := top.Open(context.Background(), "disk", false)
	require.NoError(t, err)
	require.NoError(t, top.Prepare(context.Background()))
	caps, err := capability.New().Get(context.Background(), top, "disk")
	require.NoError(t, err)
	c.chainRef, c.top, c.caps = ch, top, caps
	c.readonly = !caps.Writable

	req := nbdproto.Request{Op: nbdproto.OpRead, Handle: 1, Offset: 12, Length: 8}
	opErr, frameErr := c.dispatchAndReply(context.Background(), req, nil)
	require.Error(t, opErr)
	require.NoError(t, frameErr)
}

func TestDispatchRejectsWritePastExportSizeWithoutTouchingChain(t *testing.T) {
	ch := newMemChain(t, make([]byte, 16), true)

	var buf bytes.Buffer
	c := NewConnection("test", &rwBuffer{Buffer: &buf}, &Config{})
	top := ch.Top()
	_, err := top.Open(context.Background(), "disk", false)
	require.NoError(t, err)
	require.NoError(t, top.Prepare(context.Background()))
	caps, err := capability.New().Get(context.Background(), top, "disk")
	require.NoError(t, err)
	c.chainRef, c.top, c.caps = ch, top, caps
	c.readonly = !caps.Writable

	req := nbdproto.Request{Op: nbdproto.OpWrite, Handle: 1, Offset: 10, Length: 10}
	opErr, frameErr := c.dispatchAndReply(context.Background(), req, make([]byte, 10))
	require.Error(t, opErr)
	require.NoError(t, frameErr)
}

func TestDispatchFastZeroWithoutCapabilityFails(t *testing.T) {
	ch := newMemChain(t, make([]byte, 16), true)

	var buf bytes.Buffer
	c := NewConnection("test", &rwBuffer{Buffer: &buf}, &Config{})
	top := ch.Top()
	_, err := top.Open(context.Background(), "disk", false)
	require.NoError(t, err)
	require.NoError(t, top.Prepare(context.Background()))
	caps, err := capability.New().Get(context.Background(), top, "disk")
	require.NoError(t, err)
	c.chainRef, c.top, c.caps = ch, top, caps
	c.readonly = !caps.Writable
	require.False(t, c.caps.FastZero)

	req := nbdproto.Request{Op: nbdproto.OpWriteZeroes, Handle: 1, Offset: 0, Length: 4, Flags: nbdproto.CmdFlagFastZero}
	opErr, frameErr := c.dispatchAndReply(context.Background(), req, nil)
	require.Error(t, opErr)
	require.NoError(t, frameErr)
}
