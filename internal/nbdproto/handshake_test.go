package nbdproto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerPreambleRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteServerPreamble(&buf))

	var magic1, magic2 uint64
	require.NoError(t, binary.Read(&buf, binary.BigEndian, &magic1))
	require.NoError(t, binary.Read(&buf, binary.BigEndian, &magic2))
	assert.Equal(t, MagicNBD, magic1)
	assert.Equal(t, MagicIHAVEOPT, magic2)

	var flags uint16
	require.NoError(t, binary.Read(&buf, binary.BigEndian, &flags))
	assert.Equal(t, ServerHandshakeFlags(), flags)
}

func TestOptionHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, MagicIHAVEOPT))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(OptExportName)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(4)))
	buf.WriteString("test")

	hdr, err := ReadOptionHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, OptExportName, hdr.Code)
	assert.Equal(t, uint32(4), hdr.Length)
}

func TestOptionHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint64(0xdeadbeefdeadbeef)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(OptExportName)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0)))

	_, err := ReadOptionHeader(&buf)
	assert.Error(t, err)
}

func TestWriteOptionReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOptionReply(&buf, OptInfo, RepAck, []byte("hi")))

	var magic uint64
	require.NoError(t, binary.Read(&buf, binary.BigEndian, &magic))
	assert.Equal(t, MagicReply, magic)

	var code, rtype, length uint32
	require.NoError(t, binary.Read(&buf, binary.BigEndian, &code))
	assert.Equal(t, uint32(OptInfo), code)
	require.NoError(t, binary.Read(&buf, binary.BigEndian, &rtype))
	assert.Equal(t, uint32(RepAck), rtype)
	require.NoError(t, binary.Read(&buf, binary.BigEndian, &length))
	assert.Equal(t, uint32(2), length)
	assert.Equal(t, "hi", buf.String())
}

func TestEncodeInfoExport(t *testing.T) {
	buf := EncodeInfoExport(1<<20, FlagHasFlags)
	require.Len(t, buf, 2+8+2)
}

func TestDecodeInfoOrGoRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(4)))
	buf.WriteString("disk")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(2)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(InfoExport)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(InfoName)))

	req, err := DecodeInfoOrGoRequest(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "disk", req.Export)
	assert.Equal(t, []InfoType{InfoExport, InfoName}, req.Requests)
}

func TestDecodeInfoOrGoRequestRejectsTruncation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(10)))
	buf.WriteString("x")

	_, err := DecodeInfoOrGoRequest(buf.Bytes())
	assert.Error(t, err)
}

func TestDecodeSetMetaContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(4)))
	buf.WriteString("disk")
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(1)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(BaseAllocationContext))))
	buf.WriteString(BaseAllocationContext)

	export, queries, err := DecodeSetMetaContext(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "disk", export)
	assert.Equal(t, []string{BaseAllocationContext}, queries)
}

func TestDecodeSetMetaContextRejectsTruncation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(4)))
	buf.WriteString("d")

	_, _, err := DecodeSetMetaContext(buf.Bytes())
	assert.Error(t, err)
}
