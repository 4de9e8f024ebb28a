package server

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutUintHelpers(t *testing.T) {
	b8 := make([]byte, 8)
	putUint64(b8, 0x0102030405060708)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b8)

	b4 := make([]byte, 4)
	putUint32(b4, 0x01020304)
	assert.Equal(t, []byte{1, 2, 3, 4}, b4)

	b2 := make([]byte, 2)
	putUint16(b2, 0x0102)
	assert.Equal(t, []byte{1, 2}, b2)
}

func TestDiscardDrainsExactCount(t *testing.T) {
	payload := strings.Repeat("x", 10000)
	r := strings.NewReader(payload)
	require.NoError(t, discard(r, 10000))
	assert.Equal(t, 0, r.Len())
}

func TestDiscardErrorsOnShortStream(t *testing.T) {
	r := bytes.NewReader([]byte("short"))
	err := discard(r, 100)
	assert.Error(t, err)
}
