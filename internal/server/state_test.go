package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateNewSend:      "NEW_SEND",
		StateOptWait:      "OPT_WAIT",
		StateReady:        "READY",
		StateRecvRequest:  "RECV_REQUEST",
		StateDispatch:     "DISPATCH",
		StateSendReply:    "SEND_REPLY",
		StateDead:         "DEAD",
		StateClosed:       "CLOSED",
		State(-1):         "UNKNOWN",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}
