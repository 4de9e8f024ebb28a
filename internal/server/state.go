package server

// State is one node of the connection state machine of spec.md §4.2.
type State int

const (
	StateNewSend State = iota
	StateNewRecvFlags
	StateOptWait
	StateTLSStart
	StateTLSHandshake
	StateGoFinish
	StateReady
	StateRecvRequest
	StateDispatch
	StateSendReply
	StateDead
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNewSend:
		return "NEW_SEND"
	case StateNewRecvFlags:
		return "NEW_RECV_FLAGS"
	case StateOptWait:
		return "OPT_WAIT"
	case StateTLSStart:
		return "TLS_START"
	case StateTLSHandshake:
		return "TLS_HANDSHAKE"
	case StateGoFinish:
		return "GO_FINISH"
	case StateReady:
		return "READY"
	case StateRecvRequest:
		return "RECV_REQUEST"
	case StateDispatch:
		return "DISPATCH"
	case StateSendReply:
		return "SEND_REPLY"
	case StateDead:
		return "DEAD"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
