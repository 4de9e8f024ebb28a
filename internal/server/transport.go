package server

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mdlayher/vsock"
)

// TransportKind names one of the endpoint kinds of spec.md §6.
type TransportKind int

const (
	TransportTCP TransportKind = iota
	TransportUnix
	TransportVSock
	TransportStdin
)

// Endpoint describes one listener to bring up.
type Endpoint struct {
	Kind TransportKind
	Host string // TCP
	Port uint16 // TCP, VSOCK
	Path string // Unix socket path
	CID  uint32 // VSOCK context id shown in the connection URI; Listen does not use it
}

// Listen opens the underlying net.Listener (or, for stdin, a synthetic
// single-connection listener) described by e.
func Listen(e Endpoint) (net.Listener, error) {
	switch e.Kind {
	case TransportTCP:
		return net.Listen("tcp", fmt.Sprintf("%s:%d", e.Host, e.Port))
	case TransportUnix:
		return net.Listen("unix", e.Path)
	case TransportVSock:
		return vsock.Listen(uint32(e.Port), nil)
	case TransportStdin:
		return newStdinListener(), nil
	default:
		return nil, fmt.Errorf("server: unknown transport kind %d", e.Kind)
	}
}

// stdinAddr stands in for a net.Addr on the inherited-stdio transport,
// which has no host/port of its own.
type stdinAddr struct{}

func (stdinAddr) Network() string { return "stdin" }
func (stdinAddr) String() string  { return "stdin" }

// stdinListener hands out exactly one connection wrapping os.Stdin/
// os.Stdout (spec.md §6's "inherited socket on standard input"); a second
// Accept blocks until Close.
type stdinListener struct {
	used chan struct{}
	done chan struct{}
}

func newStdinListener() *stdinListener {
	return &stdinListener{used: make(chan struct{}, 1), done: make(chan struct{})}
}

func (l *stdinListener) Accept() (net.Conn, error) {
	select {
	case l.used <- struct{}{}:
		return stdinConn{}, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *stdinListener) Close() error {
	close(l.done)
	return nil
}

func (l *stdinListener) Addr() net.Addr { return stdinAddr{} }

// stdinConn implements net.Conn over the process's own stdin/stdout.
// Deadlines are not supported by a plain file descriptor pair and are
// accepted as no-ops.
type stdinConn struct{}

func (stdinConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdinConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdinConn) Close() error {
	_ = os.Stdin.Close()
	return os.Stdout.Close()
}
func (stdinConn) LocalAddr() net.Addr       { return stdinAddr{} }
func (stdinConn) RemoteAddr() net.Addr      { return stdinAddr{} }
func (stdinConn) SetDeadline(time.Time) error      { return nil }
func (stdinConn) SetReadDeadline(time.Time) error  { return nil }
func (stdinConn) SetWriteDeadline(time.Time) error { return nil }

// CloseWrite satisfies the watchdog's halfCloser interface for stdin mode
// by closing stdout only, letting the client still drain any buffered
// input.
func (stdinConn) CloseWrite() error { return os.Stdout.Close() }
