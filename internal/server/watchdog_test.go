package server

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHalfCloseConn is an io.ReadWriteCloser that also records whether
// CloseWrite was called, standing in for *net.TCPConn etc in watchdog
// tests.
type fakeHalfCloseConn struct {
	closeWriteCalled bool
}

func (f *fakeHalfCloseConn) Read(p []byte) (int, error)  { return 0, io.EOF }
func (f *fakeHalfCloseConn) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeHalfCloseConn) Close() error                { return nil }
func (f *fakeHalfCloseConn) CloseWrite() error {
	f.closeWriteCalled = true
	return nil
}

func TestWatchdogFiresAndHalfCloses(t *testing.T) {
	rw := &fakeHalfCloseConn{}
	c := NewConnection("test", rw, &Config{})
	c.setState(StateReady)

	c.wd.arm(10 * time.Millisecond)
	require.Eventually(t, func() bool {
		return c.getState() == StateDead
	}, time.Second, 5*time.Millisecond)

	assert.True(t, rw.closeWriteCalled)
}

func TestWatchdogDisarmPreventsFiring(t *testing.T) {
	rw := &fakeHalfCloseConn{}
	c := NewConnection("test", rw, &Config{})
	c.setState(StateReady)

	c.wd.arm(10 * time.Millisecond)
	c.wd.disarm()
	time.Sleep(30 * time.Millisecond)

	assert.False(t, rw.closeWriteCalled)
	assert.Equal(t, StateReady, c.getState())
}

func TestWatchdogDoesNotFireOnceClosed(t *testing.T) {
	rw := &fakeHalfCloseConn{}
	c := NewConnection("test", rw, &Config{})
	c.setState(StateClosed)

	c.wd.arm(5 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.False(t, rw.closeWriteCalled)
}
