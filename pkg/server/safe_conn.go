package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrConnClosed = errors.New("connection closed")

// SafeConn is the handle for one live client stream.
//
// The owning handler reads from it; the handler and any number of concurrent
// broadcasters write to it. Writes are serialized so lines from different
// senders never interleave on the wire. Close is idempotent.
//
// Handles are compared by pointer identity, never by value.
type SafeConn struct {
	stream    Stream
	id        string
	transport string

	writeTimeout time.Duration

	mu        sync.Mutex // Protects writes to stream
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSafeConn wraps a stream. A zero writeTimeout disables write deadlines.
func NewSafeConn(stream Stream, transport string, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		stream:       stream,
		id:           uuid.NewString(),
		transport:    transport,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// ID returns the connection's unique identifier (used in logs and audit rows).
func (sc *SafeConn) ID() string {
	return sc.id
}

// Transport returns the transport name the connection arrived on.
func (sc *SafeConn) Transport() string {
	return sc.transport
}

// RemoteAddr returns the peer address.
func (sc *SafeConn) RemoteAddr() string {
	return sc.stream.RemoteAddr()
}

// ReadLine reads the next line. A non-zero timeout bounds the wait when the
// underlying stream supports deadlines.
func (sc *SafeConn) ReadLine(timeout time.Duration) (string, error) {
	if d, ok := sc.stream.(deadliner); ok {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := d.SetReadDeadline(deadline); err != nil && !sc.IsClosed() {
			return "", err
		}
	}
	return sc.stream.ReadLine()
}

// WriteLine sends one line with write synchronization.
func (sc *SafeConn) WriteLine(line string) error {
	if sc.IsClosed() {
		return ErrConnClosed
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if d, ok := sc.stream.(deadliner); ok && sc.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(sc.writeTimeout)); err != nil {
			return err
		}
	}
	return sc.stream.WriteLine(line)
}

// Close closes the underlying stream once; later calls are no-ops.
// Close errors are swallowed: the peer may already be gone.
func (sc *SafeConn) Close() {
	sc.closeOnce.Do(func() {
		close(sc.closed)
		sc.stream.Close()
	})
}

// IsClosed reports whether Close has been called.
func (sc *SafeConn) IsClosed() bool {
	select {
	case <-sc.closed:
		return true
	default:
		return false
	}
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
