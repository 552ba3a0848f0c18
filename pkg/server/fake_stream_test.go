package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// fakeStream is an in-memory Stream. Lines pushed with deliver are returned by
// ReadLine; lines written by the server are recorded.
type fakeStream struct {
	addr     string
	incoming chan string
	done     chan struct{}

	mu       sync.Mutex
	written  []string
	writeErr error
	closed   int

	// afterRead runs on the reading goroutine once a line has been taken.
	afterRead func()

	closeOnce sync.Once
}

func newFakeStream(addr string) *fakeStream {
	return &fakeStream{
		addr:     addr,
		incoming: make(chan string, 16),
		done:     make(chan struct{}),
	}
}

func (fs *fakeStream) deliver(line string) {
	fs.incoming <- line
}

// hangUp makes the next ReadLine return io.EOF once buffered lines are consumed.
func (fs *fakeStream) hangUp() {
	close(fs.incoming)
}

func (fs *fakeStream) failWrites(err error) {
	fs.mu.Lock()
	fs.writeErr = err
	fs.mu.Unlock()
}

func (fs *fakeStream) lines() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.written...)
}

func (fs *fakeStream) closeCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.closed
}

func (fs *fakeStream) ReadLine() (string, error) {
	select {
	case line, ok := <-fs.incoming:
		if !ok {
			return "", io.EOF
		}
		if fs.afterRead != nil {
			fs.afterRead()
		}
		return line, nil
	case <-fs.done:
		return "", net.ErrClosed
	}
}

func (fs *fakeStream) WriteLine(line string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.writeErr != nil {
		return fs.writeErr
	}
	fs.written = append(fs.written, line)
	return nil
}

func (fs *fakeStream) Close() error {
	fs.mu.Lock()
	fs.closed++
	fs.mu.Unlock()
	fs.closeOnce.Do(func() { close(fs.done) })
	return nil
}

func (fs *fakeStream) RemoteAddr() string {
	return fs.addr
}

var errBrokenPipe = errors.New("broken pipe")

func newFakeConn(addr string) (*SafeConn, *fakeStream) {
	fs := newFakeStream(addr)
	return NewSafeConn(fs, TransportTCP, time.Second), fs
}
