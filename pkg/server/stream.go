package server

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
)

// Transport names reported in logs, metrics and audit rows.
const (
	TransportTCP       = "tcp"
	TransportTLS       = "tls"
	TransportSSH       = "ssh"
	TransportWebSocket = "websocket"
)

// Stream is a bidirectional, line-oriented secure stream. Encryption (TLS, SSH,
// WSS) happens below this interface and is invisible to the handler.
type Stream interface {
	io.Closer
	ReadLine() (string, error)
	WriteLine(line string) error
	RemoteAddr() string
}

// deadliner is implemented by streams that support I/O deadlines.
// SSH channels do not.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// netStream frames lines over a net.Conn (plain TCP or *tls.Conn).
type netStream struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newNetStream(conn net.Conn) *netStream {
	return &netStream{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (ns *netStream) ReadLine() (string, error) {
	return protocol.ReadLine(ns.reader)
}

func (ns *netStream) WriteLine(line string) error {
	return protocol.WriteLine(ns.conn, line)
}

func (ns *netStream) Close() error {
	return ns.conn.Close()
}

func (ns *netStream) RemoteAddr() string {
	return ns.conn.RemoteAddr().String()
}

func (ns *netStream) SetReadDeadline(t time.Time) error {
	return ns.conn.SetReadDeadline(t)
}

func (ns *netStream) SetWriteDeadline(t time.Time) error {
	return ns.conn.SetWriteDeadline(t)
}
