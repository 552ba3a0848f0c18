// Package client implements the interactive side of the chat relay: it dials
// the server, sends the nickname and then relays lines between the terminal
// and the room.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
)

// ErrRetriesExhausted is returned by Dial when every connection attempt failed.
var ErrRetriesExhausted = errors.New("max retries reached")

// Config holds client connection settings
type Config struct {
	Host     string
	Port     int
	Nickname string

	UseTLS             bool
	InsecureSkipVerify bool // Accept self-signed server certificates

	MaxAttempts int
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		Host:               "localhost",
		Port:               5555,
		UseTLS:             true,
		InsecureSkipVerify: true,
		MaxAttempts:        3,
		RetryDelay:         5 * time.Second,
		DialTimeout:        10 * time.Second,
	}
}

// Addr returns the host:port to dial
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the settings before any connection attempt.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", c.Port)
	}
	if err := protocol.ValidateNickname(protocol.NormalizeNickname(c.Nickname)); err != nil {
		return err
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	return nil
}

// Client is one connected chat session.
type Client struct {
	config Config
	logger *log.Logger

	raw    net.Conn // TCP connection
	conn   net.Conn // Secure stream on top of raw (raw itself without TLS)
	reader *bufio.Reader

	writeMu sync.Mutex

	shutdown     chan struct{}
	shutdownOnce sync.Once
	localStop    atomic.Bool
	closeOnce    sync.Once
}

// Dial connects to the server and sends the nickname. Failed attempts are
// logged and retried after a fixed delay, up to MaxAttempts in total.
func Dial(ctx context.Context, config Config, logger *log.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		logger.Printf("Connecting to %s (attempt %d/%d)...", config.Addr(), attempt, config.MaxAttempts)

		c, err := dialOnce(ctx, config, logger)
		if err == nil {
			return c, nil
		}
		lastErr = err
		logger.Printf("Connection error: %v", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == config.MaxAttempts {
			break
		}

		logger.Printf("Retrying in %v...", config.RetryDelay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(config.RetryDelay):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, config.MaxAttempts, lastErr)
}

func dialOnce(ctx context.Context, config Config, logger *log.Logger) (*Client, error) {
	dialer := &net.Dialer{Timeout: config.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", config.Addr())
	if err != nil {
		return nil, err
	}

	conn := raw
	if config.UseTLS {
		tlsConn := tls.Client(raw, &tls.Config{
			ServerName:         config.Host,
			InsecureSkipVerify: config.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		})

		hsCtx := ctx
		if config.DialTimeout > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(ctx, config.DialTimeout)
			defer cancel()
		}
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		logger.Printf("TLS connection established (%s)", tls.VersionName(tlsConn.ConnectionState().Version))
		conn = tlsConn
	}

	c := &Client{
		config:   config,
		logger:   logger,
		raw:      raw,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		shutdown: make(chan struct{}),
	}

	// The nickname goes out before any other traffic
	if err := c.send(protocol.NormalizeNickname(config.Nickname)); err != nil {
		c.closeStreams()
		return nil, fmt.Errorf("failed to send nickname: %w", err)
	}

	return c, nil
}

// send writes one line to the server
func (c *Client) send(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteLine(c.conn, line)
}

// stop signals both loops to finish. local marks a stop the user asked for,
// which makes Close tell the server with /exit.
func (c *Client) stop(local bool) {
	if local {
		c.localStop.Store(true)
	}
	c.shutdownOnce.Do(func() {
		close(c.shutdown)
	})
}

func (c *Client) stopping() bool {
	select {
	case <-c.shutdown:
		return true
	default:
		return false
	}
}

// Run relays lines until either side stops: received lines are rendered to
// out, lines read from in are sent to the server. It returns once both loops
// have finished and the connection is closed.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	view := newRenderer(out)

	received := make(chan struct{})
	go func() {
		defer close(received)
		c.receiveLoop(view)
	}()

	c.sendLoop(ctx, in, view)
	c.Close()
	<-received
	return nil
}

func (c *Client) receiveLoop(view *renderer) {
	for {
		line, err := protocol.ReadLine(c.reader)
		if err != nil {
			if !c.stopping() {
				if errors.Is(err, io.EOF) {
					view.status("Server closed the connection")
				} else {
					view.failure("Receive error: %v", err)
				}
			}
			c.stop(false)
			return
		}
		view.message(line)
	}
}

func (c *Client) sendLoop(ctx context.Context, in io.Reader, view *renderer) {
	lines := make(chan string)
	go readInput(in, lines, c.shutdown)

	for {
		select {
		case <-c.shutdown:
			return
		case <-ctx.Done():
			view.status("Disconnecting...")
			c.stop(true)
			return
		case line, ok := <-lines:
			if !ok {
				view.status("Disconnecting...")
				c.stop(true)
				return
			}
			if protocol.IsExitCommand(line) {
				c.stop(true)
				return
			}
			if err := c.send(line); err != nil {
				if !c.stopping() {
					view.failure("Send error: %v", err)
				}
				c.stop(false)
				return
			}
		}
	}
}

// readInput feeds lines from in until end of input. It may outlive Run while
// blocked on a terminal read; the process exit ends it.
func readInput(in io.Reader, lines chan<- string, shutdown <-chan struct{}) {
	defer close(lines)
	reader := bufio.NewReader(in)
	for {
		line, err := protocol.ReadLine(reader)
		if err != nil {
			return
		}
		select {
		case lines <- line:
		case <-shutdown:
			return
		}
	}
}

// Close ends the session. After a local stop the server is sent a
// best-effort /exit first. Safe to call more than once.
func (c *Client) Close() {
	c.stop(false)
	c.closeOnce.Do(func() {
		if c.localStop.Load() {
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := protocol.WriteLine(c.conn, protocol.ExitCommand); err != nil {
				c.logger.Printf("Failed to send %s: %v", protocol.ExitCommand, err)
			}
			c.writeMu.Unlock()
		}
		c.closeStreams()
	})
}

// closeStreams closes the secure stream and the raw connection beneath it;
// the second close of the same socket is expected to fail and is ignored.
func (c *Client) closeStreams() {
	c.conn.Close()
	if c.raw != c.conn {
		c.raw.Close()
	}
}
