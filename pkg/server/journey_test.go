package server

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/relaychat/pkg/certs"
	"github.com/aeolun/relaychat/pkg/database"
	"github.com/aeolun/relaychat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const journeyTimeout = 5 * time.Second

// ---------------------------------------------------------------------------
// Line clients
//
// Every transport gets a persistent reader goroutine feeding a buffered
// channel, so tests can wait with a timeout without relying on read
// deadlines (SSH channels have none, and a gorilla/websocket read timeout
// breaks the connection).
// ---------------------------------------------------------------------------

type lineClient struct {
	transport string
	write     func(string) error
	closeFn   func()
	lines     chan string
	closeOnce sync.Once
}

func newLineClient(transport string, read func() (string, error), write func(string) error, closeFn func()) *lineClient {
	c := &lineClient{
		transport: transport,
		write:     write,
		closeFn:   closeFn,
		lines:     make(chan string, 64),
	}
	go func() {
		defer close(c.lines)
		for {
			line, err := read()
			if err != nil {
				return
			}
			c.lines <- line
		}
	}()
	return c
}

func (c *lineClient) send(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, c.write(line), "%s send %q", c.transport, line)
}

// expect waits for the next line and asserts its content
func (c *lineClient) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case line, ok := <-c.lines:
		require.True(t, ok, "%s: connection closed while waiting for %q", c.transport, want)
		require.Equal(t, want, line, "%s: unexpected line", c.transport)
	case <-time.After(journeyTimeout):
		t.Fatalf("%s: timeout waiting for %q", c.transport, want)
	}
}

// expectSilence asserts nothing arrives within d
func (c *lineClient) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case line, ok := <-c.lines:
		if ok {
			t.Fatalf("%s: expected silence, got %q", c.transport, line)
		}
	case <-time.After(d):
	}
}

// expectClosed waits for the server to close the connection, failing on any
// line other than those listed.
func (c *lineClient) expectClosed(t *testing.T, allowed ...string) {
	t.Helper()
	deadline := time.After(journeyTimeout)
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return
			}
			if !contains(allowed, line) {
				t.Fatalf("%s: unexpected line %q before close", c.transport, line)
			}
		case <-deadline:
			t.Fatalf("%s: connection was not closed", c.transport)
		}
	}
}

func (c *lineClient) close() {
	c.closeOnce.Do(c.closeFn)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func newNetLineClient(transport string, conn net.Conn) *lineClient {
	reader := bufio.NewReader(conn)
	return newLineClient(transport,
		func() (string, error) { return protocol.ReadLine(reader) },
		func(line string) error { return protocol.WriteLine(conn, line) },
		func() { conn.Close() },
	)
}

func dialTCP(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, journeyTimeout)
	require.NoError(t, err)
	c := newNetLineClient(TransportTCP, conn)
	t.Cleanup(c.close)
	return c
}

func dialTLS(t *testing.T, addr string) *lineClient {
	t.Helper()
	dialer := &net.Dialer{Timeout: journeyTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	c := newNetLineClient(TransportTLS, conn)
	t.Cleanup(c.close)
	return c
}

func dialSSH(t *testing.T, addr string) *lineClient {
	t.Helper()
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "relay",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         journeyTimeout,
	})
	require.NoError(t, err)

	channel, requests, err := client.OpenChannel("session", nil)
	if err != nil {
		client.Close()
		t.Fatalf("SSH open channel: %v", err)
	}
	go ssh.DiscardRequests(requests)

	reader := bufio.NewReader(channel)
	c := newLineClient(TransportSSH,
		func() (string, error) { return protocol.ReadLine(reader) },
		func(line string) error { return protocol.WriteLine(channel, line) },
		func() {
			channel.Close()
			client.Close()
		},
	)
	t.Cleanup(c.close)
	return c
}

func dialWebSocket(t *testing.T, url string) *lineClient {
	t.Helper()
	dialer := websocket.Dialer{
		HandshakeTimeout: journeyTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
	}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)

	var writeMu sync.Mutex
	c := newLineClient(TransportWebSocket,
		func() (string, error) {
			_, data, err := conn.ReadMessage()
			return string(data), err
		},
		func(line string) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteMessage(websocket.TextMessage, []byte(line))
		},
		func() { conn.Close() },
	)
	t.Cleanup(c.close)
	return c
}

// ---------------------------------------------------------------------------
// Server setup
// ---------------------------------------------------------------------------

type journeyServer struct {
	srv     *Server
	dir     string
	tcpAddr string
	sshAddr string
	wsURL   string
	tls     bool
}

// freePort returns a port that was free a moment ago. Optional listeners
// treat port 0 as "disabled", so they need a concrete number.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) (ServerConfig, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.LogFile = filepath.Join(dir, "chat_server.log")
	cfg.SSHHostKeyPath = filepath.Join(dir, "ssh_host_key")
	cfg.AuditDatabasePath = filepath.Join(dir, "audit.db")
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg, dir
}

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func setupJourneyServer(t *testing.T, withTLS bool) *journeyServer {
	t.Helper()
	cfg, dir := testConfig(t)
	cfg.SSHPort = freePort(t)
	cfg.WebSocketPort = freePort(t)

	if withTLS {
		certPEM, keyPEM, err := certs.GenerateSelfSigned([]string{"127.0.0.1"}, time.Hour)
		require.NoError(t, err)
		cfg.CertFile = filepath.Join(dir, "cert.pem")
		cfg.KeyFile = filepath.Join(dir, "key.pem")
		require.NoError(t, certs.WriteFiles(cfg.CertFile, cfg.KeyFile, certPEM, keyPEM))
	}

	srv := startServer(t, cfg)

	scheme := "ws"
	if withTLS {
		scheme = "wss"
	}
	return &journeyServer{
		srv:     srv,
		dir:     dir,
		tcpAddr: srv.Addr().String(),
		sshAddr: fmt.Sprintf("127.0.0.1:%d", cfg.SSHPort),
		wsURL:   fmt.Sprintf("%s://127.0.0.1:%d/ws", scheme, cfg.WebSocketPort),
		tls:     withTLS,
	}
}

type transportFactory struct {
	name    string
	connect func(t *testing.T, s *journeyServer) *lineClient
}

func allTransports() []transportFactory {
	return []transportFactory{
		{"stream", func(t *testing.T, s *journeyServer) *lineClient {
			if s.tls {
				return dialTLS(t, s.tcpAddr)
			}
			return dialTCP(t, s.tcpAddr)
		}},
		{"ssh", func(t *testing.T, s *journeyServer) *lineClient { return dialSSH(t, s.sshAddr) }},
		{"websocket", func(t *testing.T, s *journeyServer) *lineClient { return dialWebSocket(t, s.wsURL) }},
	}
}

// join connects, sends the nickname and waits until the server has
// registered it.
func join(t *testing.T, s *journeyServer, tf transportFactory, nickname string) *lineClient {
	t.Helper()
	before := s.srv.ClientCount()
	c := tf.connect(t, s)
	c.send(t, nickname)
	waitFor(t, func() bool { return s.srv.ClientCount() > before }, "%s to register", nickname)
	return c
}

func waitFor(t *testing.T, cond func() bool, format string, args ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(journeyTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for "+format, args...)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readLog(t *testing.T, s *journeyServer) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.dir, "chat_server.log"))
	require.NoError(t, err)
	return string(data)
}

// ---------------------------------------------------------------------------
// Journeys
// ---------------------------------------------------------------------------

func TestJourney(t *testing.T) {
	for _, withTLS := range []bool{false, true} {
		name := "plain"
		if withTLS {
			name = "tls"
		}
		t.Run(name, func(t *testing.T) {
			servers := setupJourneyServer(t, withTLS)

			for _, tf := range allTransports() {
				t.Run("chat_round_trip/"+tf.name, func(t *testing.T) {
					runChatRoundTrip(t, servers, tf)
				})
			}
			t.Run("cross_transport_broadcast", func(t *testing.T) {
				runCrossTransportBroadcast(t, servers)
			})
		})
	}
}

// alice and bob chat, alice leaves with /exit, bob sees the notices.
func runChatRoundTrip(t *testing.T, s *journeyServer, tf transportFactory) {
	alice := join(t, s, tf, "alice_"+tf.name)
	bob := join(t, s, tf, "bob_"+tf.name)

	alice.expect(t, "bob_"+tf.name+" joined the chat!")

	alice.send(t, "hello bob")
	bob.expect(t, "alice_"+tf.name+": hello bob")
	alice.expectSilence(t, 100*time.Millisecond)

	bob.send(t, "  hi alice  ")
	alice.expect(t, "bob_"+tf.name+": hi alice")

	alice.send(t, "/EXIT")
	alice.expectClosed(t)
	bob.expect(t, "alice_"+tf.name+" left the chat")

	bob.send(t, "/exit")
	bob.expectClosed(t)
	waitFor(t, func() bool { return s.srv.ClientCount() == 0 }, "room to empty")
}

func runCrossTransportBroadcast(t *testing.T, s *journeyServer) {
	transports := allTransports()
	clients := make([]*lineClient, len(transports))
	for i, tf := range transports {
		clients[i] = join(t, s, tf, "x_"+tf.name)
		for _, earlier := range clients[:i] {
			earlier.expect(t, "x_"+tf.name+" joined the chat!")
		}
	}

	for i, sender := range clients {
		sender.send(t, "ping from "+transports[i].name)
		for j, receiver := range clients {
			if j == i {
				continue
			}
			receiver.expect(t, fmt.Sprintf("x_%s: ping from %s", transports[i].name, transports[i].name))
		}
	}

	for _, c := range clients {
		c.close()
	}
	waitFor(t, func() bool { return s.srv.ClientCount() == 0 }, "room to empty")
}

func TestNicknameValidationBoundaries(t *testing.T) {
	cfg, _ := testConfig(t)
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, tcpAddr: srv.Addr().String()}
	tcp := allTransports()[0]

	rejected := []struct {
		name string
		nick string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"21 chars", strings.Repeat("a", 21)},
		{"control char", "bad\x07nick"},
		{"tab", "bad\tnick"},
	}
	for _, tt := range rejected {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			c := dialTCP(t, s.tcpAddr)
			c.send(t, tt.nick)
			c.expect(t, protocol.InvalidNicknameMessage)
			c.expectClosed(t)
			assert.Equal(t, 0, srv.ClientCount())
		})
	}

	accepted := []string{"a", strings.Repeat("b", 20), "  padded  ", "Zoë"}
	for _, nick := range accepted {
		t.Run("accepts "+nick, func(t *testing.T) {
			c := join(t, s, tcp, nick)
			c.send(t, "/exit")
			c.expectClosed(t)
			waitFor(t, func() bool { return srv.ClientCount() == 0 }, "room to empty")
		})
	}
}

func TestBroadcastExclusionAndLateJoiner(t *testing.T) {
	cfg, _ := testConfig(t)
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, tcpAddr: srv.Addr().String()}
	tcp := allTransports()[0]

	alice := join(t, s, tcp, "alice")
	bob := join(t, s, tcp, "bob")
	alice.expect(t, "bob joined the chat!")

	alice.send(t, "before carol")
	bob.expect(t, "alice: before carol")

	// Late joiners see nothing that was said before they arrived
	carol := join(t, s, tcp, "carol")
	alice.expect(t, "carol joined the chat!")
	bob.expect(t, "carol joined the chat!")
	carol.expectSilence(t, 150*time.Millisecond)

	// Blank lines are not relayed
	bob.send(t, "")
	bob.send(t, "   ")
	bob.send(t, "after carol")
	alice.expect(t, "bob: after carol")
	carol.expect(t, "bob: after carol")
	bob.expectSilence(t, 100*time.Millisecond)
}

func TestNicknameReconnectEvictsOldSession(t *testing.T) {
	cfg, dir := testConfig(t)
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, dir: dir, tcpAddr: srv.Addr().String()}
	tcp := allTransports()[0]

	alice := join(t, s, tcp, "alice")
	oldBob := tcp.connect(t, s)
	oldBob.send(t, "bob")
	alice.expect(t, "bob joined the chat!")

	newBob := tcp.connect(t, s)
	newBob.send(t, "bob")

	// The old session is dropped; the room hears it leave and the newcomer join
	oldBob.expectClosed(t)
	alice.expect(t, "bob left the chat")
	alice.expect(t, "bob joined the chat!")
	newBob.expectSilence(t, 100*time.Millisecond)
	// The evicted handler's own teardown stays quiet.
	alice.expectSilence(t, 150*time.Millisecond)

	assert.Equal(t, 2, srv.ClientCount())

	newBob.send(t, "it's me again")
	alice.expect(t, "bob: it's me again")

	assert.Contains(t, readLog(t, s), "evicting session")
}

func TestSessionLogAndAudit(t *testing.T) {
	cfg, dir := testConfig(t)
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, dir: dir, tcpAddr: srv.Addr().String()}
	tcp := allTransports()[0]

	carol := join(t, s, tcp, "carol")
	carol.send(t, "logged line")
	carol.send(t, "/exit")
	carol.expectClosed(t)
	waitFor(t, func() bool { return srv.ClientCount() == 0 }, "room to empty")

	log := readLog(t, s)
	assert.Regexp(t, `carol connected from 127\.0\.0\.1:\d+`, log)
	assert.Contains(t, log, "carol: logged line")
	assert.Contains(t, log, "carol left the chat (exit)")

	require.NoError(t, srv.Stop())

	db, err := database.Open(cfg.AuditDatabasePath)
	require.NoError(t, err)
	defer db.Close()

	sessions, err := db.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "carol", sessions[0].Nickname)
	assert.Equal(t, TransportTCP, sessions[0].Transport)
	assert.Equal(t, reasonExit, sessions[0].Reason)
	assert.NotNil(t, sessions[0].DisconnectedAt)
}

func TestAbruptDisconnectAnnouncesLeave(t *testing.T) {
	cfg, _ := testConfig(t)
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, tcpAddr: srv.Addr().String()}
	tcp := allTransports()[0]

	alice := join(t, s, tcp, "alice")
	bob := join(t, s, tcp, "bob")
	alice.expect(t, "bob joined the chat!")

	bob.close()
	alice.expect(t, "bob left the chat")
	alice.expectSilence(t, 150*time.Millisecond)
	assert.Equal(t, 1, srv.ClientCount())
}

func TestHandshakeTimeout(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.HandshakeTimeout = 100 * time.Millisecond
	srv := startServer(t, cfg)

	c := dialTCP(t, srv.Addr().String())
	c.expectClosed(t)
	assert.Equal(t, 0, srv.ClientCount())
}

func TestIdleTimeout(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.IdleTimeout = 150 * time.Millisecond
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, tcpAddr: srv.Addr().String()}

	c := join(t, s, allTransports()[0], "sleepy")
	c.expectClosed(t)
	waitFor(t, func() bool { return srv.ClientCount() == 0 }, "idle client removal")
}

func TestStopDrainsClients(t *testing.T) {
	cfg, _ := testConfig(t)
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	s := &journeyServer{srv: srv, tcpAddr: srv.Addr().String()}
	tcp := allTransports()[0]

	alice := join(t, s, tcp, "alice")
	bob := join(t, s, tcp, "bob")
	alice.expect(t, "bob joined the chat!")

	// A connection still in its nickname handshake
	pending := dialTCP(t, s.tcpAddr)

	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(journeyTimeout):
		t.Fatal("Stop did not return")
	}

	alice.expectClosed(t, "bob left the chat")
	bob.expectClosed(t, "alice left the chat")
	pending.expectClosed(t)
	assert.Equal(t, 0, srv.ClientCount())

	// Stopping twice is harmless
	assert.NoError(t, srv.Stop())

	_, err = net.DialTimeout("tcp", s.tcpAddr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestStartFailsOnMissingCertificate(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.CertFile = filepath.Join(dir, "missing.pem")
	cfg.KeyFile = filepath.Join(dir, "missing-key.pem")

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer srv.Stop()

	err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS certificate")
}

func TestStartFailsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg, _ := testConfig(t)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer srv.Stop()

	assert.Error(t, srv.Start())
}

func TestFailedStartReleasesSSHListener(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg, _ := testConfig(t)
	cfg.SSHPort = freePort(t)
	cfg.WebSocketPort = busy.Addr().(*net.TCPAddr).Port

	srv, err := NewServer(cfg)
	require.NoError(t, err)

	err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WebSocket")

	// Without a Stop, the SSH accept goroutine must still end on its own.
	finished := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("SSH accept loop still running after failed Start")
	}

	// The SSH port is free again.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.SSHPort))
	require.NoError(t, err)
	ln.Close()

	require.NoError(t, srv.Stop())
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Port = 70000

	_, err := NewServer(cfg)
	assert.Error(t, err)
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.MetricsPort = freePort(t)
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, tcpAddr: srv.Addr().String()}

	join(t, s, allTransports()[0], "dana")

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.MetricsPort)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relaychat_active_clients 1")
	assert.Contains(t, string(body), `relaychat_connections_total{transport="tcp"} 1`)
}

func TestWebSocketOriginAllowList(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.WebSocketPort = freePort(t)
	cfg.AllowedOrigins = []string{"https://chat.example.com"}
	startServer(t, cfg)

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.WebSocketPort)
	dialer := websocket.Dialer{HandshakeTimeout: journeyTimeout}

	_, resp, err := dialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialer.Dial(url, http.Header{"Origin": {"https://chat.example.com"}})
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketMessageWithSeveralLines(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.WebSocketPort = freePort(t)
	srv := startServer(t, cfg)
	s := &journeyServer{srv: srv, tcpAddr: srv.Addr().String(), wsURL: fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.WebSocketPort)}

	listener := join(t, s, allTransports()[0], "listener")
	ws := join(t, s, allTransports()[2], "webby")
	listener.expect(t, "webby joined the chat!")

	ws.send(t, "first\nsecond\r\n")
	listener.expect(t, "webby: first")
	listener.expect(t, "webby: second")
}

func TestSSHHostKeyIsReused(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "ssh_host_key")

	first, err := hostSigner(keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := hostSigner(keyPath)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}

func TestSSHHostKeyCorrupt(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "ssh_host_key")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0600))

	_, err := hostSigner(keyPath)
	assert.ErrorContains(t, err, "failed to parse host key")
}
