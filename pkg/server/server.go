package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/aeolun/relaychat/pkg/database"
	"github.com/aeolun/relaychat/pkg/protocol"
	"golang.org/x/crypto/ssh"
)

// Teardown reasons recorded in the event log, metrics and audit trail.
const (
	reasonExit            = "exit"
	reasonDisconnected    = "disconnected"
	reasonReadError       = "read error"
	reasonIdleTimeout     = "idle timeout"
	reasonClosed          = "connection closed"
	reasonEvicted         = "evicted"
	reasonWriteFailed     = "write failed"
	reasonInvalidNickname = "invalid nickname"
	reasonShutdown        = "server shutdown"
	reasonInternalError   = "internal error"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)

	// eventEcho receives a copy of every event log line next to the log file
	eventEcho io.Writer = os.Stdout
)

// EnableDebugLogging sends debug output to w
func EnableDebugLogging(w io.Writer) {
	debugLog = log.New(w, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Server is the chat relay: it owns the listeners, the client registry and
// every connection handler.
type Server struct {
	config ServerConfig

	listener      net.Listener
	sshListener   net.Listener
	wsServer      *http.Server
	metricsServer *http.Server
	tlsConfig     *tls.Config
	sshConfig     *ssh.ServerConfig

	registry    *Registry
	broadcaster *Broadcaster
	metrics     *Metrics
	audit       *database.DB

	events  *log.Logger
	logFile *os.File

	// Every connection past the transport handshake, registered or not,
	// so shutdown can close the ones still in their nickname handshake.
	liveMu sync.Mutex
	live   map[*SafeConn]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startTime time.Time
}

// NewServer creates a new server instance. It opens the event log and, when
// configured, the audit database; listeners are bound by Start.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var logFile *os.File
	logWriter := eventEcho
	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		logWriter = io.MultiWriter(eventEcho, f)
	}

	var audit *database.DB
	if config.AuditDatabasePath != "" {
		path, err := expandHome(config.AuditDatabasePath)
		if err != nil {
			closeFile(logFile)
			return nil, err
		}
		audit, err = database.Open(path)
		if err != nil {
			closeFile(logFile)
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		// Rows left open by a crash would otherwise look like live sessions.
		if n, err := audit.CloseOpenSessions("server restart", time.Now()); err != nil {
			errorLog.Printf("Failed to close stale audit sessions: %v", err)
		} else if n > 0 {
			log.Printf("Closed %d stale audit sessions", n)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	registry := NewRegistry()

	s := &Server{
		config:    config,
		registry:  registry,
		metrics:   metrics,
		audit:     audit,
		events:    log.New(logWriter, "", log.LstdFlags),
		logFile:   logFile,
		live:      make(map[*SafeConn]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}
	s.broadcaster = NewBroadcaster(registry, s.handleBroadcastFailure)
	s.broadcaster.SetMetrics(metrics)

	return s, nil
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// Start binds every configured listener and begins accepting connections.
// Bind and certificate failures are returned; nothing is retried.
func (s *Server) Start() error {
	if s.config.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	addr := s.config.Addr()

	// Use ListenConfig to enable SO_REUSEADDR
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = setSocketOptions(fd)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	if err := s.startSSHServer(); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to start SSH server: %w", err)
	}

	if err := s.startWebSocketServer(); err != nil {
		s.closeListeners()
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		s.closeListeners()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	mode := TransportTCP
	if s.tlsConfig != nil {
		mode = TransportTLS
	}
	s.logEvent("Chat server started on %s (%s)", listener.Addr(), mode)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address of the chat listener, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ClientCount returns the number of clients currently in the room
func (s *Server) ClientCount() int {
	return s.registry.Count()
}

// Stop gracefully stops the server: no new connections are accepted, every
// client is torn down and all handler goroutines are awaited.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.stop()
	})
	return err
}

func (s *Server) stop() error {
	s.logEvent("Shutting down server...")

	close(s.shutdown)
	s.cancel()
	s.closeListeners()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{s.wsServer, s.metricsServer} {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errorLog.Printf("HTTP server shutdown: %v", err)
			}
		}
	}

	// Drain the room
	for _, entry := range s.registry.Snapshot() {
		s.teardown(entry.Conn, reasonShutdown)
	}

	// Connections still in their nickname handshake
	s.closeLive()

	s.wg.Wait()

	var firstErr error
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			firstErr = err
		}
	}

	s.logEvent("Server stopped")
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) closeListeners() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.sshListener != nil {
		s.sshListener.Close()
	}
}

func (s *Server) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			// Back off on persistent errors such as running out of file descriptors
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logEvent("Accept error: %v (retrying in %v)", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		// Handle connection directly in goroutine
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs the transport handshake for one accepted TCP
// connection and then serves it. It runs on its own goroutine so a slow TLS
// handshake never holds up the accept loop.
func (s *Server) handleConnection(raw net.Conn) {
	defer s.wg.Done()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	debugLog.Printf("Accepted connection from %s", raw.RemoteAddr())

	if s.tlsConfig == nil {
		s.serveStream(newNetStream(raw), TransportTCP)
		return
	}

	tlsConn := tls.Server(raw, s.tlsConfig)
	ctx, cancel := s.handshakeContext()
	err := tlsConn.HandshakeContext(ctx)
	cancel()
	if err != nil {
		s.logEvent("TLS handshake with %s failed: %v", raw.RemoteAddr(), err)
		raw.Close()
		return
	}

	s.serveStream(newNetStream(tlsConn), TransportTLS)
}

func (s *Server) handshakeContext() (context.Context, context.CancelFunc) {
	if s.config.HandshakeTimeout > 0 {
		return context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	}
	return context.WithCancel(s.ctx)
}

// serveStream runs the connection state machine for an established stream.
func (s *Server) serveStream(stream Stream, transport string) {
	conn := NewSafeConn(stream, transport, s.config.WriteTimeout)
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	s.metrics.RecordConnection(transport)
	s.logEvent("New connection from %s (%s)", conn.RemoteAddr(), transport)

	newConnHandler(s, conn).run()
}

func (s *Server) track(conn *SafeConn) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	if s.isShuttingDown() {
		return false
	}
	s.live[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *SafeConn) {
	s.liveMu.Lock()
	delete(s.live, conn)
	s.liveMu.Unlock()
}

func (s *Server) closeLive() {
	s.liveMu.Lock()
	conns := make([]*SafeConn, 0, len(s.live))
	for conn := range s.live {
		conns = append(conns, conn)
	}
	s.liveMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// teardown removes conn from the room, closes it and announces the departure.
// It is safe to call any number of times for the same connection: only the
// call that actually removes the registry entry broadcasts a leave notice.
func (s *Server) teardown(conn *SafeConn, reason string) {
	info, ok := s.registry.Unregister(conn)
	conn.Close()
	if !ok {
		return
	}

	s.recordLeave(conn, info, reason)
	s.broadcaster.Broadcast(protocol.LeaveNotice(info.Nickname), nil)
}

// evict tears down a session displaced by a newer connection using the same
// nickname. The registry entry is already gone (see Registry.Claim).
func (s *Server) evict(old *SafeConn, info ClientInfo, newcomer *SafeConn) {
	old.Close()
	s.metrics.RecordEviction()
	s.logEvent("%s reconnected from %s; evicting session from %s", info.Nickname, newcomer.RemoteAddr(), info.RemoteAddr)
	s.recordLeave(old, info, reasonEvicted)
	s.broadcaster.Broadcast(protocol.LeaveNotice(info.Nickname), newcomer)
}

// handleBroadcastFailure treats a failed write as that recipient's disconnect.
func (s *Server) handleBroadcastFailure(conn *SafeConn, info ClientInfo, err error) {
	s.logEvent("Error broadcasting to %s: %v", info.Nickname, err)
	s.teardown(conn, reasonWriteFailed)
}

func (s *Server) recordJoin(conn *SafeConn, info ClientInfo) {
	s.metrics.RecordActiveClients(s.registry.Count())
	s.logEvent("%s connected from %s", info.Nickname, info.RemoteAddr)

	if s.audit != nil {
		if err := s.audit.RecordJoin(conn.ID(), info.Nickname, info.RemoteAddr, info.Transport, info.JoinedAt); err != nil {
			errorLog.Printf("Audit: %v", err)
		}
	}
}

func (s *Server) recordLeave(conn *SafeConn, info ClientInfo, reason string) {
	s.metrics.RecordDisconnect(reason)
	s.metrics.RecordActiveClients(s.registry.Count())
	s.logEvent("%s left the chat (%s)", info.Nickname, reason)

	if s.audit != nil {
		err := s.audit.RecordLeave(conn.ID(), reason, time.Now())
		if err != nil && !errors.Is(err, database.ErrSessionNotFound) {
			errorLog.Printf("Audit: %v", err)
		}
	}
}

// logEvent writes one timestamped line to the event log
func (s *Server) logEvent(format string, args ...interface{}) {
	s.events.Printf(format, args...)
}

// startMetricsServer serves /metrics and /health (internal only - never expose publicly!)
func (s *Server) startMetricsServer() error {
	if s.config.MetricsPort == 0 {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", s.HealthHandler)
	s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", ln.Addr())
	go func() {
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("Metrics server error: %v", err)
		}
	}()
	return nil
}

type healthResponse struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthHandler reports liveness and the current room size as JSON
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.isShuttingDown() {
		status = "shutting_down"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:        status,
		Clients:       s.registry.Count(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}
