package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
	"github.com/gorilla/websocket"
)

// maxWebSocketMessage caps one inbound text message; it may carry several lines.
const maxWebSocketMessage = 64 * 1024

// startWebSocketServer serves /ws on the configured port, over TLS when a
// certificate is loaded.
func (s *Server) startWebSocketServer() error {
	if s.config.WebSocketPort <= 0 {
		debugLog.Printf("WebSocket server disabled (websocket_port=%d)", s.config.WebSocketPort)
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.WebSocketPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.wsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.config.HandshakeTimeout,
	}

	log.Printf("WebSocket server listening on %s/ws", ln.Addr())
	go func() {
		if err := s.wsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("WebSocket server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: s.config.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
}

// checkOrigin accepts any origin unless an allow-list is configured.
// Requests without an Origin header (non-browser clients) are always accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	debugLog.Printf("Rejected WebSocket origin %q from %s", origin, r.RemoteAddr)
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isShuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		debugLog.Printf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(maxWebSocketMessage)

	s.serveStream(newWSStream(conn), TransportWebSocket)
}

// wsStream maps lines onto WebSocket text messages. Outbound, each line is
// one message without a trailing newline. Inbound, a message may hold several
// newline-separated lines, which are queued and returned one at a time.
type wsStream struct {
	conn    *websocket.Conn
	pending []string
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (ws *wsStream) ReadLine() (string, error) {
	for len(ws.pending) == 0 {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return "", io.EOF
			}
			return "", err
		}
		ws.pending = protocol.SplitLines(string(data))
	}

	line := ws.pending[0]
	ws.pending = ws.pending[1:]
	return line, nil
}

func (ws *wsStream) WriteLine(line string) error {
	if strings.ContainsRune(line, protocol.Delimiter) {
		return protocol.ErrEmbeddedNewline
	}
	return ws.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Close sends a best-effort close frame before dropping the connection.
func (ws *wsStream) Close() error {
	ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.conn.Close()
}

func (ws *wsStream) RemoteAddr() string {
	return ws.conn.RemoteAddr().String()
}

func (ws *wsStream) SetReadDeadline(t time.Time) error {
	return ws.conn.SetReadDeadline(t)
}

func (ws *wsStream) SetWriteDeadline(t time.Time) error {
	return ws.conn.SetWriteDeadline(t)
}
