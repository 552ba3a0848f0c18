package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
)

type handlerState int

const (
	stateHandshaking handlerState = iota
	stateActive
	stateClosing
	stateClosed
)

func (st handlerState) String() string {
	switch st {
	case stateHandshaking:
		return "handshaking"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connHandler drives one connection through
// Handshaking -> Active -> Closing -> Closed.
type connHandler struct {
	server   *Server
	conn     *SafeConn
	state    handlerState
	nickname string
	reason   string
}

func newConnHandler(s *Server, conn *SafeConn) *connHandler {
	return &connHandler{
		server: s,
		conn:   conn,
		state:  stateHandshaking,
	}
}

// run blocks until the connection is closed. A panic in the handler tears
// down this connection only.
func (h *connHandler) run() {
	defer func() {
		if r := recover(); r != nil {
			errorLog.Printf("Connection %s (%s): handler panic in state %s: %v", h.conn.ID(), h.conn.RemoteAddr(), h.state, r)
			h.reason = reasonInternalError
			h.server.teardown(h.conn, h.reason)
			h.state = stateClosed
		}
	}()

	for h.state != stateClosed {
		next := h.step()
		debugLog.Printf("Connection %s: %s -> %s", h.conn.ID(), h.state, next)
		h.state = next
	}
}

func (h *connHandler) step() handlerState {
	switch h.state {
	case stateHandshaking:
		return h.handshake()
	case stateActive:
		return h.active()
	case stateClosing:
		h.server.teardown(h.conn, h.reason)
		return stateClosed
	default:
		return stateClosed
	}
}

// handshake reads the nickname line and admits the client to the room.
func (h *connHandler) handshake() handlerState {
	s := h.server

	line, err := h.conn.ReadLine(s.config.HandshakeTimeout)
	if err != nil {
		h.reason = h.classifyReadError(err)
		s.logEvent("Connection from %s closed during handshake: %s", h.conn.RemoteAddr(), h.reason)
		return stateClosing
	}

	nickname := protocol.NormalizeNickname(line)
	if err := protocol.ValidateNickname(nickname); err != nil {
		s.metrics.RecordHandshakeRejected()
		s.logEvent("Rejected connection from %s: %v", h.conn.RemoteAddr(), err)
		if werr := h.conn.WriteLine(protocol.InvalidNicknameMessage); werr != nil {
			debugLog.Printf("Connection %s: failed to send rejection: %v", h.conn.ID(), werr)
		}
		h.reason = reasonInvalidNickname
		return stateClosing
	}

	info := ClientInfo{
		Nickname:   nickname,
		RemoteAddr: h.conn.RemoteAddr(),
		Transport:  h.conn.Transport(),
		JoinedAt:   time.Now(),
	}
	if old, oldInfo, evicted := s.registry.Claim(h.conn, info); evicted {
		s.evict(old, oldInfo, h.conn)
	}
	h.nickname = nickname

	s.recordJoin(h.conn, info)
	s.broadcaster.Broadcast(protocol.JoinNotice(nickname), h.conn)

	return stateActive
}

// active relays chat lines until the client leaves or the stream fails.
func (h *connHandler) active() handlerState {
	s := h.server

	for {
		// Evicted or torn down by a failed broadcast; drop anything still buffered.
		if h.conn.IsClosed() {
			h.reason = reasonClosed
			return stateClosing
		}

		line, err := h.conn.ReadLine(s.config.IdleTimeout)
		if err != nil {
			h.reason = h.classifyReadError(err)
			if h.reason == reasonReadError {
				s.logEvent("Connection error with %s: %v", h.nickname, err)
			}
			return stateClosing
		}

		// Evicted while the line was being read; the nickname may belong to
		// someone else by now.
		if h.conn.IsClosed() {
			h.reason = reasonClosed
			return stateClosing
		}

		if protocol.IsExitCommand(line) {
			h.reason = reasonExit
			return stateClosing
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		s.metrics.RecordMessageRelayed()
		s.logEvent("%s: %s", h.nickname, text)
		s.broadcaster.Broadcast(protocol.ChatLine(h.nickname, text), h.conn)
	}
}

func (h *connHandler) classifyReadError(err error) string {
	switch {
	case h.conn.IsClosed() || errors.Is(err, net.ErrClosed):
		return reasonClosed
	case errors.Is(err, io.EOF):
		return reasonDisconnected
	case isTimeout(err):
		return reasonIdleTimeout
	default:
		return reasonReadError
	}
}
