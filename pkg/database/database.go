// Package database keeps an audit trail of chat sessions in SQLite.
//
// Only session metadata is stored (who connected, from where, when they left
// and why). Message content is never written.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSessionNotFound indicates no audit row exists for the session ID.
var ErrSessionNotFound = errors.New("session not found")

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Session is one audit row
type Session struct {
	ID             string
	Nickname       string
	RemoteAddr     string
	Transport      string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	Reason         string
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; audit writes come from many handler
	// goroutines, so serialize them through one connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	// Set busy timeout to 5 seconds
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		nickname TEXT NOT NULL,
		remote_addr TEXT NOT NULL,
		transport TEXT NOT NULL,
		connected_at INTEGER NOT NULL,
		disconnected_at INTEGER,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_nickname ON sessions(nickname);
	CREATE INDEX IF NOT EXISTS idx_sessions_connected_at ON sessions(connected_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// RecordJoin inserts the audit row for a session that completed its handshake.
func (db *DB) RecordJoin(id, nickname, remoteAddr, transport string, at time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO sessions (id, nickname, remote_addr, transport, connected_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, nickname, remoteAddr, transport, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record join: %w", err)
	}
	return nil
}

// RecordLeave stamps the disconnect time and reason on an open session row.
// A session that already has a disconnect time is left untouched.
func (db *DB) RecordLeave(id, reason string, at time.Time) error {
	result, err := db.conn.Exec(`
		UPDATE sessions SET disconnected_at = ?, reason = ?
		WHERE id = ? AND disconnected_at IS NULL
	`, at.UnixMilli(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to record leave: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CloseOpenSessions marks every session still open as ended, e.g. after an
// unclean shutdown left rows without a disconnect time.
func (db *DB) CloseOpenSessions(reason string, at time.Time) (int64, error) {
	result, err := db.conn.Exec(`
		UPDATE sessions SET disconnected_at = ?, reason = ?
		WHERE disconnected_at IS NULL
	`, at.UnixMilli(), reason)
	if err != nil {
		return 0, fmt.Errorf("failed to close open sessions: %w", err)
	}
	return result.RowsAffected()
}

// GetSession returns one audit row
func (db *DB) GetSession(id string) (*Session, error) {
	row := db.conn.QueryRow(`
		SELECT id, nickname, remote_addr, transport, connected_at, disconnected_at, reason
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// ListSessions returns the most recent sessions, newest first
func (db *DB) ListSessions(limit int) ([]*Session, error) {
	rows, err := db.conn.Query(`
		SELECT id, nickname, remote_addr, transport, connected_at, disconnected_at, reason
		FROM sessions
		ORDER BY connected_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*Session, error) {
	var (
		sess           Session
		connectedAt    int64
		disconnectedAt sql.NullInt64
	)
	if err := s.Scan(&sess.ID, &sess.Nickname, &sess.RemoteAddr, &sess.Transport, &connectedAt, &disconnectedAt, &sess.Reason); err != nil {
		return nil, err
	}

	sess.ConnectedAt = time.UnixMilli(connectedAt)
	if disconnectedAt.Valid {
		t := time.UnixMilli(disconnectedAt.Int64)
		sess.DisconnectedAt = &t
	}
	return &sess, nil
}
