package server

import (
	"sort"
	"sync"
	"time"
)

// ClientInfo is the metadata kept for a registered connection.
type ClientInfo struct {
	Nickname   string
	RemoteAddr string
	Transport  string
	JoinedAt   time.Time
}

// Entry is one row of a registry snapshot.
type Entry struct {
	Conn *SafeConn
	Info ClientInfo
}

type registryEntry struct {
	info ClientInfo
	seq  uint64
}

// Registry maps live connection handles to client metadata.
//
// Every operation runs under one mutex. Callers that need to do I/O against
// the registered connections take a Snapshot and work on the copy, so a slow
// write never holds the lock.
type Registry struct {
	mu      sync.RWMutex
	clients map[*SafeConn]registryEntry
	nextSeq uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*SafeConn]registryEntry),
	}
}

// Register inserts or overwrites the entry for conn.
func (r *Registry) Register(conn *SafeConn, info ClientInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(conn, info)
}

func (r *Registry) insertLocked(conn *SafeConn, info ClientInfo) {
	seq := r.nextSeq
	if existing, ok := r.clients[conn]; ok {
		// Overwrite keeps the original position in snapshots.
		seq = existing.seq
	} else {
		r.nextSeq++
	}
	r.clients[conn] = registryEntry{info: info, seq: seq}
}

// Unregister removes conn and returns its info. ok is false when conn was not
// registered, which callers must treat as "already removed", not as an error.
func (r *Registry) Unregister(conn *SafeConn) (info ClientInfo, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[conn]
	if !ok {
		return ClientInfo{}, false
	}
	delete(r.clients, conn)
	return entry.info, true
}

// Get returns the info registered for conn.
func (r *Registry) Get(conn *SafeConn) (ClientInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.clients[conn]
	return entry.info, ok
}

// FindByNickname returns the connection currently holding nickname.
func (r *Registry) FindByNickname(nickname string) (*SafeConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(nickname)
}

func (r *Registry) findLocked(nickname string) (*SafeConn, bool) {
	for conn, entry := range r.clients {
		if entry.info.Nickname == nickname {
			return conn, true
		}
	}
	return nil, false
}

// Claim registers conn under info.Nickname, evicting any other connection that
// holds the same nickname in the same critical section. The evicted handle is
// returned so the caller can close it and announce its departure outside the
// lock.
func (r *Registry) Claim(conn *SafeConn, info ClientInfo) (evicted *SafeConn, evictedInfo ClientInfo, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, found := r.findLocked(info.Nickname); found && prev != conn {
		evictedInfo = r.clients[prev].info
		delete(r.clients, prev)
		evicted, ok = prev, true
	}
	r.insertLocked(conn, info)
	return evicted, evictedInfo, ok
}

// Snapshot returns a point-in-time copy of all entries in registration order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	type row struct {
		entry Entry
		seq   uint64
	}
	rows := make([]row, 0, len(r.clients))
	for conn, e := range r.clients {
		rows = append(rows, row{entry: Entry{Conn: conn, Info: e.info}, seq: e.seq})
	}
	r.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = row.entry
	}
	return entries
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
