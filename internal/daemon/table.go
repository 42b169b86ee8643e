// Package daemon orchestrates the client and server sides of an LLP
// connection: dialing or accepting the carrier, running the handshake, and
// servicing the resulting session with the cooperative-task shape described
// in spec.md §5.
package daemon

import (
	"encoding/binary"
	"sync"

	"github.com/llpmimic/llp/internal/llpcrypto"
	"github.com/llpmimic/llp/internal/session"
)

// SessionTable is the server's sole owner of live sessions, keyed by
// session id. Per the design note against back-pointer cycles, a Session
// never holds a reference into the table; the table is the only thing that
// maps an id to a *session.Session.
type SessionTable struct {
	mu   sync.RWMutex
	byID map[uint64]*session.Session
}

// NewSessionTable returns an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{byID: make(map[uint64]*session.Session)}
}

// Insert adds sess to the table. Callers insert only once the handshake has
// produced an Established session — never before, never speculatively.
func (t *SessionTable) Insert(sess *session.Session) {
	t.mu.Lock()
	t.byID[sess.ID()] = sess
	t.mu.Unlock()
}

// Remove deletes the session identified by id. Callers remove only once
// that session has transitioned to Closed.
func (t *SessionTable) Remove(id uint64) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}

// Get looks up a session by id.
func (t *SessionTable) Get(id uint64) (*session.Session, bool) {
	t.mu.RLock()
	s, ok := t.byID[id]
	t.mu.RUnlock()
	return s, ok
}

// Len reports the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Snapshot returns the session ids currently in the table, for reporting
// (e.g. the admin API) without exposing the table's internal lock.
func (t *SessionTable) Snapshot() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint64, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	return ids
}

// allocateSessionID draws a fresh session id unique within t from the same
// CSPRNG the handshake uses, retrying on the astronomically unlikely
// collision. Zero is excluded so a session id always reads as a meaningful
// value in logs.
func allocateSessionID(t *SessionTable) (uint64, error) {
	for {
		b, err := llpcrypto.RandomBytes(8)
		if err != nil {
			return 0, err
		}
		id := binary.BigEndian.Uint64(b)
		if id == 0 {
			continue
		}
		if _, exists := t.Get(id); !exists {
			return id, nil
		}
	}
}
