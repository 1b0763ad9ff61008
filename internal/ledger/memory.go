package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/hashchain"
)

// MemoryStore is a map-backed Store for dev and tests. Appends serialize on a
// per-session lock, which is the fallback tip-update contract for backends without
// a native transaction primitive.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	records   map[string][]Record
	requests  map[string]*Request
	appendMu  map[string]*sync.Mutex
	appendsMu sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		records:  make(map[string][]Record),
		requests: make(map[string]*Request),
		appendMu: make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (m *MemoryStore) SetSessionActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.IsActive = active
	return nil
}

// sessionLock returns the single-writer lock for one session's chain.
func (m *MemoryStore) sessionLock(sessionID string) *sync.Mutex {
	m.appendsMu.Lock()
	defer m.appendsMu.Unlock()
	l, ok := m.appendMu[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.appendMu[sessionID] = l
	}
	return l
}

func (m *MemoryStore) AppendRecord(_ context.Context, sessionID string, entry Entry) (Record, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Record{}, ErrSessionNotFound
	}

	prev := s.TipHash
	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    entry.UserID,
		UserEmail: entry.UserEmail,
		UserName:  entry.UserName,
		Timestamp: entry.Timestamp,
		Distance:  entry.Distance,
		PrevHash:  prev,
		Hash:      hashchain.RecordHash(entry.UserID, sessionID, entry.Timestamp, prev),
		Offline:   entry.Offline,
		Verified:  entry.Verified,
		CreatedAt: time.Now().UTC(),
	}
	m.records[sessionID] = append(m.records[sessionID], rec)
	s.TipHash = rec.Hash
	return rec, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]Record, len(m.records[sessionID]))
	copy(out, m.records[sessionID])
	return out, nil
}

func (m *MemoryStore) HasRecord(_ context.Context, sessionID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records[sessionID] {
		if r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListPendingRequests(_ context.Context, sessionID string) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Request
	for _, r := range m.requests {
		if r.SessionID == sessionID && r.Status == StatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ProcessRequest(_ context.Context, id, status, adminID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if r.Status != StatusPending {
		return nil, ErrRequestProcessed
	}
	now := time.Now().UTC()
	r.Status = status
	r.ProcessedBy = adminID
	r.ProcessedAt = &now
	cp := *r
	return &cp, nil
}

// TamperRecord rewrites stored fields of a persisted record in place, bypassing the
// append-only contract. Test hook for exercising the verifier; not part of Store.
func (m *MemoryStore) TamperRecord(sessionID, recordID string, mutate func(*Record)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[sessionID]
	for i := range recs {
		if recs[i].ID == recordID {
			mutate(&recs[i])
			return true
		}
	}
	return false
}
