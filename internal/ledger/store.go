package ledger

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by stores. Storage transport failures are returned as-is
// (wrapped); the caller decides whether to queue offline or report.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrRequestNotFound  = errors.New("request not found")
	ErrRequestProcessed = errors.New("request already processed")
)

// Store is the storage collaborator contract. AppendRecord must behave as an atomic
// read-modify-write on (tip hash, new record) per session: two near-simultaneous
// appends for one session must never both observe the same tip. Backends without a
// native transactional primitive serialize appends with a per-session lock instead.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	SetSessionActive(ctx context.Context, id string, active bool) error

	// AppendRecord reads the session tip, chains the entry onto it, persists the
	// record and advances the tip, all atomically with respect to other appends on
	// the same session. Returns ErrSessionNotFound for an unknown session.
	AppendRecord(ctx context.Context, sessionID string, entry Entry) (Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
	HasRecord(ctx context.Context, sessionID, userID string) (bool, error)

	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListPendingRequests(ctx context.Context, sessionID string) ([]Request, error)
	// ProcessRequest transitions a pending request to approved or rejected, exactly
	// once. Returns ErrRequestProcessed if the request already left pending.
	ProcessRequest(ctx context.Context, id, status, adminID string) (*Request, error)
}
