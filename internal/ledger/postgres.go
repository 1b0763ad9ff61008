package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/hashchain"
)

// PostgresStore persists sessions, records and requests in Postgres. The append
// path relies on a row lock on the session's tip, so concurrent appends for one
// session serialize inside the database while other sessions proceed untouched.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, latitude, longitude, radius, start_time, end_time,
			secret, require_code, require_approval, tip_hash, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, s.ID, s.Name, s.Latitude, s.Longitude, s.Radius, s.StartTime, s.EndTime,
		s.Secret, s.RequireCode, s.RequireApproval, s.TipHash, s.IsActive, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, name, latitude, longitude, radius, start_time, end_time,
	secret, require_code, require_approval, tip_hash, is_active, created_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &s.Radius,
		&s.StartTime, &s.EndTime, &s.Secret, &s.RequireCode, &s.RequireApproval,
		&s.TipHash, &s.IsActive, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetSessionActive(ctx context.Context, id string, active bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sessions SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set session active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendRecord chains a new record onto the session tip inside one transaction.
// FOR UPDATE on the session row keeps a second in-flight append from reading the
// same tip; the loser blocks until commit and then observes the advanced tip.
func (p *PostgresStore) AppendRecord(ctx context.Context, sessionID string, entry Entry) (Record, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tip string
	err = tx.QueryRowContext(ctx,
		`SELECT tip_hash FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&tip)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read tip: %w", err)
	}

	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    entry.UserID,
		UserEmail: entry.UserEmail,
		UserName:  entry.UserName,
		Timestamp: entry.Timestamp,
		Distance:  entry.Distance,
		PrevHash:  tip,
		Hash:      hashchain.RecordHash(entry.UserID, sessionID, entry.Timestamp, tip),
		Offline:   entry.Offline,
		Verified:  entry.Verified,
		CreatedAt: time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, user_id, user_email, user_name,
			occurred_at, distance, prev_hash, hash, offline, verified, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rec.ID, rec.SessionID, rec.UserID, rec.UserEmail, rec.UserName,
		rec.Timestamp, rec.Distance, rec.PrevHash, rec.Hash, rec.Offline, rec.Verified, rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET tip_hash = $2 WHERE id = $1`, sessionID, rec.Hash); err != nil {
		return Record{}, fmt.Errorf("advance tip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit append: %w", err)
	}
	return rec, nil
}

const recordColumns = `id, session_id, user_id, user_email, user_name, occurred_at,
	distance, prev_hash, hash, offline, verified, created_at`

func (p *PostgresStore) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 ORDER BY occurred_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.UserEmail, &r.UserName,
			&r.Timestamp, &r.Distance, &r.PrevHash, &r.Hash, &r.Offline, &r.Verified, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) HasRecord(ctx context.Context, sessionID, userID string) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM attendance_records WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has record: %w", err)
	}
	return n > 0, nil
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_requests (id, session_id, user_id, user_email, user_name,
			distance, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, r.ID, r.SessionID, r.UserID, r.UserEmail, r.UserName, r.Distance, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

const requestColumns = `id, session_id, user_id, user_email, user_name, distance,
	status, processed_by, processed_at, created_at`

func scanRequest(row interface{ Scan(...any) error }) (*Request, error) {
	var r Request
	var processedBy sql.NullString
	err := row.Scan(&r.ID, &r.SessionID, &r.UserID, &r.UserEmail, &r.UserName,
		&r.Distance, &r.Status, &processedBy, &r.ProcessedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.ProcessedBy = processedBy.String
	return &r, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM attendance_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) ListPendingRequests(ctx context.Context, sessionID string) ([]Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM attendance_requests
		WHERE session_id = $1 AND status = $2 ORDER BY created_at
	`, sessionID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ProcessRequest flips a pending request to its terminal status. The status guard in
// the WHERE clause makes re-processing a no-op at the database level.
func (p *PostgresStore) ProcessRequest(ctx context.Context, id, status, adminID string) (*Request, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_requests
		SET status = $2, processed_by = $3, processed_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, status, adminID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("process request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.GetRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrRequestProcessed
	}
	return p.GetRequest(ctx, id)
}
