// Package checkin gates attendance: geofence, time window, rotating code and
// approval checks run before anything reaches the ledger.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geoattend/internal/geo"
	"geoattend/internal/ledger"
	"geoattend/internal/offline"
	"geoattend/internal/sessioncode"
)

// Gate failures. Each carries a human-readable reason for the attendee.
var (
	ErrSessionClosed    = errors.New("session is not open for check-in")
	ErrInvalidCode      = errors.New("invalid session code")
	ErrDuplicateCheckIn = errors.New("already checked in to this session")
)

// OutOfRangeError reports a check-in attempted outside the geofence, with the
// measured distance so the user sees how far off they are.
type OutOfRangeError struct {
	Distance float64
	Radius   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("out of range: you are %.0fm away, required within %.0fm", e.Distance, e.Radius)
}

// Input is one check-in attempt. UserID is filled from the caller's token at the
// HTTP boundary.
type Input struct {
	SessionID string  `json:"session_id" binding:"required"`
	UserID    string  `json:"user_id"`
	UserEmail string  `json:"user_email"`
	UserName  string  `json:"user_name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Code      string  `json:"code"`
}

// Result is what a successful attempt produced: a chained record, or a pending
// request when the session requires approval.
type Result struct {
	Record  *ledger.Record  `json:"record,omitempty"`
	Request *ledger.Request `json:"request,omitempty"`
}

// Service runs the check-in gate and the approval workflow.
type Service struct {
	store      ledger.Store
	ledger     *ledger.Ledger
	log        *zap.Logger
	intervalMs int64
	now        func() time.Time
}

// NewService wires the gate over the store and ledger.
func NewService(store ledger.Store, l *ledger.Ledger, log *zap.Logger, intervalMs int64) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if intervalMs <= 0 {
		intervalMs = sessioncode.DefaultIntervalMs
	}
	return &Service{store: store, ledger: l, log: log, intervalMs: intervalMs, now: time.Now}
}

// CheckIn validates one attempt and either appends a record or files an approval
// request. Gate order: session open, in range, code valid, not a duplicate.
func (s *Service) CheckIn(ctx context.Context, in Input) (*Result, error) {
	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if !sess.Open(now) {
		return nil, ErrSessionClosed
	}

	distance := geo.Distance(sess.Latitude, sess.Longitude, in.Latitude, in.Longitude)
	if distance > sess.Radius {
		return nil, &OutOfRangeError{Distance: distance, Radius: sess.Radius}
	}

	if sess.RequireCode && !sessioncode.Verify(sess.Secret, in.Code, now.UnixMilli(), s.intervalMs) {
		s.log.Info("check-in rejected: bad code",
			zap.String("session_id", sess.ID), zap.String("user_id", in.UserID))
		return nil, ErrInvalidCode
	}

	dup, err := s.store.HasRecord(ctx, sess.ID, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		return nil, ErrDuplicateCheckIn
	}

	if sess.RequireApproval {
		req := &ledger.Request{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			UserID:    in.UserID,
			UserEmail: in.UserEmail,
			UserName:  in.UserName,
			Distance:  distance,
			Status:    ledger.StatusPending,
			CreatedAt: now,
		}
		if err := s.store.CreateRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("file attendance request: %w", err)
		}
		s.log.Info("attendance request filed",
			zap.String("session_id", sess.ID),
			zap.String("request_id", req.ID),
			zap.String("user_id", in.UserID))
		return &Result{Request: req}, nil
	}

	rec, err := s.ledger.Append(ctx, sess.ID, ledger.Entry{
		UserID:    in.UserID,
		UserEmail: in.UserEmail,
		UserName:  in.UserName,
		Timestamp: now,
		Distance:  distance,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Record: &rec}, nil
}

// CaptureOffline runs the same client-side gate checks it can (range, window) and
// returns a queueable item with its local proof. The submitted code is folded into
// the proof rather than checked, since the verifying party may be unreachable.
func (s *Service) CaptureOffline(ctx context.Context, in Input) (offline.PendingCheckIn, error) {
	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return offline.PendingCheckIn{}, err
	}

	now := s.now().UTC()
	if !sess.Open(now) {
		return offline.PendingCheckIn{}, ErrSessionClosed
	}
	distance := geo.Distance(sess.Latitude, sess.Longitude, in.Latitude, in.Longitude)
	if distance > sess.Radius {
		return offline.PendingCheckIn{}, &OutOfRangeError{Distance: distance, Radius: sess.Radius}
	}

	item := offline.Capture(sess.ID, in.UserID, in.UserEmail, in.UserName,
		now, in.Latitude, in.Longitude, distance, in.Code)
	return item, nil
}

// Approve transitions a pending request to approved and appends exactly one record
// for it. The transition is terminal; re-processing fails.
func (s *Service) Approve(ctx context.Context, requestID, adminID string) (*ledger.Record, error) {
	req, err := s.store.ProcessRequest(ctx, requestID, ledger.StatusApproved, adminID)
	if err != nil {
		return nil, err
	}
	rec, err := s.ledger.Append(ctx, req.SessionID, ledger.Entry{
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		UserName:  req.UserName,
		Timestamp: s.now().UTC(),
		Distance:  req.Distance,
	})
	if err != nil {
		return nil, fmt.Errorf("append approved record: %w", err)
	}
	s.log.Info("attendance request approved",
		zap.String("request_id", requestID),
		zap.String("record_id", rec.ID),
		zap.String("admin_id", adminID))
	return &rec, nil
}

// Reject transitions a pending request to rejected. No record is ever created.
func (s *Service) Reject(ctx context.Context, requestID, adminID string) error {
	if _, err := s.store.ProcessRequest(ctx, requestID, ledger.StatusRejected, adminID); err != nil {
		return err
	}
	s.log.Info("attendance request rejected",
		zap.String("request_id", requestID), zap.String("admin_id", adminID))
	return nil
}
