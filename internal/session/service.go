// Package session manages session lifecycle: creation with a generated secret and
// genesis tip, activation, and the authoritative current code.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geoattend/internal/hashchain"
	"geoattend/internal/ledger"
	"geoattend/internal/sessioncode"
)

// CreateInput carries the admin-supplied fields of a new session.
type CreateInput struct {
	Name            string    `json:"name" binding:"required"`
	Latitude        float64   `json:"latitude" binding:"required"`
	Longitude       float64   `json:"longitude" binding:"required"`
	Radius          float64   `json:"radius" binding:"required,gt=0"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	EndTime         time.Time `json:"end_time" binding:"required"`
	RequireCode     bool      `json:"require_code"`
	RequireApproval bool      `json:"require_approval"`
}

// Service owns session lifecycle operations.
type Service struct {
	store      ledger.Store
	log        *zap.Logger
	intervalMs int64
	now        func() time.Time
}

// NewService creates a session service. intervalMs is the code rotation interval.
func NewService(store ledger.Store, log *zap.Logger, intervalMs int64) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if intervalMs <= 0 {
		intervalMs = sessioncode.DefaultIntervalMs
	}
	return &Service{store: store, log: log, intervalMs: intervalMs, now: time.Now}
}

// Create persists a new session with a fresh random secret and a genesis tip
// derived from the name and creation time. The secret is never logged.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ledger.Session, error) {
	if in.Name == "" {
		return nil, errors.New("session name required")
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, errors.New("end time must be after start time")
	}

	secret, err := newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}

	now := s.now().UTC()
	sess := &ledger.Session{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		Radius:          in.Radius,
		StartTime:       in.StartTime.UTC(),
		EndTime:         in.EndTime.UTC(),
		Secret:          secret,
		RequireCode:     in.RequireCode,
		RequireApproval: in.RequireApproval,
		TipHash:         hashchain.GenesisHash(in.Name, now),
		IsActive:        true,
		CreatedAt:       now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("name", sess.Name),
		zap.Bool("require_code", sess.RequireCode),
		zap.Bool("require_approval", sess.RequireApproval))
	return sess, nil
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id string) (*ledger.Session, error) {
	return s.store.GetSession(ctx, id)
}

// List returns all sessions.
func (s *Service) List(ctx context.Context) ([]ledger.Session, error) {
	return s.store.ListSessions(ctx)
}

// SetActive flips the admin-controlled active flag.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*ledger.Session, error) {
	if err := s.store.SetSessionActive(ctx, id, active); err != nil {
		return nil, err
	}
	s.log.Info("session active flag changed",
		zap.String("session_id", id), zap.Bool("active", active))
	return s.store.GetSession(ctx, id)
}

// CurrentCode recomputes the rotating code for "now". The published value in the
// code store is a cache; this is the authoritative derivation.
func (s *Service) CurrentCode(ctx context.Context, id string) (string, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	if !sess.RequireCode {
		return "", errors.New("session does not use a code")
	}
	return sessioncode.Generate(sess.Secret, s.now().UnixMilli(), s.intervalMs), nil
}

// newSecret returns 16 random bytes as 32 hex characters.
func newSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
