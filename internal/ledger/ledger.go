// Package ledger owns the per-session hash chain of attendance records: chain
// construction on append, and timestamp-ordered replay for tamper detection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"geoattend/internal/hashchain"
)

// Ledger appends records to a session chain and audits it. All persistence goes
// through the Store; the Ledger itself never retries storage failures.
type Ledger struct {
	store Store
	log   *zap.Logger
}

// New creates a Ledger over a store.
func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log}
}

// Append chains one record onto the session identified by sessionID. The store
// guarantees the tip read and tip advance are atomic per session, so two racing
// appends never share a predecessor.
func (l *Ledger) Append(ctx context.Context, sessionID string, entry Entry) (Record, error) {
	if entry.UserID == "" {
		return Record{}, errors.New("user id required")
	}
	if entry.Timestamp.IsZero() {
		return Record{}, errors.New("timestamp required")
	}
	rec, err := l.store.AppendRecord(ctx, sessionID, entry)
	if err != nil {
		return Record{}, fmt.Errorf("append record: %w", err)
	}
	l.log.Info("record appended",
		zap.String("session_id", sessionID),
		zap.String("record_id", rec.ID),
		zap.String("user_id", rec.UserID),
		zap.Bool("offline", rec.Offline))
	return rec, nil
}

// Records returns all records for a session in timestamp order.
func (l *Ledger) Records(ctx context.Context, sessionID string) ([]Record, error) {
	recs, err := l.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sortByTimestamp(recs)
	return recs, nil
}

// Verify replays a session's records in ascending timestamp order and recomputes
// each hash from the record's own stored prev hash. A mismatch means the hashed
// tuple (user, session, timestamp) or the prev pointer changed after creation.
//
// This is per-record verification against the recorded link, not a genesis-to-tip
// walk: an internally consistent sub-chain detached from the real tip would pass.
// Replay order is by timestamp, matching the audit view; concurrent check-ins whose
// chain order diverges from timestamp order can still raise no flags here because
// each record is checked against its own prev pointer.
func (l *Ledger) Verify(ctx context.Context, sessionID string) ([]Mismatch, error) {
	recs, err := l.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sortByTimestamp(recs)

	var flagged []Mismatch
	for _, r := range recs {
		expected := hashchain.RecordHash(r.UserID, r.SessionID, r.Timestamp, r.PrevHash)
		if expected != r.Hash {
			flagged = append(flagged, Mismatch{
				RecordID:     r.ID,
				ExpectedHash: expected,
				ActualHash:   r.Hash,
			})
		}
	}
	if len(flagged) > 0 {
		l.log.Warn("chain verification found tampered records",
			zap.String("session_id", sessionID),
			zap.Int("flagged", len(flagged)))
	}
	return flagged, nil
}

func sortByTimestamp(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
}
