package offline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"geoattend/internal/hashchain"
	"geoattend/internal/ledger"
)

// Capture builds a queued check-in with its local proof from the raw inputs.
func Capture(sessionID, userID, userEmail, userName string, ts time.Time, lat, lng, distance float64, code string) PendingCheckIn {
	return PendingCheckIn{
		SessionID: sessionID,
		UserID:    userID,
		UserEmail: userEmail,
		UserName:  userName,
		Timestamp: ts,
		Distance:  distance,
		Proof:     hashchain.Proof(sessionID, userID, ts, lat, lng, code),
	}
}

// Appender is the slice of the ledger the reconciler needs.
type Appender interface {
	Append(ctx context.Context, sessionID string, entry ledger.Entry) (ledger.Record, error)
}

// Reconciler replays queued offline check-ins into the ledger in queue order.
// Synced records carry offline=true and verified=true: trust-on-sync.
type Reconciler struct {
	queue  Queue
	ledger Appender
	log    *zap.Logger
}

// NewReconciler wires a reconciler over a queue and a ledger.
func NewReconciler(queue Queue, l Appender, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{queue: queue, ledger: l, log: log}
}

// Sync drains the queue front-to-back. Each item is deleted only after its append
// succeeds; the first failed append ends the pass with the item still queued, so
// the next reconnect retries from that point and order is preserved.
func (r *Reconciler) Sync(ctx context.Context) (int, error) {
	items, err := r.queue.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list offline queue: %w", err)
	}

	synced := 0
	for _, item := range items {
		entry := ledger.Entry{
			UserID:    item.UserID,
			UserEmail: item.UserEmail,
			UserName:  item.UserName,
			Timestamp: item.Timestamp,
			Distance:  item.Distance,
			Offline:   true,
			Verified:  true,
		}
		if _, err := r.ledger.Append(ctx, item.SessionID, entry); err != nil {
			r.log.Warn("offline replay halted, item stays queued",
				zap.String("pending_id", item.ID),
				zap.String("session_id", item.SessionID),
				zap.Error(err))
			return synced, fmt.Errorf("replay pending check-in %s: %w", item.ID, err)
		}
		if err := r.queue.Delete(ctx, item.ID); err != nil {
			// The append landed; a delete failure means the item may replay again.
			return synced, fmt.Errorf("dequeue synced check-in %s: %w", item.ID, err)
		}
		synced++
		r.log.Info("offline check-in synced",
			zap.String("pending_id", item.ID),
			zap.String("session_id", item.SessionID),
			zap.String("user_id", item.UserID))
	}
	return synced, nil
}
