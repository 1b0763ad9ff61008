package checkin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"geoattend/internal/hashchain"
	"geoattend/internal/ledger"
	"geoattend/internal/sessioncode"
)

const (
	centerLat = -37.7963
	centerLng = 144.9614
	// ~0.0001 deg latitude is about 11m; well inside a 50m radius.
	nearLat = centerLat + 0.0001
	// ~0.01 deg latitude is about 1.1km; well outside.
	farLat = centerLat + 0.01
)

type fixture struct {
	store *ledger.MemoryStore
	svc   *Service
	sess  *ledger.Session
	now   time.Time
}

func newFixture(t *testing.T, requireCode, requireApproval bool) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	log := zaptest.NewLogger(t)
	l := ledger.New(store, log)

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	sess := &ledger.Session{
		ID:              "sess1",
		Name:            "Weekly Sync",
		Latitude:        centerLat,
		Longitude:       centerLng,
		Radius:          50,
		StartTime:       created,
		EndTime:         created.Add(time.Hour),
		Secret:          "abc123",
		RequireCode:     requireCode,
		RequireApproval: requireApproval,
		TipHash:         hashchain.GenesisHash("Weekly Sync", created),
		IsActive:        true,
		CreatedAt:       created,
	}
	require.NoError(t, store.CreateSession(context.Background(), sess))

	svc := NewService(store, l, log, 10_000)
	now := created.Add(10 * time.Minute)
	svc.now = func() time.Time { return now }
	return &fixture{store: store, svc: svc, sess: sess, now: now}
}

func attempt(f *fixture, userID string, lat float64, code string) Input {
	return Input{
		SessionID: f.sess.ID,
		UserID:    userID,
		UserEmail: userID + "@example.com",
		UserName:  "User",
		Latitude:  lat,
		Longitude: centerLng,
		Code:      code,
	}
}

func TestCheckInHappyPath(t *testing.T) {
	f := newFixture(t, false, false)

	res, err := f.svc.CheckIn(context.Background(), attempt(f, "u1", nearLat, ""))
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.Nil(t, res.Request)
	assert.False(t, res.Record.Offline)
	assert.Greater(t, res.Record.Distance, 0.0)
	assert.Less(t, res.Record.Distance, 50.0)

	// Tip advanced to the new record.
	got, err := f.store.GetSession(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.Hash, got.TipHash)
}

func TestCheckInUnknownSession(t *testing.T) {
	f := newFixture(t, false, false)
	in := attempt(f, "u1", nearLat, "")
	in.SessionID = "ghost"
	_, err := f.svc.CheckIn(context.Background(), in)
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func TestCheckInOutOfRange(t *testing.T) {
	f := newFixture(t, false, false)

	_, err := f.svc.CheckIn(context.Background(), attempt(f, "u1", farLat, ""))
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Greater(t, oor.Distance, 50.0)
	assert.Contains(t, err.Error(), "out of range")
	assert.Contains(t, err.Error(), "m away")
}

func TestCheckInClosedSession(t *testing.T) {
	f := newFixture(t, false, false)

	// Outside the window.
	f.svc.now = func() time.Time { return f.sess.EndTime.Add(time.Minute) }
	_, err := f.svc.CheckIn(context.Background(), attempt(f, "u1", nearLat, ""))
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Within the window but deactivated by the admin.
	f.svc.now = func() time.Time { return f.now }
	require.NoError(t, f.store.SetSessionActive(context.Background(), f.sess.ID, false))
	_, err = f.svc.CheckIn(context.Background(), attempt(f, "u1", nearLat, ""))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCheckInCodeWindow(t *testing.T) {
	f := newFixture(t, true, false)
	nowMs := f.now.UnixMilli()

	// Neighbor-bucket codes pass, two buckets ahead fails.
	prev := sessioncode.Generate("abc123", nowMs-10_000, 10_000)
	res, err := f.svc.CheckIn(context.Background(), attempt(f, "u1", nearLat, prev))
	require.NoError(t, err)
	require.NotNil(t, res.Record)

	stale := sessioncode.Generate("abc123", nowMs+20_000, 10_000)
	_, err = f.svc.CheckIn(context.Background(), attempt(f, "u2", nearLat, stale))
	assert.ErrorIs(t, err, ErrInvalidCode)

	_, err = f.svc.CheckIn(context.Background(), attempt(f, "u3", nearLat, ""))
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestCheckInDuplicate(t *testing.T) {
	f := newFixture(t, false, false)

	_, err := f.svc.CheckIn(context.Background(), attempt(f, "u1", nearLat, ""))
	require.NoError(t, err)
	_, err = f.svc.CheckIn(context.Background(), attempt(f, "u1", nearLat, ""))
	assert.ErrorIs(t, err, ErrDuplicateCheckIn)
}

func TestCheckInApprovalFilesRequest(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	res, err := f.svc.CheckIn(ctx, attempt(f, "u1", nearLat, ""))
	require.NoError(t, err)
	require.NotNil(t, res.Request)
	assert.Nil(t, res.Record)
	assert.Equal(t, ledger.StatusPending, res.Request.Status)

	// No record until approved.
	recs, err := f.store.ListRecords(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestApproveAppendsExactlyOneRecord(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	res, err := f.svc.CheckIn(ctx, attempt(f, "u1", nearLat, ""))
	require.NoError(t, err)

	rec, err := f.svc.Approve(ctx, res.Request.ID, "admin1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)

	recs, err := f.store.ListRecords(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// Terminal: a second approval attempt fails and appends nothing.
	_, err = f.svc.Approve(ctx, res.Request.ID, "admin2")
	assert.ErrorIs(t, err, ledger.ErrRequestProcessed)
	recs, err = f.store.ListRecords(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRejectNeverCreatesRecord(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	res, err := f.svc.CheckIn(ctx, attempt(f, "u1", nearLat, ""))
	require.NoError(t, err)

	require.NoError(t, f.svc.Reject(ctx, res.Request.ID, "admin1"))

	recs, err := f.store.ListRecords(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	err = f.svc.Reject(ctx, res.Request.ID, "admin1")
	assert.ErrorIs(t, err, ledger.ErrRequestProcessed)
}

func TestCaptureOfflineBuildsQueueableItem(t *testing.T) {
	f := newFixture(t, true, false)

	item, err := f.svc.CaptureOffline(context.Background(), attempt(f, "u1", nearLat, "123456"))
	require.NoError(t, err)
	assert.Equal(t, f.sess.ID, item.SessionID)
	assert.Equal(t, "u1", item.UserID)
	assert.NotEmpty(t, item.Proof)
	assert.Len(t, item.Proof, 64)

	// Gate still applies offline where it can.
	_, err = f.svc.CaptureOffline(context.Background(), attempt(f, "u2", farLat, "123456"))
	var oor *OutOfRangeError
	assert.ErrorAs(t, err, &oor)
}
