package session

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

func validInput() CreateInput {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return CreateInput{
		Name:      "Weekly Sync",
		Latitude:  -37.7963,
		Longitude: 144.9614,
		Radius:    50,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
}

func TestCreateSetsGenesisTip(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store, zaptest.NewLogger(t), 0)

	sess, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Len(t, sess.Secret, 32)
	assert.True(t, sess.IsActive)
	assert.Equal(t, hashchain.GenesisHash(sess.Name, sess.CreatedAt), sess.TipHash)

	got, err := store.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.TipHash, got.TipHash)
}

func TestCreateDistinctSecrets(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store, zaptest.NewLogger(t), 0)

	a, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotEqual(t, a.Secret, b.Secret)
}

func TestCreateRejectsInvalidWindow(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store, zaptest.NewLogger(t), 0)

	in := validInput()
	in.EndTime = in.StartTime
	_, err := svc.Create(context.Background(), in)
	assert.Error(t, err)

	in = validInput()
	in.Name = ""
	_, err = svc.Create(context.Background(), in)
	assert.Error(t, err)
}

func TestSetActive(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store, zaptest.NewLogger(t), 0)

	sess, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	got, err := svc.SetActive(context.Background(), sess.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = svc.SetActive(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ledger.ErrSessionNotFound)
}

func TestCurrentCode(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := NewService(store, zaptest.NewLogger(t), 10_000)
	fixed := time.UnixMilli(1_000_000_000_000)
	svc.now = func() time.Time { return fixed }

	in := validInput()
	in.RequireCode = true
	sess, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	code, err := svc.CurrentCode(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sessioncode.Generate(sess.Secret, fixed.UnixMilli(), 10_000), code)

	// Codeless sessions refuse.
	plain, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	_, err = svc.CurrentCode(context.Background(), plain.ID)
	assert.Error(t, err)
}

func TestSessionOpenWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &ledger.Session{IsActive: true, StartTime: start, EndTime: start.Add(time.Hour)}

	assert.True(t, s.Open(start))
	assert.True(t, s.Open(start.Add(30*time.Minute)))
	assert.True(t, s.Open(start.Add(time.Hour)))
	assert.False(t, s.Open(start.Add(-time.Second)))
	assert.False(t, s.Open(start.Add(time.Hour+time.Second)))

	// Admin flag and window are independent; both must hold.
	s.IsActive = false
	assert.False(t, s.Open(start.Add(30*time.Minute)))
}
