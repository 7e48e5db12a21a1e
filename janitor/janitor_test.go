package janitor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/consent/memstore"
	"github.com/jrsteele09/go-consent-server/janitor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// TestSweep runs every task and reports the first failure.
func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("all tasks run", func(t *testing.T) {
		var a, b atomic.Int32
		j := janitor.New(time.Minute).
			Add("a", func(context.Context) (int, error) { a.Add(1); return 1, nil }).
			Add("b", func(context.Context) (int, error) { b.Add(1); return 0, nil })
		require.NoError(t, j.Sweep(ctx))
		require.Equal(t, int32(1), a.Load())
		require.Equal(t, int32(1), b.Load())
	})

	t.Run("a failure does not stop the others", func(t *testing.T) {
		var ran atomic.Int32
		boom := errors.New("boom")
		j := janitor.New(time.Minute).
			Add("bad", func(context.Context) (int, error) { return 0, boom }).
			Add("good", func(context.Context) (int, error) { ran.Add(1); return 0, nil })
		err := j.Sweep(ctx)
		require.ErrorIs(t, err, boom)
		require.Equal(t, int32(1), ran.Load())
	})
}

// TestRun sweeps on the timer and stops with the context.
func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sweeps atomic.Int32
	j := janitor.New(5 * time.Millisecond).
		Add("count", func(context.Context) (int, error) { sweeps.Add(1); return 0, nil })

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool { return sweeps.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

// TestPurgesExpiredChallenges wires the consent manager into a sweep.
func TestPurgesExpiredChallenges(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	m := consent.NewManager(memstore.New(), "https://auth.example.com/oauth2/sessions/logout",
		consent.WithFlowTTL(time.Minute),
		consent.WithNowTime(func() time.Time { return now }),
	)
	r := &consent.LoginRequest{RequestURL: "https://auth.example.com/oauth2/auth"}
	_, err := m.CreateLoginRequest(ctx, r)
	require.NoError(t, err)

	var deleted int
	j := janitor.New(time.Minute).Add("challenges", func(ctx context.Context) (int, error) {
		n, err := m.DeleteExpired(ctx)
		deleted += n
		return n, err
	})

	require.NoError(t, j.Sweep(ctx))
	require.Zero(t, deleted)

	now = now.Add(2 * time.Minute)
	require.NoError(t, j.Sweep(ctx))
	require.Equal(t, 1, deleted)
}
