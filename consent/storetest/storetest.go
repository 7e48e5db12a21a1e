// Package storetest holds the behaviour every consent.Store must share.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/stretchr/testify/require"
)

// TestStore runs the suite against stores built by newStore.
func TestStore(t *testing.T, newStore func(t *testing.T) consent.Store) {
	t.Run("challenge lifecycle", func(t *testing.T) {
		testChallengeLifecycle(t, newStore(t))
	})
	t.Run("concurrent handle", func(t *testing.T) {
		testConcurrentHandle(t, newStore(t))
	})
	t.Run("concurrent verifier", func(t *testing.T) {
		testConcurrentVerifier(t, newStore(t))
	})
	t.Run("login sessions", func(t *testing.T) {
		testLoginSessions(t, newStore(t))
	})
	t.Run("consent sessions", func(t *testing.T) {
		testConsentSessions(t, newStore(t))
	})
	t.Run("delete expired", func(t *testing.T) {
		testDeleteExpired(t, newStore(t))
	})
}

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newChallenge(id string) *consent.Challenge {
	return &consent.Challenge{
		ID:          id,
		Kind:        consent.KindLogin,
		Verifier:    "verifier-" + id,
		CSRF:        "csrf-" + id,
		ClientID:    "client-1",
		Status:      consent.StatusPending,
		Request:     json.RawMessage(`{"challenge":"` + id + `"}`),
		RequestedAt: now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func testChallengeLifecycle(t *testing.T, s consent.Store) {
	ctx := context.Background()
	c := newChallenge("c1")
	require.NoError(t, s.CreateChallenge(ctx, c))
	require.True(t, errors.Is(s.CreateChallenge(ctx, c), errors.ErrConflict))

	_, err := s.GetChallenge(ctx, consent.KindConsent, "c1")
	require.True(t, errors.Is(err, errors.ErrNotFound), "kinds are separate namespaces")

	got, err := s.GetChallenge(ctx, consent.KindLogin, "c1")
	require.NoError(t, err)
	require.Equal(t, consent.StatusPending, got.Status)
	require.JSONEq(t, string(c.Request), string(got.Request))

	_, err = s.ConsumeVerifier(ctx, consent.KindLogin, c.Verifier)
	require.True(t, errors.Is(err, errors.ErrBadRequest), "pending verifier cannot be redeemed")

	handled, err := s.HandleChallenge(ctx, consent.KindLogin, "c1", consent.StatusAccepted, json.RawMessage(`{"accepted":{}}`), now)
	require.NoError(t, err)
	require.Equal(t, consent.StatusAccepted, handled.Status)
	require.Equal(t, c.Verifier, handled.Verifier)

	_, err = s.HandleChallenge(ctx, consent.KindLogin, "c1", consent.StatusRejected, json.RawMessage(`{}`), now)
	require.True(t, errors.Is(err, errors.ErrConflict))

	_, err = s.HandleChallenge(ctx, consent.KindLogin, "missing", consent.StatusRejected, nil, now)
	require.True(t, errors.Is(err, errors.ErrNotFound))

	consumed, err := s.ConsumeVerifier(ctx, consent.KindLogin, c.Verifier)
	require.NoError(t, err)
	require.True(t, consumed.VerifierUsed)
	require.JSONEq(t, `{"accepted":{}}`, string(consumed.Outcome))
	require.Equal(t, c.CSRF, consumed.CSRF)

	_, err = s.ConsumeVerifier(ctx, consent.KindLogin, c.Verifier)
	require.True(t, errors.Is(err, errors.ErrConflict))

	_, err = s.ConsumeVerifier(ctx, consent.KindLogin, "nope")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func testConcurrentHandle(t *testing.T, s consent.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateChallenge(ctx, newChallenge("race")))

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := consent.StatusAccepted
			if i%2 == 1 {
				status = consent.StatusRejected
			}
			_, err := s.HandleChallenge(ctx, consent.KindLogin, "race", status, json.RawMessage(`{}`), now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, errors.ErrConflict):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(15), conflicts.Load())
}

func testConcurrentVerifier(t *testing.T, s consent.Store) {
	ctx := context.Background()
	c := newChallenge("once")
	require.NoError(t, s.CreateChallenge(ctx, c))
	_, err := s.HandleChallenge(ctx, consent.KindLogin, "once", consent.StatusAccepted, json.RawMessage(`{}`), now)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeVerifier(ctx, consent.KindLogin, c.Verifier); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func testLoginSessions(t *testing.T, s consent.Store) {
	ctx := context.Background()
	for _, ls := range []consent.LoginSession{
		{ID: "s1", Subject: "alice", ExpiresAt: now.Add(time.Hour)},
		{ID: "s2", Subject: "alice", ExpiresAt: now.Add(time.Hour)},
		{ID: "s3", Subject: "bob", ExpiresAt: now.Add(time.Hour)},
	} {
		require.NoError(t, s.SaveLoginSession(ctx, &ls))
	}

	got, err := s.GetLoginSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Subject)

	deleted, err := s.DeleteLoginSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", deleted.ID)
	_, err = s.GetLoginSession(ctx, "s1")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = s.DeleteLoginSession(ctx, "s1")
	require.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, s.RevokeSubjectLoginSessions(ctx, "alice"))
	_, err = s.GetLoginSession(ctx, "s2")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = s.GetLoginSession(ctx, "s3")
	require.NoError(t, err)
}

func consentSession(challenge, subject, clientID string) *consent.ConsentSession {
	return &consent.ConsentSession{
		ConsentRequest: &consent.ConsentRequest{
			Challenge: challenge,
			Subject:   subject,
			Client:    &clients.Client{ID: clientID},
		},
		GrantScope: []string{"openid"},
		Remember:   true,
		HandledAt:  now,
	}
}

func testConsentSessions(t *testing.T, s consent.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveConsentSession(ctx, consentSession("a", "alice", "app-1")))
	require.NoError(t, s.SaveConsentSession(ctx, consentSession("b", "alice", "app-2")))
	require.NoError(t, s.SaveConsentSession(ctx, consentSession("c", "bob", "app-1")))

	list, err := s.ListConsentSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)

	empty, err := s.ListConsentSessions(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, empty)

	revoked, err := s.RevokeConsentSessions(ctx, "alice", "app-1")
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	require.Equal(t, "a", revoked[0].ConsentRequest.Challenge)

	revoked, err = s.RevokeConsentSessions(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, revoked, 1)

	list, err = s.ListConsentSessions(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func testDeleteExpired(t *testing.T, s consent.Store) {
	ctx := context.Background()
	old := newChallenge("old")
	old.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, s.CreateChallenge(ctx, old))
	require.NoError(t, s.CreateChallenge(ctx, newChallenge("fresh")))
	require.NoError(t, s.SaveLoginSession(ctx, &consent.LoginSession{ID: "gone", Subject: "a", ExpiresAt: now.Add(-time.Minute)}))

	expired := consentSession("x", "alice", "app")
	past := now.Add(-time.Second)
	expired.ExpiresAt = &past
	require.NoError(t, s.SaveConsentSession(ctx, expired))
	require.NoError(t, s.SaveConsentSession(ctx, consentSession("y", "alice", "app")))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = s.GetChallenge(ctx, consent.KindLogin, "old")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = s.GetChallenge(ctx, consent.KindLogin, "fresh")
	require.NoError(t, err)
	list, err := s.ListConsentSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
