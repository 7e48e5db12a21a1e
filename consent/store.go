package consent

import (
	"context"
	"encoding/json"
	"time"
)

// Store persists challenges and sessions. Challenge transitions must be
// atomic: of two concurrent HandleChallenge or ConsumeVerifier calls on the
// same challenge, at most one succeeds.
type Store interface {
	// CreateChallenge returns errors.ErrConflict if the id exists.
	CreateChallenge(ctx context.Context, c *Challenge) error
	// GetChallenge returns errors.ErrNotFound for unknown ids.
	GetChallenge(ctx context.Context, kind Kind, id string) (*Challenge, error)
	// HandleChallenge moves a pending challenge to status and stores the
	// outcome. It returns errors.ErrConflict if the challenge is not pending.
	HandleChallenge(ctx context.Context, kind Kind, id string, status Status, outcome json.RawMessage, at time.Time) (*Challenge, error)
	// ConsumeVerifier marks a handled challenge's verifier as used and returns
	// the challenge. Unknown verifiers give errors.ErrNotFound, used ones
	// errors.ErrConflict and pending challenges errors.ErrBadRequest.
	ConsumeVerifier(ctx context.Context, kind Kind, verifier string) (*Challenge, error)

	// SaveLoginSession creates or replaces a session.
	SaveLoginSession(ctx context.Context, s *LoginSession) error
	GetLoginSession(ctx context.Context, id string) (*LoginSession, error)
	DeleteLoginSession(ctx context.Context, id string) (*LoginSession, error)
	RevokeSubjectLoginSessions(ctx context.Context, subject string) error

	// SaveConsentSession stores a granted consent keyed by its consent challenge.
	SaveConsentSession(ctx context.Context, s *ConsentSession) error
	ListConsentSessions(ctx context.Context, subject string) ([]*ConsentSession, error)
	// RevokeConsentSessions deletes the subject's sessions, for one client when
	// clientID is set, and returns what was deleted.
	RevokeConsentSessions(ctx context.Context, subject, clientID string) ([]*ConsentSession, error)

	// DeleteExpired purges records that expired before now and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
