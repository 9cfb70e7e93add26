package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions. Implementations must make Lookup's
// check-expiry-then-delete atomic with respect to concurrent lookups.
type Store interface {
	// Create persists a new session. A token collision yields shared.ErrConflict.
	Create(ctx context.Context, s Session) error
	// Lookup returns the session when valid at now. An expired record is
	// deleted and ErrSessionExpired returned; a missing one yields ErrSessionNotFound.
	Lookup(ctx context.Context, token string, now time.Time) (Session, error)
	// Touch refreshes last activity of a still valid session.
	Touch(ctx context.Context, token string, now time.Time) error
	// Delete removes a session and reports whether it existed.
	Delete(ctx context.Context, token string) (bool, error)
	// DeleteByUser removes every session of the user.
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// ListByUser returns the user's sessions, most recently active first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)
	// DeleteExpired purges every session expired at now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
