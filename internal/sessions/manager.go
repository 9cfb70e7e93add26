package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// DefaultTTL is the lifetime of a session when none is configured.
const DefaultTTL = 24 * time.Hour

const maxTokenAttempts = 3

// Manager owns the session lifecycle: creation at login, lookup during
// authentication, invalidation at logout or deactivation.
type Manager struct {
	store    Store
	ttl      time.Duration
	logger   *slog.Logger
	newToken func() (string, error)
}

// NewManager builds a Manager over the given store.
func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, ttl: ttl, logger: logger, newToken: randomToken}
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create opens a session for userID expiring at now+TTL. A token collision
// is retried with a fresh token.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID, ip, userAgent string, now time.Time) (Session, error) {
	now = now.UTC()
	var lastErr error
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := m.newToken()
		if err != nil {
			return Session{}, fmt.Errorf("sessions: generate token: %w", err)
		}
		sess := Session{
			ID:           uuid.New(),
			Token:        token,
			UserID:       userID,
			IP:           ip,
			UserAgent:    userAgent,
			CreatedAt:    now,
			ExpiresAt:    now.Add(m.ttl),
			LastActivity: now,
		}
		err = m.store.Create(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, shared.ErrConflict) {
			return Session{}, err
		}
		m.logger.Warn("session token collision", slog.Int("attempt", attempt+1))
		lastErr = err
	}
	return Session{}, fmt.Errorf("sessions: exhausted token attempts: %w", lastErr)
}

// Lookup returns the session when still valid at now.
func (m *Manager) Lookup(ctx context.Context, token string, now time.Time) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	return m.store.Lookup(ctx, token, now)
}

// Touch records activity on a valid session.
func (m *Manager) Touch(ctx context.Context, token string, now time.Time) error {
	return m.store.Touch(ctx, token, now)
}

// Invalidate deletes the session and reports whether one existed. Repeated
// calls are harmless.
func (m *Manager) Invalidate(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return m.store.Delete(ctx, token)
}

// InvalidateAll deletes every session of the user.
func (m *Manager) InvalidateAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.store.DeleteByUser(ctx, userID)
}

// ListForUser returns the user's sessions, most recently active first.
func (m *Manager) ListForUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	return m.store.ListByUser(ctx, userID)
}

// PurgeExpired sweeps sessions that expired before now.
func (m *Manager) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	removed, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		m.logger.Info("expired sessions purged", slog.Int64("count", removed))
	}
	return removed, nil
}

func randomToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
