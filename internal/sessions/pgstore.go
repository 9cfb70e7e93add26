package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const sessionColumns = `id, session_key, user_id, ip_address, user_agent, created_at, expires_at, last_activity`

// PGStore keeps sessions in the PostgreSQL sessions table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL session store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create persists a new login session.
func (s *PGStore) Create(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO sessions (`+sessionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.Token, sess.UserID,
		pgtype.Text{String: sess.IP, Valid: sess.IP != ""},
		sess.UserAgent,
		sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(), sess.LastActivity.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("sessions: token collision: %w", shared.ErrConflict)
		}
		return fmt.Errorf("sessions: create: %w", err)
	}
	return nil
}

// Lookup locks the row, purging it when expired.
func (s *PGStore) Lookup(ctx context.Context, token string, now time.Time) (Session, error) {
	var (
		found   Session
		outcome error
	)
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_key = $1 FOR UPDATE`, token)
		sess, err := scanSession(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				outcome = ErrSessionNotFound
				return nil
			}
			return err
		}
		if sess.Valid(now) {
			found = sess
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sess.ID); err != nil {
			return err
		}
		outcome = ErrSessionExpired
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("sessions: lookup: %w", err)
	}
	if outcome != nil {
		return Session{}, outcome
	}
	return found, nil
}

// Touch refreshes last_activity for a still valid session.
func (s *PGStore) Touch(ctx context.Context, token string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE session_key = $1 AND expires_at > $2`, token, now.UTC())
	if err != nil {
		return fmt.Errorf("sessions: touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a session record from the database.
func (s *PGStore) Delete(ctx context.Context, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_key = $1`, token)
	if err != nil {
		return false, fmt.Errorf("sessions: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByUser removes all sessions owned by the user.
func (s *PGStore) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("sessions: delete by user: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByUser returns the sessions of a user.
func (s *PGStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteExpired removes every session whose expiry has passed.
func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sessions: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess Session
		ip   pgtype.Text
	)
	if err := row.Scan(&sess.ID, &sess.Token, &sess.UserID, &ip, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity); err != nil {
		return Session{}, err
	}
	sess.IP = ip.String
	return sess, nil
}

var _ Store = (*PGStore)(nil)
