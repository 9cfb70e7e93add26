package sessions

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

var (
	// ErrSessionNotFound indicates no record exists for the session token.
	ErrSessionNotFound = fmt.Errorf("sessions: session not found: %w", shared.ErrNotFound)
	// ErrSessionExpired indicates the record existed but was past its expiry and has been purged.
	ErrSessionExpired = fmt.Errorf("sessions: session expired: %w", shared.ErrUnauthenticated)
)

// Session is a server-side login record addressed by an opaque token.
type Session struct {
	ID           uuid.UUID `json:"id"`
	Token        string    `json:"session_key"`
	UserID       uuid.UUID `json:"user_id"`
	IP           string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Valid reports whether the session may still be used at now.
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

func sortByActivity(list []Session) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastActivity.After(list[j].LastActivity)
	})
}
