package auth

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/sessions"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

var (
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = fmt.Errorf("auth: token expired: %w", shared.ErrUnauthenticated)
	// ErrTokenInvalid indicates a token with a bad signature, algorithm, structure or claim.
	ErrTokenInvalid = fmt.Errorf("auth: token invalid: %w", shared.ErrUnauthenticated)
)

// Scheme names the credential that authenticated a request.
type Scheme string

const (
	SchemeNone    Scheme = "none"
	SchemeBearer  Scheme = "bearer"
	SchemeSession Scheme = "session"
)

// Reason explains why a request ended up unauthenticated.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoCredentials    Reason = "no_credentials"
	ReasonTokenExpired     Reason = "token_expired"
	ReasonTokenInvalid     Reason = "token_invalid"
	ReasonSessionNotFound  Reason = "session_not_found"
	ReasonSessionExpired   Reason = "session_expired"
	ReasonPrincipalMissing Reason = "principal_missing"
	ReasonPrincipalBlocked Reason = "principal_inactive"
)

// Credentials are the raw credentials presented with a request. Either may
// be empty.
type Credentials struct {
	Bearer       string
	SessionToken string
}

// Result is the outcome of resolving credentials. Authenticated is false for
// every expected failure; Reason then records the last failure observed.
type Result struct {
	Principal     shared.Principal
	Scheme        Scheme
	Reason        Reason
	Authenticated bool
}

// IssuedCredentials are handed to a client after a successful login.
type IssuedCredentials struct {
	Token          string           `json:"token"`
	TokenExpiresAt time.Time        `json:"token_expires_at"`
	Session        sessions.Session `json:"-"`
	SessionID      string           `json:"session_id"`
}
