package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/sessions"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// TokenVerifier validates bearer tokens. *TokenCodec satisfies it.
type TokenVerifier interface {
	Verify(raw string, now time.Time) (uuid.UUID, error)
}

// SessionLookup finds and refreshes sessions. *sessions.Manager satisfies it.
type SessionLookup interface {
	Lookup(ctx context.Context, token string, now time.Time) (sessions.Session, error)
	Touch(ctx context.Context, token string, now time.Time) error
}

// PrincipalLoader materialises principals. *users.Service satisfies it.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, id uuid.UUID) (shared.Principal, error)
}

// OutcomeRecorder observes authentication outcomes.
type OutcomeRecorder interface {
	ObserveAuthentication(scheme, outcome string)
}

// Resolver turns request credentials into a principal. The bearer token is
// tried first; an expired or invalid token falls through to the session.
// A token that verifies but names a missing or inactive principal does not.
type Resolver struct {
	tokens     TokenVerifier
	sessions   SessionLookup
	principals PrincipalLoader
	logger     *slog.Logger
	metrics    OutcomeRecorder
}

// NewResolver builds a Resolver.
func NewResolver(tokens TokenVerifier, sessions SessionLookup, principals PrincipalLoader, logger *slog.Logger, metrics OutcomeRecorder) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tokens: tokens, sessions: sessions, principals: principals, logger: logger, metrics: metrics}
}

// Resolve authenticates creds at now in a single pass. Expected failures
// yield an unauthenticated Result and a nil error; only storage failures are
// returned as errors.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials, now time.Time) (Result, error) {
	res, err := r.resolve(ctx, creds, now)
	switch {
	case err != nil:
		r.logger.Error("authentication store failure", slog.Any("error", err))
		r.observe(SchemeNone, "error")
	case res.Authenticated:
		r.observe(res.Scheme, "success")
	default:
		r.logger.Debug("request unauthenticated", slog.String("reason", string(res.Reason)))
		r.observe(res.Scheme, string(res.Reason))
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, creds Credentials, now time.Time) (Result, error) {
	reason := ReasonNoCredentials
	if creds.Bearer != "" {
		userID, err := r.tokens.Verify(creds.Bearer, now)
		switch {
		case err == nil:
			return r.principal(ctx, userID, SchemeBearer)
		case errors.Is(err, ErrTokenExpired):
			reason = ReasonTokenExpired
		default:
			reason = ReasonTokenInvalid
		}
	}

	if creds.SessionToken == "" {
		return unauthenticated(SchemeNone, reason), nil
	}
	sess, err := r.sessions.Lookup(ctx, creds.SessionToken, now)
	switch {
	case err == nil:
	case errors.Is(err, sessions.ErrSessionExpired):
		return unauthenticated(SchemeSession, ReasonSessionExpired), nil
	case errors.Is(err, sessions.ErrSessionNotFound):
		return unauthenticated(SchemeSession, ReasonSessionNotFound), nil
	default:
		return Result{}, fmt.Errorf("auth: session lookup: %w", err)
	}

	res, err := r.principal(ctx, sess.UserID, SchemeSession)
	if err != nil || !res.Authenticated {
		return res, err
	}
	if err := r.sessions.Touch(ctx, creds.SessionToken, now); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			// Invalidated or expired between lookup and touch.
			return unauthenticated(SchemeSession, ReasonSessionNotFound), nil
		}
		return Result{}, fmt.Errorf("auth: session touch: %w", err)
	}
	return res, nil
}

func (r *Resolver) principal(ctx context.Context, id uuid.UUID, scheme Scheme) (Result, error) {
	p, err := r.principals.LoadPrincipal(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return unauthenticated(scheme, ReasonPrincipalMissing), nil
		}
		return Result{}, fmt.Errorf("auth: load principal: %w", err)
	}
	if !p.Active {
		return unauthenticated(scheme, ReasonPrincipalBlocked), nil
	}
	return Result{Principal: p, Scheme: scheme, Authenticated: true}, nil
}

func (r *Resolver) observe(scheme Scheme, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveAuthentication(string(scheme), outcome)
	}
}

func unauthenticated(scheme Scheme, reason Reason) Result {
	return Result{Scheme: scheme, Reason: reason}
}
