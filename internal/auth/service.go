package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/sessions"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// AccountService is the part of the credential store used by login flows.
// *users.Service satisfies it.
type AccountService interface {
	PrincipalLoader
	CheckCredentials(ctx context.Context, email, password string) (users.User, error)
	Deactivate(ctx context.Context, actorID, userID uuid.UUID) error
}

// TokenIssuer signs bearer tokens. *TokenCodec satisfies it.
type TokenIssuer interface {
	Issue(userID uuid.UUID, now time.Time) (string, time.Time, error)
}

// SessionIssuer opens and closes sessions. *sessions.Manager satisfies it.
type SessionIssuer interface {
	Create(ctx context.Context, userID uuid.UUID, ip, userAgent string, now time.Time) (sessions.Session, error)
	Invalidate(ctx context.Context, token string) (bool, error)
}

// Service wraps authentication business rules.
type Service struct {
	accounts AccountService
	tokens   TokenIssuer
	sessions SessionIssuer
	resolver *Resolver
	audit    shared.AuditRecorder
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(accounts AccountService, tokens TokenIssuer, sessions SessionIssuer, resolver *Resolver, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, tokens: tokens, sessions: sessions, resolver: resolver, audit: audit, logger: logger}
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User        users.User
	Credentials IssuedCredentials
}

// Login verifies email and password and issues a token plus a session. No
// session is created when verification fails.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string, now time.Time) (LoginResult, error) {
	user, err := s.accounts.CheckCredentials(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	p, err := s.accounts.LoadPrincipal(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: load principal: %w", err)
	}
	creds, err := s.IssueCredentials(ctx, p, ip, userAgent, now)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Credentials: creds}, nil
}

// IssueCredentials mints a bearer token and opens a session for an active
// principal.
func (s *Service) IssueCredentials(ctx context.Context, p shared.Principal, ip, userAgent string, now time.Time) (IssuedCredentials, error) {
	if !p.Active {
		return IssuedCredentials{}, shared.ErrAccountInactive
	}
	token, expiresAt, err := s.tokens.Issue(p.ID, now)
	if err != nil {
		return IssuedCredentials{}, err
	}
	sess, err := s.sessions.Create(ctx, p.ID, ip, userAgent, now)
	if err != nil {
		return IssuedCredentials{}, fmt.Errorf("auth: create session: %w", err)
	}
	s.logger.Info("login", slog.String("user_id", p.ID.String()), slog.String("ip", ip))
	s.record(ctx, shared.AuditLog{ActorID: p.ID, Action: shared.AuditLogin, Entity: "sessions", EntityID: sess.ID.String(), Meta: map[string]any{"ip": ip}})
	return IssuedCredentials{Token: token, TokenExpiresAt: expiresAt, Session: sess, SessionID: sess.Token}, nil
}

// Authenticate resolves credentials to an active principal, returning
// shared.ErrUnauthenticated when none of them is acceptable.
func (s *Service) Authenticate(ctx context.Context, creds Credentials, now time.Time) (shared.Principal, error) {
	res, err := s.resolver.Resolve(ctx, creds, now)
	if err != nil {
		return shared.Principal{}, err
	}
	if !res.Authenticated {
		return shared.Principal{}, fmt.Errorf("auth: %s: %w", res.Reason, shared.ErrUnauthenticated)
	}
	return res.Principal, nil
}

// Logout invalidates the session token and reports whether it existed.
// Bearer tokens stay valid until they expire.
func (s *Service) Logout(ctx context.Context, actorID uuid.UUID, sessionToken string) (bool, error) {
	removed, err := s.sessions.Invalidate(ctx, sessionToken)
	if err != nil {
		return false, fmt.Errorf("auth: logout: %w", err)
	}
	if removed {
		s.record(ctx, shared.AuditLog{ActorID: actorID, Action: shared.AuditLogout, Entity: "users", EntityID: actorID.String()})
	}
	return removed, nil
}

// DeleteAccount deactivates the caller's own account and ends its sessions.
func (s *Service) DeleteAccount(ctx context.Context, p shared.Principal) error {
	return s.accounts.Deactivate(ctx, p.ID, p.ID)
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
