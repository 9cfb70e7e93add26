package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// CredentialResolver resolves request credentials. *Resolver satisfies it.
type CredentialResolver interface {
	Resolve(ctx context.Context, creds Credentials, now time.Time) (Result, error)
}

// Middleware authenticates requests and stores the principal in context.
type Middleware struct {
	resolver CredentialResolver
	cookie   CookieConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewMiddleware builds the authentication middleware.
func NewMiddleware(resolver CredentialResolver, cookie CookieConfig, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{resolver: resolver, cookie: cookie.withDefaults(), logger: logger, now: time.Now}
}

// Authenticate resolves credentials on every request. Anonymous requests
// continue without a principal; storage failures abort with 500.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := CredentialsFromRequest(r, m.cookie.Name)
		if creds == (Credentials{}) {
			next.ServeHTTP(w, r)
			return
		}
		res, err := m.resolver.Resolve(r.Context(), creds, m.now())
		if err != nil {
			m.logger.Error("authenticate request", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		if !res.Authenticated {
			if res.Reason == ReasonSessionExpired || res.Reason == ReasonSessionNotFound {
				m.cookie.Clear(w)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), res.Principal)))
	})
}

// RequireAuth rejects requests without an authenticated principal.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CredentialsFromRequest extracts the bearer token and session cookie.
func CredentialsFromRequest(r *http.Request, cookieName string) Credentials {
	var creds Credentials
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			creds.Bearer = strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(cookieName); err == nil {
		creds.SessionToken = c.Value
	}
	return creds
}

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

// DefaultCookieName is the session cookie name when none is configured.
const DefaultCookieName = "session_id"

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = DefaultCookieName
	}
	return c
}

// Set writes the session cookie.
func (c CookieConfig) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie on the client.
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
