package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Evaluator decides authorization questions. *Authorizer satisfies it.
type Evaluator interface {
	Authorize(ctx context.Context, p shared.Principal, resource string, action Action, owner *uuid.UUID) bool
	ReadScope(ctx context.Context, p shared.Principal, resource string) Scope
}

// OwnerFunc extracts the owner of the record a request targets.
type OwnerFunc func(r *http.Request) (uuid.UUID, error)

// OwnerFromURLParam treats the UUID in the named chi URL parameter as the
// record owner, as for endpoints addressing a user by id.
func OwnerFromURLParam(name string) OwnerFunc {
	return func(r *http.Request) (uuid.UUID, error) {
		return httpx.URLParamUUID(r, name)
	}
}

// Middleware wires RBAC authorization helpers for HTTP handlers. It expects
// the authentication middleware to have stored the principal in context.
type Middleware struct {
	Evaluator Evaluator
	Logger    *slog.Logger
}

// Require ensures the current principal may perform action on resource
// without regard to record ownership.
func (m Middleware) Require(resource string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.guard(w, r, next, resource, action, nil)
		})
	}
}

// RequireOwned is Require for a single record: own grants are satisfied when
// owner resolves to the current principal.
func (m Middleware) RequireOwned(resource string, action Action, owner OwnerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := owner(r)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			m.guard(w, r, next, resource, action, &id)
		})
	}
}

// RequireResource derives the action from the HTTP method.
func (m Middleware) RequireResource(resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.guard(w, r, next, resource, ActionForMethod(r.Method), nil)
		})
	}
}

// ReadScope reports which rows of resource the request principal may read.
// Anonymous requests get ScopeNone.
func (m Middleware) ReadScope(r *http.Request, resource string) Scope {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok || m.Evaluator == nil {
		return ScopeNone
	}
	return m.Evaluator.ReadScope(r.Context(), p, resource)
}

func (m Middleware) guard(w http.ResponseWriter, r *http.Request, next http.Handler, resource string, action Action, owner *uuid.UUID) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	if m.Evaluator == nil || !m.Evaluator.Authorize(r.Context(), p, resource, action, owner) {
		if m.Logger != nil {
			m.Logger.Debug("rbac denied",
				slog.String("user_id", p.ID.String()),
				slog.String("resource", resource),
				slog.String("action", action.String()))
		}
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	next.ServeHTTP(w, r)
}
