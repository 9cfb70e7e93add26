package sessions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler exposes administrative session endpoints.
type Handler struct {
	logger  *slog.Logger
	manager *Manager
	audit   shared.AuditRecorder
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager, audit shared.AuditRecorder, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager, audit: audit, rbac: rbac}
}

// MountRoutes registers session routes on the admin router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require("users", rbac.ActionRead)).Get("/sessions", h.list)
	r.With(h.rbac.Require("users", rbac.ActionDelete)).Post("/sessions/{token}/invalidate", h.invalidate)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id must be a UUID")
		return
	}
	list, err := h.manager.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list sessions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []Session{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	removed, err := h.manager.Invalidate(r.Context(), token)
	if err != nil {
		h.logger.Error("invalidate session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if removed && h.audit != nil {
		actor, _ := shared.PrincipalFromContext(r.Context())
		entry := shared.AuditLog{ActorID: actor.ID, Action: shared.AuditSessionRevoked, Entity: "sessions", EntityID: tokenHint(token)}
		if err := h.audit.Record(r.Context(), entry); err != nil {
			h.logger.Warn("audit session revoke", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invalidated": removed})
}

// tokenHint keeps session tokens out of the audit trail.
func tokenHint(token string) string {
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return token
}
