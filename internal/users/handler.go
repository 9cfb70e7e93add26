package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes on the admin router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require("users", rbac.ActionRead)).Get("/users", h.listUsers)
	r.With(h.rbac.Require("users", rbac.ActionRead)).Get("/users/{id}", h.getUser)
	r.With(h.rbac.RequireOwned("users", rbac.ActionUpdate, rbac.OwnerFromURLParam("id"))).Patch("/users/{id}", h.updateUser)
	r.With(h.rbac.RequireOwned("users", rbac.ActionDelete, rbac.OwnerFromURLParam("id"))).Post("/users/{id}/deactivate", h.deactivateUser)
}

// listUsers returns every account for read_all holders and only the caller's
// own account for read_own holders.
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	var (
		users []User
		err   error
	)
	switch h.rbac.ReadScope(r, "users") {
	case rbac.ScopeAll:
		users, err = h.service.ListUsers(r.Context())
	case rbac.ScopeOwn:
		actor, _ := shared.PrincipalFromContext(r.Context())
		var self User
		self, err = h.service.Get(r.Context(), actor.ID)
		users = []User{self}
	default:
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.rbac.ReadScope(r, "users") != rbac.ScopeAll {
		if actor, _ := shared.PrincipalFromContext(r.Context()); actor.ID != id {
			httpx.RespondError(w, shared.ErrForbidden)
			return
		}
	}
	detail, err := h.service.Detail(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ProfileInput
	if err := httpx.DecodeAndValidate(w, r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), id, in)
	if err != nil {
		h.logger.Warn("update user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Deactivate(r.Context(), actor.ID, id); err != nil {
		h.logger.Warn("deactivate user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "is_active": false})
}
