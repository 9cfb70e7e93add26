package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler exposes role, resource, rule and assignment administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers the admin routes. Paths are relative to the admin
// router and share it with the users handler.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireResource("roles"))
		r.Get("/roles", h.listRoles)
		r.Post("/roles", h.createRole)
		r.Get("/roles/{id}", h.getRole)
		r.Get("/rules", h.listRules)
		r.Put("/rules", h.upsertRule)
		r.Delete("/rules/{roleID}/{resourceID}", h.deleteRule)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireResource("settings"))
		r.Get("/resources", h.listResources)
		r.Post("/resources", h.createResource)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireResource("users"))
		r.Get("/users/{id}/roles", h.userRoles)
		r.Post("/users/{id}/roles", h.assignRole)
		r.Delete("/users/{id}/roles/{roleID}", h.revokeRole)
	})
}

type namedRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type upsertRuleRequest struct {
	RoleID     uuid.UUID `json:"role_id" validate:"required"`
	ResourceID uuid.UUID `json:"resource_id" validate:"required"`
	RuleFlags
}

type assignRoleRequest struct {
	RoleID uuid.UUID `json:"role_id" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": nonNil(roles)})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req namedRequest
	if err := httpx.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListResources(r.Context())
	if err != nil {
		h.fail(w, "list resources", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": nonNil(list)})
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	var req namedRequest
	if err := httpx.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.CreateResource(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, "create resource", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	var filter RuleFilter
	for param, dst := range map[string]**uuid.UUID{"role_id": &filter.RoleID, "resource_id": &filter.ResourceID} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be a UUID")
			return
		}
		*dst = &id
	}
	rules, err := h.service.ListRules(r.Context(), filter)
	if err != nil {
		h.fail(w, "list rules", err)
		return
	}
	views := make([]RuleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, rule.View())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": views})
}

func (h *Handler) upsertRule(w http.ResponseWriter, r *http.Request) {
	var req upsertRuleRequest
	if err := httpx.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.UpsertRule(r.Context(), actorID(r), req.RoleID, req.ResourceID, req.RuleFlags.Grant())
	if err != nil {
		h.fail(w, "upsert rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule.View())
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.URLParamUUID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resourceID, err := httpx.URLParamUUID(r, "resourceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRule(r.Context(), roleID, resourceID); err != nil {
		h.fail(w, "delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roles, err := h.service.UserRoles(r.Context(), userID)
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": nonNil(roles)})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.AssignRole(r.Context(), actorID(r), userID, req.RoleID)
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, map[string]any{"user_id": userID, "role_id": req.RoleID, "created": created})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := httpx.URLParamUUID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RevokeRole(r.Context(), actorID(r), userID, roleID); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func actorID(r *http.Request) uuid.UUID {
	p, _ := shared.PrincipalFromContext(r.Context())
	return p.ID
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
