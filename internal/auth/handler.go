package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Accounts is the account directory behind self-service endpoints.
// *users.Service satisfies it.
type Accounts interface {
	Register(ctx context.Context, input users.RegisterInput) (users.User, error)
	Detail(ctx context.Context, id uuid.UUID) (users.UserDetail, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, in users.ProfileInput) (users.User, error)
}

// HandlerOptions tunes the authentication endpoints.
type HandlerOptions struct {
	Cookie CookieConfig
	// LoginRateLimit caps login attempts per client IP per minute. Zero disables it.
	LoginRateLimit int
	Now            func() time.Time
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	accounts  Accounts
	cookie    CookieConfig
	limiter   func(http.Handler) http.Handler
	validator *validator.Validate
	now       func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, accounts Accounts, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limiter := func(next http.Handler) http.Handler { return next }
	if opts.LoginRateLimit > 0 {
		limiter = httprate.Limit(opts.LoginRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	}
	return &Handler{
		logger:    logger,
		service:   service,
		accounts:  accounts,
		cookie:    opts.Cookie.withDefaults(),
		limiter:   limiter,
		validator: validator.New(),
		now:       now,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.limiter).Post("/register", h.register)
	r.With(h.limiter).Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Group(func(r chi.Router) {
		r.Use(RequireAuth)
		r.Get("/me", h.me)
		r.Patch("/me", h.updateMe)
		r.Post("/delete-account", h.deleteAccount)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	IssuedCredentials
	User users.User `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in users.RegisterInput
	if err := httpx.DecodeAndValidate(w, r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		h.logger.Warn("register failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := httpx.DecodeAndValidate(w, r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Login(r.Context(), in.Email, in.Password, clientIP(r), r.UserAgent(), h.now())
	if err != nil {
		h.logger.Info("login rejected", slog.String("ip", clientIP(r)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.cookie.Set(w, res.Credentials.SessionID)
	httpx.JSON(w, http.StatusOK, loginResponse{IssuedCredentials: res.Credentials, User: res.User})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	creds := CredentialsFromRequest(r, h.cookie.Name)
	var actor uuid.UUID
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		actor = p.ID
	}
	removed, err := h.service.Logout(r.Context(), actor, creds.SessionToken)
	if err != nil {
		h.logger.Error("logout failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.cookie.Clear(w)
	httpx.JSON(w, http.StatusOK, map[string]bool{"logged_out": removed})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	detail, err := h.accounts.Detail(r.Context(), p.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	var in users.ProfileInput
	if err := httpx.DecodeAndValidate(w, r, h.validator, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.accounts.UpdateProfile(r.Context(), p.ID, in)
	if err != nil {
		h.logger.Warn("update profile", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.DeleteAccount(r.Context(), p); err != nil {
		h.logger.Error("delete account", slog.String("user_id", p.ID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.cookie.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// clientIP returns the host part of RemoteAddr; proxies are unwrapped by
// middleware.RealIP upstream.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
