package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// DefaultBcryptCost matches the cost used for stored hashes.
const DefaultBcryptCost = 12

// DefaultRoleName is granted to self-registered accounts.
const DefaultRoleName = "User"

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id uuid.UUID) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindPrincipal(ctx context.Context, id uuid.UUID) (shared.Principal, error)
	Create(ctx context.Context, u User, roleName string) (User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput, at time.Time) (User, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error
	ListUsers(ctx context.Context) ([]User, error)
}

// SessionRevoker removes every session owned by a user.
type SessionRevoker interface {
	InvalidateAll(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Options tunes the credential policy. CaseInsensitiveEmail folds emails
// before storage and lookup; DefaultRole is assigned on registration when set.
type Options struct {
	CaseInsensitiveEmail bool
	BcryptCost           int
	DefaultRole          string
	Logger               *slog.Logger
	Audit                shared.AuditRecorder
	Now                  func() time.Time
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	sessions SessionRevoker
	fold     bool
	cost     int
	role     string
	logger   *slog.Logger
	audit    shared.AuditRecorder
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sessions SessionRevoker, opts Options) *Service {
	cost := opts.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		fold:     opts.CaseInsensitiveEmail,
		cost:     cost,
		role:     opts.DefaultRole,
		logger:   logger,
		audit:    opts.Audit,
		now:      now,
	}
}

// NormalizeEmail applies the configured contact identifier policy.
func (s *Service) NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if s.fold {
		return cases.Fold().String(email)
	}
	return email
}

// Register creates an active account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	email := s.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return User{}, fmt.Errorf("users: email and password required: %w", shared.ErrInvalid)
	}
	if input.PasswordConfirm != input.Password {
		return User{}, fmt.Errorf("users: passwords do not match: %w", shared.ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	now := s.now().UTC()
	user, err := s.repo.Create(ctx, User{
		ID:           uuid.New(),
		Email:        email,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Patronymic:   strings.TrimSpace(input.Patronymic),
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, s.role)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, shared.AuditLog{ActorID: user.ID, Action: shared.AuditRegister, Entity: "users", EntityID: user.ID.String()})
	return user, nil
}

// CheckCredentials verifies an email/password pair. A wrong email or password
// yields shared.ErrInvalidCredentials; a correct password on a deactivated
// account yields shared.ErrAccountInactive.
func (s *Service) CheckCredentials(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, s.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Burn comparable time so unknown emails are not distinguishable.
			_ = bcrypt.CompareHashAndPassword(s.placeholderHash(), []byte(password))
			return User{}, shared.ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("users: find by email: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return User{}, shared.ErrAccountInactive
	}
	return user, nil
}

// LoadPrincipal materialises the principal for a user id.
func (s *Service) LoadPrincipal(ctx context.Context, id uuid.UUID) (shared.Principal, error) {
	return s.repo.FindPrincipal(ctx, id)
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Detail returns a user with its assigned roles.
func (s *Service) Detail(ctx context.Context, id uuid.UUID) (UserDetail, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return UserDetail{}, err
	}
	p, err := s.repo.FindPrincipal(ctx, id)
	if err != nil {
		return UserDetail{}, err
	}
	return UserDetail{User: user, FullName: user.FullName(), Roles: p.Roles}, nil
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdateProfile edits the name fields of an account.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (User, error) {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	in = ProfileInput{FirstName: trim(in.FirstName), LastName: trim(in.LastName), Patronymic: trim(in.Patronymic)}
	return s.repo.UpdateProfile(ctx, id, in, s.now().UTC())
}

// Deactivate soft-deletes the account and revokes every session it owns.
func (s *Service) Deactivate(ctx context.Context, actorID, userID uuid.UUID) error {
	if err := s.repo.SetActive(ctx, userID, false, s.now().UTC()); err != nil {
		return err
	}
	removed, err := s.sessions.InvalidateAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("users: revoke sessions: %w", err)
	}
	s.logger.Info("user deactivated", slog.String("user_id", userID.String()), slog.Int64("sessions_revoked", removed))
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditDeactivate,
		Entity:   "users",
		EntityID: userID.String(),
		Meta:     map[string]any{"sessions_revoked": removed},
	})
	return nil
}

func (s *Service) placeholderHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("odyssey-placeholder"), s.cost)
	})
	return s.dummyHash
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
