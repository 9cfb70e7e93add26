package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	users        map[uuid.UUID]User
	roles        map[uuid.UUID][]shared.RoleRef
	defaultRoles map[string]shared.RoleRef
	roleErr      error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:        make(map[uuid.UUID]User),
		roles:        make(map[uuid.UUID][]shared.RoleRef),
		defaultRoles: map[string]shared.RoleRef{"User": {ID: uuid.New(), Name: "User"}},
	}
}

func (r *memoryRepo) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryRepo) FindByEmail(ctx context.Context, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (r *memoryRepo) FindPrincipal(ctx context.Context, id uuid.UUID) (shared.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return shared.Principal{}, shared.ErrNotFound
	}
	return shared.Principal{ID: u.ID, Email: u.Email, Active: u.IsActive, Roles: r.roles[id]}, nil
}

func (r *memoryRepo) Create(ctx context.Context, u User, roleName string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return User{}, fmt.Errorf("users: email already registered: %w", shared.ErrConflict)
		}
	}
	if roleName != "" && r.roleErr != nil {
		return User{}, fmt.Errorf("users: assign default role: %w", r.roleErr)
	}
	r.users[u.ID] = u
	if role, ok := r.defaultRoles[roleName]; ok {
		r.roles[u.ID] = append(r.roles[u.ID], role)
	}
	return u, nil
}

func (r *memoryRepo) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput, at time.Time) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	if in.FirstName != nil {
		u.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		u.LastName = *in.LastName
	}
	if in.Patronymic != nil {
		u.Patronymic = *in.Patronymic
	}
	u.UpdatedAt = at
	r.users[id] = u
	return u, nil
}

func (r *memoryRepo) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	u.UpdatedAt = at
	r.users[id] = u
	return nil
}

func (r *memoryRepo) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []User
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

type stubRevoker struct {
	calls   []uuid.UUID
	removed int64
}

func (s *stubRevoker) InvalidateAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.calls = append(s.calls, userID)
	return s.removed, nil
}

func newTestService(repo *memoryRepo, revoker SessionRevoker) *Service {
	return NewService(repo, revoker, Options{
		CaseInsensitiveEmail: true,
		BcryptCost:           bcrypt.MinCost,
		DefaultRole:          DefaultRoleName,
	})
}

func registerInput(email, password string) RegisterInput {
	return RegisterInput{Email: email, Password: password, PasswordConfirm: password, FirstName: "Ivan", LastName: "Petrov"}
}

func TestRegisterHashesPasswordAndAssignsDefaultRole(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRevoker{})

	user, err := svc.Register(context.Background(), registerInput("  Ivan@Example.COM ", "s3cret-pass"))
	require.NoError(t, err)
	assert.Equal(t, "ivan@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$2"))

	p, err := svc.LoadPrincipal(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, p.HasRole("User"))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubRevoker{})
	_, err := svc.Register(context.Background(), registerInput("dup@example.com", "password1"))
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), registerInput("DUP@example.com", "password2"))
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestRegisterRoleFailureLeavesNoAccount(t *testing.T) {
	repo := newMemoryRepo()
	repo.roleErr = errors.New("connection reset")
	svc := newTestService(repo, &stubRevoker{})

	_, err := svc.Register(context.Background(), registerInput("eva@example.com", "password1"))
	require.Error(t, err)
	users, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)

	repo.roleErr = nil
	user, err := svc.Register(context.Background(), registerInput("eva@example.com", "password1"))
	require.NoError(t, err)
	p, err := svc.LoadPrincipal(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, p.HasRole(DefaultRoleName))
}

func TestCaseSensitiveEmailPolicy(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &stubRevoker{}, Options{BcryptCost: bcrypt.MinCost})
	_, err := svc.Register(context.Background(), registerInput("Mixed@Example.com", "password1"))
	require.NoError(t, err)

	_, err = svc.CheckCredentials(context.Background(), "mixed@example.com", "password1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.CheckCredentials(context.Background(), "Mixed@Example.com", "password1")
	assert.NoError(t, err)
}

func TestCheckCredentials(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRevoker{})
	user, err := svc.Register(context.Background(), registerInput("user@example.com", "correct-horse"))
	require.NoError(t, err)

	got, err := svc.CheckCredentials(context.Background(), "USER@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.CheckCredentials(context.Background(), "user@example.com", "wrong-horse")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = svc.CheckCredentials(context.Background(), "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestCheckCredentialsInactiveAccount(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRevoker{})
	user, err := svc.Register(context.Background(), registerInput("gone@example.com", "password1"))
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(context.Background(), uuid.Nil, user.ID))

	_, err = svc.CheckCredentials(context.Background(), "gone@example.com", "password1")
	assert.ErrorIs(t, err, shared.ErrAccountInactive)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	// A wrong password on an inactive account still reads as bad credentials.
	_, err = svc.CheckCredentials(context.Background(), "gone@example.com", "password2")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestDeactivateRevokesSessions(t *testing.T) {
	repo := newMemoryRepo()
	revoker := &stubRevoker{removed: 3}
	svc := newTestService(repo, revoker)
	user, err := svc.Register(context.Background(), registerInput("leaver@example.com", "password1"))
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), uuid.New(), user.ID))
	assert.Equal(t, []uuid.UUID{user.ID}, revoker.calls)

	p, err := svc.LoadPrincipal(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, p.Active)
}

func TestDeactivateUnknownUser(t *testing.T) {
	revoker := &stubRevoker{}
	svc := newTestService(newMemoryRepo(), revoker)
	err := svc.Deactivate(context.Background(), uuid.Nil, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, revoker.calls)
}

func TestUpdateProfileTrimsAndKeepsUnsetFields(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubRevoker{})
	user, err := svc.Register(context.Background(), registerInput("profile@example.com", "password1"))
	require.NoError(t, err)

	first := "  Pyotr "
	updated, err := svc.UpdateProfile(context.Background(), user.ID, ProfileInput{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Pyotr", updated.FirstName)
	assert.Equal(t, "Petrov", updated.LastName)
	assert.Equal(t, "Pyotr Petrov", updated.FullName())
}
