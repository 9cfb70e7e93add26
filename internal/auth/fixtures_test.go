package auth_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/sessions"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

const testSecret = "0123456789abcdef-test-secret"

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type account struct {
	user     users.User
	password string
	roles    []shared.RoleRef
}

// fakeAccounts is an in-memory account directory. Deactivate revokes sessions
// through the real session manager so lifecycle tests see the cascade.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account
	sessions *sessions.Manager
}

func (f *fakeAccounts) add(email, password string, active bool) users.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := users.User{ID: uuid.New(), Email: email, FirstName: "Test", LastName: "User", IsActive: active, CreatedAt: baseTime}
	f.accounts[u.ID] = &account{user: u, password: password, roles: []shared.RoleRef{{ID: uuid.New(), Name: "User"}}}
	return u
}

func (f *fakeAccounts) LoadPrincipal(ctx context.Context, id uuid.UUID) (shared.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return shared.Principal{}, shared.ErrNotFound
	}
	return shared.Principal{ID: a.user.ID, Email: a.user.Email, Active: a.user.IsActive, Roles: a.roles}, nil
}

func (f *fakeAccounts) CheckCredentials(ctx context.Context, email, password string) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.user.Email != email || a.password != password {
			continue
		}
		if !a.user.IsActive {
			return users.User{}, shared.ErrAccountInactive
		}
		return a.user, nil
	}
	return users.User{}, shared.ErrInvalidCredentials
}

func (f *fakeAccounts) Deactivate(ctx context.Context, actorID, userID uuid.UUID) error {
	f.mu.Lock()
	a, ok := f.accounts[userID]
	if ok {
		a.user.IsActive = false
	}
	f.mu.Unlock()
	if !ok {
		return shared.ErrNotFound
	}
	_, err := f.sessions.InvalidateAll(ctx, userID)
	return err
}

func (f *fakeAccounts) Register(ctx context.Context, in users.RegisterInput) (users.User, error) {
	f.mu.Lock()
	for _, a := range f.accounts {
		if a.user.Email == strings.TrimSpace(in.Email) {
			f.mu.Unlock()
			return users.User{}, fmt.Errorf("users: email already registered: %w", shared.ErrConflict)
		}
	}
	f.mu.Unlock()
	u := f.add(strings.TrimSpace(in.Email), in.Password, true)
	return u, nil
}

func (f *fakeAccounts) Detail(ctx context.Context, id uuid.UUID) (users.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return users.UserDetail{}, shared.ErrNotFound
	}
	return users.UserDetail{User: a.user, FullName: a.user.FullName(), Roles: a.roles}, nil
}

func (f *fakeAccounts) UpdateProfile(ctx context.Context, id uuid.UUID, in users.ProfileInput) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	if in.FirstName != nil {
		a.user.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		a.user.LastName = *in.LastName
	}
	if in.Patronymic != nil {
		a.user.Patronymic = *in.Patronymic
	}
	return a.user, nil
}

type outcomeLog struct {
	mu      sync.Mutex
	entries []string
}

func (o *outcomeLog) ObserveAuthentication(scheme, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, scheme+":"+outcome)
}

func (o *outcomeLog) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) == 0 {
		return ""
	}
	return o.entries[len(o.entries)-1]
}

type fixture struct {
	redis    *miniredis.Miniredis
	accounts *fakeAccounts
	tokens   *auth.TokenCodec
	sessions *sessions.Manager
	resolver *auth.Resolver
	service  *auth.Service
	outcomes *outcomeLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(baseTime)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := sessions.NewManager(sessions.NewRedisStore(client, "test:"), 24*time.Hour, nil)
	codec, err := auth.NewTokenCodec(auth.TokenConfig{Secret: []byte(testSecret), TTL: time.Hour, Issuer: "odyssey-iam"})
	require.NoError(t, err)

	accounts := &fakeAccounts{accounts: make(map[uuid.UUID]*account), sessions: manager}
	outcomes := &outcomeLog{}
	resolver := auth.NewResolver(codec, manager, accounts, nil, outcomes)
	service := auth.NewService(accounts, codec, manager, resolver, nil, nil)
	return &fixture{
		redis:    mr,
		accounts: accounts,
		tokens:   codec,
		sessions: manager,
		resolver: resolver,
		service:  service,
		outcomes: outcomes,
	}
}
