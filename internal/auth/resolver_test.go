package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/sessions"
)

func TestResolveBearerToken(t *testing.T) {
	f := newFixture(t)
	user := f.accounts.add("ada@example.com", "password1", true)
	token, _, err := f.tokens.Issue(user.ID, baseTime)
	require.NoError(t, err)

	res, err := f.resolver.Resolve(context.Background(), auth.Credentials{Bearer: token}, baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, res.Authenticated)
	assert.Equal(t, auth.SchemeBearer, res.Scheme)
	assert.Equal(t, user.ID, res.Principal.ID)
	assert.Equal(t, "bearer:success", f.outcomes.last())
}

func TestResolveFallsBackToSessionWhenTokenExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.accounts.add("ada@example.com", "password1", true)
	token, _, err := f.tokens.Issue(user.ID, baseTime)
	require.NoError(t, err)
	sess, err := f.sessions.Create(ctx, user.ID, "192.0.2.1", "test", baseTime)
	require.NoError(t, err)

	later := baseTime.Add(2 * time.Hour)
	res, err := f.resolver.Resolve(ctx, auth.Credentials{Bearer: token, SessionToken: sess.Token}, later)
	require.NoError(t, err)
	require.True(t, res.Authenticated)
	assert.Equal(t, auth.SchemeSession, res.Scheme)
	assert.Equal(t, user.ID, res.Principal.ID)

	touched, err := f.sessions.Lookup(ctx, sess.Token, later)
	require.NoError(t, err)
	assert.True(t, touched.LastActivity.Equal(later))
}

func TestResolveFallsBackToSessionWhenTokenInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.accounts.add("ada@example.com", "password1", true)
	sess, err := f.sessions.Create(ctx, user.ID, "192.0.2.1", "test", baseTime)
	require.NoError(t, err)

	res, err := f.resolver.Resolve(ctx, auth.Credentials{Bearer: "garbage", SessionToken: sess.Token}, baseTime)
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.Equal(t, auth.SchemeSession, res.Scheme)
}

func TestResolveInvalidTokenWithoutSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.Resolve(context.Background(), auth.Credentials{Bearer: "garbage"}, baseTime)
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, auth.ReasonTokenInvalid, res.Reason)
	assert.Equal(t, "none:token_invalid", f.outcomes.last())
}

func TestResolveVerifiedTokenForInactiveUserDoesNotFallThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blocked := f.accounts.add("blocked@example.com", "password1", false)
	active := f.accounts.add("active@example.com", "password1", true)
	token, _, err := f.tokens.Issue(blocked.ID, baseTime)
	require.NoError(t, err)
	sess, err := f.sessions.Create(ctx, active.ID, "192.0.2.1", "test", baseTime)
	require.NoError(t, err)

	res, err := f.resolver.Resolve(ctx, auth.Credentials{Bearer: token, SessionToken: sess.Token}, baseTime)
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, auth.SchemeBearer, res.Scheme)
	assert.Equal(t, auth.ReasonPrincipalBlocked, res.Reason)
}

func TestResolveExpiredSessionIsPurged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.accounts.add("ada@example.com", "password1", true)
	sess, err := f.sessions.Create(ctx, user.ID, "192.0.2.1", "test", baseTime)
	require.NoError(t, err)

	res, err := f.resolver.Resolve(ctx, auth.Credentials{SessionToken: sess.Token}, sess.ExpiresAt)
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, auth.ReasonSessionExpired, res.Reason)

	_, err = f.sessions.Lookup(ctx, sess.Token, baseTime)
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestResolveUnknownSessionAndNoCredentials(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.Resolve(context.Background(), auth.Credentials{SessionToken: "missing"}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, auth.ReasonSessionNotFound, res.Reason)

	res, err = f.resolver.Resolve(context.Background(), auth.Credentials{}, baseTime)
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, auth.ReasonNoCredentials, res.Reason)
}

func TestResolveSessionOfDeletedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.accounts.add("ada@example.com", "password1", true)
	sess, err := f.sessions.Create(ctx, user.ID, "192.0.2.1", "test", baseTime)
	require.NoError(t, err)
	f.accounts.mu.Lock()
	delete(f.accounts.accounts, user.ID)
	f.accounts.mu.Unlock()

	res, err := f.resolver.Resolve(ctx, auth.Credentials{SessionToken: sess.Token}, baseTime)
	require.NoError(t, err)
	assert.False(t, res.Authenticated)
	assert.Equal(t, auth.ReasonPrincipalMissing, res.Reason)
}

func TestResolveSurfacesStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.redis.Close()

	_, err := f.resolver.Resolve(context.Background(), auth.Credentials{SessionToken: "any"}, baseTime)
	require.Error(t, err)
	assert.Equal(t, "none:error", f.outcomes.last())
}
