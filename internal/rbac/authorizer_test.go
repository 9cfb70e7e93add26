package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type stubLoader struct {
	mu    sync.Mutex
	snap  Snapshot
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (l *stubLoader) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap, l.err
}

func (l *stubLoader) set(snap Snapshot) {
	l.mu.Lock()
	l.snap = snap
	l.mu.Unlock()
}

type decisionLog struct {
	mu      sync.Mutex
	allowed int
	denied  int
}

func (d *decisionLog) ObserveAuthorization(resource, action string, allowed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if allowed {
		d.allowed++
	} else {
		d.denied++
	}
}

func productsSnapshot(role uuid.UUID, grants Grant) Snapshot {
	products := Resource{ID: uuid.MustParse("2b1f6a3e-0b7a-4f58-9d1c-0c4a3f0e9a11"), Name: "products"}
	return Snapshot{
		Resources: []Resource{products},
		Rules:     []SnapshotRule{{RoleID: role, ResourceID: products.ID, Grants: grants}},
	}
}

func TestAuthorizerReusesSnapshotWithinTTL(t *testing.T) {
	role := uuid.New()
	loader := &stubLoader{snap: productsSnapshot(role, GrantReadAll)}
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	authz := NewAuthorizer(loader, AuthorizerOptions{TTL: time.Minute, Now: func() time.Time { return clock }})
	p := shared.Principal{ID: uuid.New(), Active: true, Roles: []shared.RoleRef{{ID: role, Name: "Guest"}}}

	for i := 0; i < 5; i++ {
		assert.True(t, authz.Authorize(context.Background(), p, "products", ActionRead, nil))
	}
	assert.EqualValues(t, 1, loader.calls.Load())

	clock = clock.Add(2 * time.Minute)
	assert.True(t, authz.Authorize(context.Background(), p, "products", ActionRead, nil))
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestAuthorizerInvalidateReloads(t *testing.T) {
	role := uuid.New()
	loader := &stubLoader{snap: productsSnapshot(role, GrantReadAll)}
	authz := NewAuthorizer(loader, AuthorizerOptions{TTL: time.Hour})
	p := shared.Principal{ID: uuid.New(), Active: true, Roles: []shared.RoleRef{{ID: role, Name: "Guest"}}}

	assert.False(t, authz.Authorize(context.Background(), p, "products", ActionCreate, nil))

	loader.set(productsSnapshot(role, GrantReadAll|GrantCreate))
	assert.False(t, authz.Authorize(context.Background(), p, "products", ActionCreate, nil))

	require.NoError(t, authz.Invalidate(context.Background()))
	assert.True(t, authz.Authorize(context.Background(), p, "products", ActionCreate, nil))
}

func TestAuthorizerDeniesOnLoadFailure(t *testing.T) {
	loader := &stubLoader{err: errors.New("connection refused")}
	decisions := &decisionLog{}
	authz := NewAuthorizer(loader, AuthorizerOptions{Metrics: decisions})
	p := shared.Principal{ID: uuid.New(), Active: true, Roles: []shared.RoleRef{{ID: uuid.New(), Name: "Admin"}}}

	assert.False(t, authz.Authorize(context.Background(), p, "products", ActionRead, nil))
	assert.Equal(t, ScopeNone, authz.ReadScope(context.Background(), p, "products"))
	assert.Equal(t, 1, decisions.denied)
}

func TestAuthorizerCollapsesConcurrentLoads(t *testing.T) {
	role := uuid.New()
	loader := &stubLoader{snap: productsSnapshot(role, GrantReadAll), delay: 50 * time.Millisecond}
	authz := NewAuthorizer(loader, AuthorizerOptions{TTL: time.Hour})
	p := shared.Principal{ID: uuid.New(), Active: true, Roles: []shared.RoleRef{{ID: role, Name: "Guest"}}}

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if authz.Authorize(context.Background(), p, "products", ActionRead, nil) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 20, allowed.Load())
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestAuthorizerSharesSnapshotThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	role := uuid.New()
	loader := &stubLoader{snap: productsSnapshot(role, GrantReadAll)}
	cache := NewRuleCache(client, time.Minute, nil)
	first := NewAuthorizer(loader, AuthorizerOptions{Cache: cache, TTL: time.Hour})
	second := NewAuthorizer(loader, AuthorizerOptions{Cache: cache, TTL: time.Hour})
	p := shared.Principal{ID: uuid.New(), Active: true, Roles: []shared.RoleRef{{ID: role, Name: "Guest"}}}

	assert.True(t, first.Authorize(context.Background(), p, "products", ActionRead, nil))
	assert.True(t, second.Authorize(context.Background(), p, "products", ActionRead, nil))
	assert.EqualValues(t, 1, loader.calls.Load())

	loader.set(productsSnapshot(role, 0))
	require.NoError(t, first.Invalidate(context.Background()))
	ver, err := cache.Version(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, ver)

	assert.False(t, first.Authorize(context.Background(), p, "products", ActionRead, nil))
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestAuthorizerFallsBackWhenRedisMisbehaves(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	role := uuid.New()
	loader := &stubLoader{snap: productsSnapshot(role, GrantReadAll)}
	cache := NewRuleCache(client, time.Minute, nil)
	p := shared.Principal{ID: uuid.New(), Active: true, Roles: []shared.RoleRef{{ID: role, Name: "Guest"}}}

	// GET on a list answers WRONGTYPE.
	require.NoError(t, mr.Set(ruleVersionKey, "1"))
	_, err := mr.Lpush(ruleSnapshotKey+":1", "junk")
	require.NoError(t, err)
	snap, err := cache.Fetch(context.Background(), loader.LoadSnapshot)
	require.NoError(t, err)
	assert.Len(t, snap.Rules, 1)
	authz := NewAuthorizer(loader, AuthorizerOptions{Cache: cache, TTL: time.Hour})
	assert.True(t, authz.Authorize(context.Background(), p, "products", ActionRead, nil))

	require.NoError(t, mr.Set(ruleVersionKey, "not-a-number"))
	snap, err = cache.Fetch(context.Background(), loader.LoadSnapshot)
	require.NoError(t, err)
	assert.Len(t, snap.Rules, 1)

	loader.mu.Lock()
	loader.err = errors.New("db down")
	loader.mu.Unlock()
	_, err = cache.Fetch(context.Background(), loader.LoadSnapshot)
	assert.Error(t, err)
}

func TestRuleCacheFetchWithoutClient(t *testing.T) {
	var cache *RuleCache
	loader := &stubLoader{snap: productsSnapshot(uuid.New(), GrantReadOwn)}
	snap, err := cache.Fetch(context.Background(), loader.LoadSnapshot)
	require.NoError(t, err)
	assert.Len(t, snap.Rules, 1)
	assert.NoError(t, cache.Bump(context.Background()))
}

func TestRuleCacheListenForInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRuleCache(client, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bumped := make(chan struct{}, 1)
	require.NoError(t, cache.ListenForInvalidation(ctx, func() {
		select {
		case bumped <- struct{}{}:
		default:
		}
	}))

	require.NoError(t, cache.Bump(context.Background()))
	select {
	case <-bumped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected invalidation notification")
	}
}
