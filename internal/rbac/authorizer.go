package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// DefaultSnapshotTTL bounds how long an instance serves a loaded rule table.
const DefaultSnapshotTTL = 30 * time.Second

// SnapshotLoader reads every resource and rule from durable storage.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) (Snapshot, error)
}

// DecisionRecorder observes authorization outcomes.
type DecisionRecorder interface {
	ObserveAuthorization(resource, action string, allowed bool)
}

// AuthorizerOptions configures an Authorizer.
type AuthorizerOptions struct {
	Cache   *RuleCache
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics DecisionRecorder
	Now     func() time.Time
}

// Authorizer evaluates decisions against a preloaded RuleTable so a request
// never issues per-role lookups. The table is refreshed after TTL or on
// Invalidate; concurrent refreshes collapse into one load.
type Authorizer struct {
	loader  SnapshotLoader
	cache   *RuleCache
	ttl     time.Duration
	logger  *slog.Logger
	metrics DecisionRecorder
	now     func() time.Time

	mu         sync.RWMutex
	table      *RuleTable
	loadedAt   time.Time
	generation uint64

	group singleflight.Group
}

// NewAuthorizer builds an Authorizer.
func NewAuthorizer(loader SnapshotLoader, opts AuthorizerOptions) *Authorizer {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Authorizer{
		loader:  loader,
		cache:   opts.Cache,
		ttl:     ttl,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}
}

// Authorize reports whether p may perform action on resource. It never
// fails: when the rule table cannot be loaded the decision is deny.
func (a *Authorizer) Authorize(ctx context.Context, p shared.Principal, resource string, action Action, owner *uuid.UUID) bool {
	table, err := a.Table(ctx)
	if err != nil {
		a.logger.Error("rbac load rules", slog.String("resource", resource), slog.Any("error", err))
		a.observe(resource, action, false)
		return false
	}
	allowed := table.Authorize(p, resource, action, owner)
	a.observe(resource, action, allowed)
	return allowed
}

// ReadScope reports which rows of resource p may read; ScopeNone on load failure.
func (a *Authorizer) ReadScope(ctx context.Context, p shared.Principal, resource string) Scope {
	table, err := a.Table(ctx)
	if err != nil {
		a.logger.Error("rbac load rules", slog.String("resource", resource), slog.Any("error", err))
		return ScopeNone
	}
	return table.ReadScope(p, resource)
}

// Table returns the current rule table, loading it when stale.
func (a *Authorizer) Table(ctx context.Context) (*RuleTable, error) {
	a.mu.RLock()
	table, loadedAt, gen := a.table, a.loadedAt, a.generation
	a.mu.RUnlock()
	if table != nil && a.now().Sub(loadedAt) < a.ttl {
		return table, nil
	}

	key := fmt.Sprintf("rules:%d", gen)
	ch := a.group.DoChan(key, func() (interface{}, error) {
		// The load is shared by every waiter, so one caller's cancellation must not abort it.
		snap, err := a.cache.Fetch(context.WithoutCancel(ctx), a.loader.LoadSnapshot)
		if err != nil {
			return nil, err
		}
		fresh := NewRuleTable(snap)
		a.mu.Lock()
		if a.generation == gen {
			a.table = fresh
			a.loadedAt = a.now()
		}
		a.mu.Unlock()
		return fresh, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RuleTable), nil
	}
}

// Invalidate drops the local table and bumps the shared cache version so
// every instance reloads on its next decision.
func (a *Authorizer) Invalidate(ctx context.Context) error {
	a.drop()
	if err := a.cache.Bump(ctx); err != nil {
		return fmt.Errorf("rbac: bump rule cache: %w", err)
	}
	return nil
}

// Listen drops the local table whenever another instance bumps the cache.
func (a *Authorizer) Listen(ctx context.Context) error {
	return a.cache.ListenForInvalidation(ctx, a.drop)
}

func (a *Authorizer) drop() {
	a.mu.Lock()
	a.table = nil
	a.generation++
	a.mu.Unlock()
}

func (a *Authorizer) observe(resource string, action Action, allowed bool) {
	if a.metrics != nil {
		a.metrics.ObserveAuthorization(resource, action.String(), allowed)
	}
}
