package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ruleVersionKey  = "rbac:rules:version"
	ruleSnapshotKey = "rbac:rules:snapshot"
	ruleBumpChannel = "rbac.rules.bump"
)

// RuleCache shares the rule snapshot between instances through Redis. Keys
// are versioned; bumping the version orphans every cached snapshot.
type RuleCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRuleCache instantiates the cache helper. A nil client disables caching.
func NewRuleCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RuleCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleCache{client: client, ttl: ttl, logger: logger}
}

func (c *RuleCache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current snapshot version, initialising when missing.
func (c *RuleCache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, ruleVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so concurrent initialisers agree on the first version.
		if err := c.client.SetNX(ctx, ruleVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, ruleVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *RuleCache) key(ver int64) string {
	return fmt.Sprintf("%s:%d", ruleSnapshotKey, ver)
}

// Fetch returns the cached snapshot for the current version, populating it
// through loader on a miss. Redis failures degrade to loading from the
// database; only loader errors are returned.
func (c *RuleCache) Fetch(ctx context.Context, loader func(context.Context) (Snapshot, error)) (Snapshot, error) {
	if loader == nil {
		return Snapshot{}, errors.New("rbac: cache loader required")
	}
	if !c.enabled() {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		c.logger.Warn("rbac cache version", slog.Any("error", err))
		return loader(ctx)
	}
	key := c.key(ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			return snap, nil
		}
		c.logger.Warn("rbac cache decode", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("rbac cache get", slog.String("key", key), slog.Any("error", err))
		return loader(ctx)
	}
	snap, err := loader(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return snap, nil
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("rbac cache set", slog.String("key", key), slog.Any("error", err))
	}
	return snap, nil
}

// Bump invalidates cached snapshots and notifies other instances.
func (c *RuleCache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, ruleVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, ruleBumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation calls onBump for every version bump published by any
// instance until ctx is cancelled.
func (c *RuleCache) ListenForInvalidation(ctx context.Context, onBump func()) error {
	if !c.enabled() {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, ruleBumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				onBump()
			}
		}
	}()
	return nil
}
