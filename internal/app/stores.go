package app

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/sessions"
)

// NewSessionStore selects the session backend named by SESSION_BACKEND.
func NewSessionStore(cfg *Config, pool *pgxpool.Pool, client redis.UniversalClient) (sessions.Store, error) {
	switch cfg.SessionBackend {
	case SessionBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("app: redis session backend requires a redis client")
		}
		return sessions.NewRedisStore(client, cfg.RedisPrefix), nil
	case SessionBackendPostgres, "":
		if pool == nil {
			return nil, fmt.Errorf("app: postgres session backend requires a pool")
		}
		return sessions.NewPGStore(pool), nil
	default:
		return nil, fmt.Errorf("app: unsupported session backend %q", cfg.SessionBackend)
	}
}
