package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const (
	lookupExpired int64 = -1
	lookupMissing int64 = 0
)

const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "token", ARGV[2], "user_id", ARGV[3], "ip", ARGV[4], "ua", ARGV[5],
  "created_at", ARGV[6], "expires_at", ARGV[7], "last_activity", ARGV[8])
redis.call("PEXPIRE", KEYS[1], ARGV[9])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`

const lookupSessionScript = `
local data = redis.call("HGETALL", KEYS[1])
if #data == 0 then
  return 0
end
local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at"))
if not exp or exp <= tonumber(ARGV[1]) then
  local uid = redis.call("HGET", KEYS[1], "user_id")
  redis.call("DEL", KEYS[1])
  if uid then
    redis.call("SREM", ARGV[2] .. uid, ARGV[3])
  end
  return -1
end
return data
`

const touchSessionScript = `
local exp = redis.call("HGET", KEYS[1], "expires_at")
if not exp or tonumber(exp) <= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "last_activity", ARGV[1])
return 1
`

const deleteSessionScript = `
local uid = redis.call("HGET", KEYS[1], "user_id")
local deleted = redis.call("DEL", KEYS[1])
if uid then
  redis.call("SREM", ARGV[1] .. uid, ARGV[2])
end
return deleted
`

const deleteUserSessionsScript = `
local tokens = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, t in ipairs(tokens) do
  n = n + redis.call("DEL", ARGV[1] .. t)
end
redis.call("DEL", KEYS[1])
return n
`

var (
	createSessionLua      = redis.NewScript(createSessionScript)
	lookupSessionLua      = redis.NewScript(lookupSessionScript)
	touchSessionLua       = redis.NewScript(touchSessionScript)
	deleteSessionLua      = redis.NewScript(deleteSessionScript)
	deleteUserSessionsLua = redis.NewScript(deleteUserSessionsScript)
)

// RedisStore keeps each session in a hash plus a per-user index set. State
// transitions run as Lua scripts so they are atomic on the server. Timestamps
// are stored with millisecond precision.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed session store. prefix namespaces the keys.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "iam:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) sessionPrefix() string { return s.prefix + "session:" }
func (s *RedisStore) userPrefix() string    { return s.prefix + "user_sessions:" }

func (s *RedisStore) sessionKey(token string) string { return s.sessionPrefix() + token }

func (s *RedisStore) userKey(userID uuid.UUID) string { return s.userPrefix() + userID.String() }

// Create persists a new session.
func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	res, err := createSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(sess.Token), s.userKey(sess.UserID)},
		sess.ID.String(), sess.Token, sess.UserID.String(), sess.IP, sess.UserAgent,
		sess.CreatedAt.UnixMilli(), sess.ExpiresAt.UnixMilli(), sess.LastActivity.UnixMilli(),
		keyTTL(sess).Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("sessions: redis create: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("sessions: token collision: %w", shared.ErrConflict)
	}
	return nil
}

// keyTTL is the relative eviction delay for a session key. Validity is
// decided from the stored expires_at against the caller's clock; the key TTL
// only reclaims memory.
func keyTTL(sess Session) time.Duration {
	ttl := sess.ExpiresAt.Sub(sess.CreatedAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}

// Lookup returns a valid session, purging an expired one.
func (s *RedisStore) Lookup(ctx context.Context, token string, now time.Time) (Session, error) {
	res, err := lookupSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(token)},
		now.UnixMilli(), s.userPrefix(), token,
	).Result()
	if err != nil {
		return Session{}, fmt.Errorf("sessions: redis lookup: %w", err)
	}
	switch v := res.(type) {
	case int64:
		if v == lookupExpired {
			return Session{}, ErrSessionExpired
		}
		return Session{}, ErrSessionNotFound
	case []interface{}:
		return decodeSession(pairsToMap(v))
	default:
		return Session{}, fmt.Errorf("sessions: redis lookup: unexpected reply %T", res)
	}
}

// Touch refreshes last activity.
func (s *RedisStore) Touch(ctx context.Context, token string, now time.Time) error {
	res, err := touchSessionLua.Run(ctx, s.client, []string{s.sessionKey(token)}, now.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("sessions: redis touch: %w", err)
	}
	if res == lookupMissing {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a single session.
func (s *RedisStore) Delete(ctx context.Context, token string) (bool, error) {
	res, err := deleteSessionLua.Run(ctx, s.client, []string{s.sessionKey(token)}, s.userPrefix(), token).Int64()
	if err != nil {
		return false, fmt.Errorf("sessions: redis delete: %w", err)
	}
	return res > 0, nil
}

// DeleteByUser removes all sessions of a user together with its index.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := deleteUserSessionsLua.Run(ctx, s.client, []string{s.userKey(userID)}, s.sessionPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("sessions: redis delete by user: %w", err)
	}
	return res, nil
}

// ListByUser loads the indexed sessions, dropping stale index entries.
func (s *RedisStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	tokens, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("sessions: redis list: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, token := range tokens {
			cmds[i] = p.HGetAll(ctx, s.sessionKey(token))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessions: redis list: %w", err)
	}
	out := make([]Session, 0, len(tokens))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, tokens[i])
			continue
		}
		sess, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("sessions: redis prune index: %w", err)
		}
	}
	sortByActivity(out)
	return out, nil
}

// DeleteExpired scans session keys and purges those expired at now. Keys also
// carry a server-side expiry, so this mainly cleans up per-user indexes.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.sessionPrefix()+"*", 200).Result()
		if err != nil {
			return removed, fmt.Errorf("sessions: redis scan: %w", err)
		}
		for _, key := range keys {
			token := key[len(s.sessionPrefix()):]
			if _, err := s.Lookup(ctx, token, now); err != nil {
				if errors.Is(err, ErrSessionExpired) {
					removed++
					continue
				}
				if errors.Is(err, ErrSessionNotFound) {
					continue
				}
				return removed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func pairsToMap(flat []interface{}) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		out[k] = v
	}
	return out
}

func decodeSession(fields map[string]string) (Session, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return Session{}, fmt.Errorf("sessions: corrupt session id: %w", err)
	}
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return Session{}, fmt.Errorf("sessions: corrupt user id: %w", err)
	}
	created, err := parseMillis(fields["created_at"])
	if err != nil {
		return Session{}, err
	}
	expires, err := parseMillis(fields["expires_at"])
	if err != nil {
		return Session{}, err
	}
	last, err := parseMillis(fields["last_activity"])
	if err != nil {
		return Session{}, err
	}
	return Session{
		ID:           id,
		Token:        fields["token"],
		UserID:       userID,
		IP:           fields["ip"],
		UserAgent:    fields["ua"],
		CreatedAt:    created,
		ExpiresAt:    expires,
		LastActivity: last,
	}, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("sessions: corrupt timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

var _ Store = (*RedisStore)(nil)
