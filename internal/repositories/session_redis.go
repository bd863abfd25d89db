package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/redis/go-redis/v9"
)

// registerScript adds a session to the user's sorted set and trims the set to
// the maximum, oldest first. Scores are creation time in microseconds, bumped
// past the newest existing score so the new session always sorts last.
// Members whose owner key has expired are dropped before counting. The owner
// key expires with the session; the set lives as long as its newest session.
//
// KEYS[1] user set, KEYS[2] owner key
// ARGV[1] score, ARGV[2] session id, ARGV[3] user id, ARGV[4] max,
// ARGV[5] owner key prefix, ARGV[6] time to live in milliseconds
var registerScript = redis.NewScript(`
for _, sid in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
	if redis.call('EXISTS', ARGV[5] .. sid) == 0 then
		redis.call('ZREM', KEYS[1], sid)
	end
end

local score = tonumber(ARGV[1])
local newest = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #newest == 2 and tonumber(newest[2]) >= score then
	score = tonumber(newest[2]) + 1
end
redis.call('ZADD', KEYS[1], score, ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])

local ttl = tonumber(ARGV[6])
redis.call('PEXPIRE', KEYS[2], ttl)
local current = redis.call('PTTL', KEYS[1])
if current < ttl then
	redis.call('PEXPIRE', KEYS[1], ttl)
end

local excess = redis.call('ZCARD', KEYS[1]) - tonumber(ARGV[4])
if excess <= 0 then
	return {}
end
local victims = redis.call('ZRANGE', KEYS[1], 0, excess - 1)
for _, sid in ipairs(victims) do
	redis.call('ZREM', KEYS[1], sid)
	redis.call('DEL', ARGV[5] .. sid)
end
return victims
`)

// unregisterScript removes a session from its owner's set.
//
// KEYS[1] owner key
// ARGV[1] user set prefix, ARGV[2] session id
var unregisterScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if not owner then
	return 0
end
redis.call('ZREM', ARGV[1] .. owner, ARGV[2])
redis.call('DEL', KEYS[1])
return 1
`)

type RedisSessionConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	MaxPerUser int
}

// RedisSessionRegistry shares session state across server instances. Each
// mutation runs as one Lua script, so concurrent logins for a user are
// serialized by Redis itself.
type RedisSessionRegistry struct {
	client     *redis.Client
	prefix     string
	maxPerUser int
	now        func() time.Time
}

func NewRedisSessionRegistry(ctx context.Context, cfg RedisSessionConfig) (*RedisSessionRegistry, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "loginguard:"
	}
	maxPerUser := cfg.MaxPerUser
	if maxPerUser < 1 {
		maxPerUser = 1
	}

	return &RedisSessionRegistry{
		client:     client,
		prefix:     prefix,
		maxPerUser: maxPerUser,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source, for tests
func (r *RedisSessionRegistry) WithClock(now func() time.Time) *RedisSessionRegistry {
	r.now = now
	return r
}

func (r *RedisSessionRegistry) userPrefix() string  { return r.prefix + "session:user:" }
func (r *RedisSessionRegistry) ownerPrefix() string { return r.prefix + "session:owner:" }

func (r *RedisSessionRegistry) Register(ctx context.Context, userID, sessionID string, expiresAt time.Time) ([]string, error) {
	now := r.now()
	ttl := expiresAt.Sub(now).Milliseconds()
	if ttl <= 0 {
		return nil, nil
	}

	keys := []string{r.userPrefix() + userID, r.ownerPrefix() + sessionID}
	args := []interface{}{
		now.UnixMicro(), sessionID, userID, r.maxPerUser, r.ownerPrefix(), ttl,
	}

	invalidated, err := registerScript.Run(ctx, r.client, keys, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}
	if len(invalidated) == 0 {
		return nil, nil
	}
	return invalidated, nil
}

func (r *RedisSessionRegistry) Unregister(ctx context.Context, sessionID string) error {
	keys := []string{r.ownerPrefix() + sessionID}
	if err := unregisterScript.Run(ctx, r.client, keys, r.userPrefix(), sessionID).Err(); err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	return nil
}

func (r *RedisSessionRegistry) IsActive(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.ownerPrefix()+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n == 1, nil
}

// ActiveSessions lists the user's live sessions. Members whose owner key has
// expired are skipped and removed from the set.
func (r *RedisSessionRegistry) ActiveSessions(ctx context.Context, userID string) ([]models.SessionHandle, error) {
	setKey := r.userPrefix() + userID
	members, err := r.client.ZRangeWithScores(ctx, setKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sids := make([]string, len(members))
	ttls := make([]*redis.DurationCmd, len(members))
	pipe := r.client.Pipeline()
	for i, m := range members {
		sid, ok := m.Member.(string)
		if !ok {
			sid = fmt.Sprint(m.Member)
		}
		sids[i] = sid
		ttls[i] = pipe.PTTL(ctx, r.ownerPrefix()+sid)
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to read session expiry: %w", err)
		}
	}

	now := r.now()
	handles := make([]models.SessionHandle, 0, len(members))
	var stale []interface{}
	for i, m := range members {
		ttl := ttls[i].Val()
		if ttl == -2 {
			stale = append(stale, sids[i])
			continue
		}
		h := models.SessionHandle{
			UserID:    userID,
			SessionID: sids[i],
			CreatedAt: time.UnixMicro(int64(m.Score)).UTC(),
		}
		if ttl > 0 {
			h.ExpiresAt = now.Add(ttl).UTC()
		}
		handles = append(handles, h)
	}

	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to drop expired sessions: %w", err)
		}
	}
	return handles, nil
}

func (r *RedisSessionRegistry) Close() error {
	return r.client.Close()
}
