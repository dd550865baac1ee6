package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/tokenflow/pkg/api"
)

// Redis is a ProcessingLock backed by Redis keys with a PX expiry:
//
//	<prefix>lock:<key>  => owner
type Redis struct {
	client *redis.Client
	prefix string
	opts   Options
}

var _ api.LockRenewer = (*Redis)(nil)

// Lua script for releasing a lease only when owned by the caller.
// Returns 1 if released, 0 if missing, -1 if owned by someone else.
var redisReleaseLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return -1
`)

// Lua script for extending a lease owned by the caller.
// Returns 1 if renewed, 0 otherwise.
var redisRenewLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

// NewRedis creates a Redis-backed lock. prefix is optional but recommended
// (e.g. "tokenflow:").
func NewRedis(client *redis.Client, prefix string, opts Options) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is required")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "tokenflow:"
	}
	return &Redis{client: client, prefix: prefix, opts: opts}, nil
}

func (r *Redis) keyLock(key string) string {
	return r.prefix + "lock:" + key
}

func (r *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.keyLock(key), r.opts.Owner, r.opts.TTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	res, err := redisReleaseLua.Run(ctx, r.client, []string{r.keyLock(key)}, r.opts.Owner).Int64()
	if err != nil {
		return err
	}
	if res < 0 {
		return api.ErrLockNotHeld
	}
	return nil
}

func (r *Redis) Renew(ctx context.Context, key string) error {
	res, err := redisRenewLua.Run(ctx, r.client, []string{r.keyLock(key)}, r.opts.Owner, r.opts.TTL.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res != 1 {
		return api.ErrLockNotHeld
	}
	return nil
}

// TTL returns the lease duration.
func (r *Redis) TTL() time.Duration {
	return r.opts.TTL
}
