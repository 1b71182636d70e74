package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. Each acquisition stores a random token
// so that a holder whose lock expired cannot release its successor's lock.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a RedisLocker. Keys are stored as prefix + name.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// TryAcquire implements Locker. A non-positive ttl is rejected since a Redis lock
// without expiry would survive a crashed holder forever.
func (r *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		return nil, exception.NewBatchErrorf("lock", "redis lock '%s' requires a positive ttl", name)
	}
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, exception.NewBatchError("lock", fmt.Sprintf("failed to acquire redis lock '%s'", name), err, false, true)
	}
	if !ok {
		return nil, ErrLockUnavailable
	}
	return &redisLock{client: r.client, name: name, key: key, token: token}, nil
}

type redisLock struct {
	client redis.UniversalClient
	name   string
	key    string
	token  string
}

func (l *redisLock) Name() string { return l.name }

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return exception.NewBatchError("lock", fmt.Sprintf("failed to release redis lock '%s'", l.name), err, false, true)
	}
	return nil
}
