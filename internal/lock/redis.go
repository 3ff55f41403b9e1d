package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the key's expiry only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a Locker shared by every instance pointed at the same Redis.
// Locks expire after TTL so a crashed holder cannot block runs forever; a live
// holder renews its lease every TTL/3 until it releases.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	TTL    time.Duration
	Poll   time.Duration
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb, prefix: "orderbatch:lock:", TTL: 2 * time.Minute, Poll: 100 * time.Millisecond}
}

// NewRedisFromURL parses a redis:// URL and returns a Locker using a new client.
func NewRedisFromURL(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedis(redis.NewClient(opt)), nil
}

func (r *Redis) Acquire(ctx context.Context, name string) (Release, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	key := r.prefix + name
	ticker := time.NewTicker(r.Poll)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("redis lock %s: %w", name, err)
		}
		if ok {
			stop := r.keepAlive(key, token)
			return func(ctx context.Context) error {
				stop()
				return releaseScript.Run(ctx, r.rdb, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

// keepAlive renews the lease in the background. The returned func stops renewal and waits for it.
func (r *Redis) keepAlive(key, token string) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(r.TTL / 3)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := renewScript.Run(ctx, r.rdb, []string{key}, token, r.TTL.Milliseconds()).Int()
				if err != nil && ctx.Err() != nil {
					return
				}
				if err == nil && n == 0 {
					// lease lost to expiry; nothing left to renew
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Redis) Close() error { return r.rdb.Close() }

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
