// Package lock serialises uploads per user so two runs never race on the
// same object and document.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrHeld        = errors.New("upload already in progress for user")
	ErrUnavailable = errors.New("lock backend unavailable")
)

const keyPrefix = "modelvideo:lock:"

type Locker interface {
	Acquire(ctx context.Context, userID string) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker holds a SET NX PX key per user. The TTL bounds how long a
// crashed process can block a user.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Open parses a redis:// URL, pings the server and returns a locker that
// owns the client.
func Open(ctx context.Context, url string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return NewRedisLocker(client, ttl), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, userID string) (Lease, error) {
	key := keyPrefix + userID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, userID)
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// LocalLocker is the in-process fallback when Redis is not configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, userID string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[userID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, userID)
	}
	l.held[userID] = struct{}{}
	return &localLease{owner: l, userID: userID}, nil
}

type localLease struct {
	owner  *LocalLocker
	userID string
	once   sync.Once
}

func (l *localLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.userID)
		l.owner.mu.Unlock()
	})
	return nil
}
