package channelsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSyncInProgress is returned when another run holds the tenant's lock.
var ErrSyncInProgress = errors.New("a sync is already running for this tenant")

// ErrLockLost is returned by Extend when the lease expired and the key is
// gone or held by someone else.
var ErrLockLost = errors.New("sync lock lost")

// Lease is a held tenant lock. Extend pushes the expiry out to ttl from now.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}

// Locker serializes sync runs per tenant.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// releaseScript deletes the key only if it still holds our token, so a run
// whose lock expired cannot release a newer run's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript renews the key only while it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds the lock in Redis so it spans every API instance.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "tourdesk:lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	return &redisLease{client: l.client, key: full, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (r *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, r.client, []string{r.key}, r.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend sync lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (r *redisLease) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		logrus.WithError(err).WithField("key", r.key).Warn("Failed to release sync lock")
	}
}

// MemoryLocker is the in-process fallback when Redis is unavailable. A lease
// past its expiry can be taken over; Extend keeps a live run's lease fresh.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]*memoryLease
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]*memoryLease{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && (ttl <= 0 || now.Before(cur.expires)) {
		return nil, ErrSyncInProgress
	}
	lease := &memoryLease{locker: l, key: key, expires: now.Add(ttl)}
	l.held[key] = lease
	return lease, nil
}

type memoryLease struct {
	locker  *MemoryLocker
	key     string
	expires time.Time
	once    sync.Once
}

func (m *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[m.key] != m {
		return ErrLockLost
	}
	m.expires = l.now().Add(ttl)
	return nil
}

func (m *memoryLease) Release() {
	m.once.Do(func() {
		l := m.locker
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[m.key] == m {
			delete(l.held, m.key)
		}
	})
}
