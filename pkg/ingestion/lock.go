package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
)

const (
	LockBackendNone  = "none"
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Locker serialises imports that share a patient id, so concurrent uploads for a
// new patient do not each create their own Patient row.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func patientLockKey(patientID string) string {
	return "dicom:import:patient:" + patientID
}

type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// LocalLocker is a per-key mutex for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.release(key, entry)
		})
	}, nil
}

func (l *LocalLocker) release(key string, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker coordinates imports across replicas with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("acquiring lock %s: %w", key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				logger.Log.WithError(err).WithField("lock_key", key).Warn("failed to release import lock")
			}
		})
	}, nil
}

// NewLocker builds the Locker named by backend. The redis client is only
// required for the redis backend.
func NewLocker(backend string, client *redis.Client, ttl time.Duration) (Locker, error) {
	switch backend {
	case LockBackendNone, "":
		return NoopLocker{}, nil
	case LockBackendLocal:
		return NewLocalLocker(), nil
	case LockBackendRedis:
		if client == nil {
			return nil, errors.New("redis lock backend requires a redis client")
		}
		return NewRedisLocker(client, ttl), nil
	default:
		return nil, fmt.Errorf("unsupported import lock backend %q", backend)
	}
}
