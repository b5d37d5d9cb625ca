package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	lockRetryDelay       = time.Second
	lockCommandTimeout   = 5 * time.Second
)

// ErrLockHeld is returned by AcquireLock when another holder owns the key.
var ErrLockHeld = errors.New("support: lock is held by another process")

var (
	errLockLost = errors.New("support: lock lost")

	lockCounter atomic.Uint64

	// Both scripts only touch the key while it still carries our value.
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// Lock is a held Redis key. Its context is cancelled when the key is lost or
// released.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// AcquireLock makes a single attempt to take key. It returns ErrLockHeld
// without waiting when somebody else owns it.
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	if client == nil {
		return nil, ErrRedisDisabled
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}
	return tryLock(ctx, client, key, ttl)
}

// RunWithLeader blocks until it holds key, then calls run with a context that
// ends when leadership is lost. After run returns the key is released and the
// election starts over until ctx is done.
func RunWithLeader(ctx context.Context, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	client, err := GetRedisClient()
	if err != nil {
		return fmt.Errorf("support: leader lock redis client: %w", err)
	}

	for {
		lock, err := tryLock(ctx, client, key, ttl)
		switch {
		case ctx.Err() != nil:
			if lock != nil {
				lock.Release()
			}
			return ctx.Err()
		case errors.Is(err, ErrLockHeld):
		case err != nil:
			log.Warn("leader lock: failed to acquire", "key", key, "error", err)
		default:
			log.Debug("leader lock: acquired", "key", key)
			run(lock.Context())
			lock.Release()
			log.Debug("leader lock: released", "key", key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func tryLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	value := lockValue()
	ok, err := client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("support: setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	lockCtx, cancel := context.WithCancel(ctx)
	lock := &Lock{
		client:  client,
		key:     key,
		value:   value,
		ttl:     ttl,
		ctx:     lockCtx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go lock.keepAlive()
	return lock, nil
}

func (l *Lock) Context() context.Context {
	return l.ctx
}

// Release deletes the key if it is still ours. It is safe to call twice.
func (l *Lock) Release() {
	l.once.Do(func() {
		close(l.stopped)
		if err := l.runScript(releaseScript); err != nil && !errors.Is(err, errLockLost) {
			log.Warn("leader lock: release failed", "key", l.key, "error", err)
		}
		l.cancel()
	})
}

// keepAlive extends the key three times per ttl.
func (l *Lock) keepAlive() {
	ticker := time.NewTicker(max(l.ttl/3, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-l.stopped:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.runScript(renewScript, l.ttl.Milliseconds()); err != nil {
				log.Warn("leader lock: renewal failed", "key", l.key, "error", err)
				l.cancel()
				return
			}
		}
	}
}

func (l *Lock) runScript(script *redis.Script, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockCommandTimeout)
	defer cancel()

	res, err := script.Run(ctx, l.client, []string{l.key}, append([]any{l.value}, args...)...).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if res == 0 {
		return errLockLost
	}
	return nil
}

func lockValue() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), lockCounter.Add(1))
}
