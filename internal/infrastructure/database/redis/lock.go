package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeConflict, "lock is held elsewhere")
	ErrLockNotHeld     = errors.New(errors.ErrCodeConflict, "lock not held by this owner")
)

// DistributedLock is a single-owner lock with a TTL. The worker takes one
// per document id so redelivered messages are not extracted twice at once.
type DistributedLock interface {
	Lock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
	TTL(ctx context.Context) (time.Duration, error)
}

// LockFactory creates named locks.
type LockFactory interface {
	NewMutex(name string, opts ...LockOption) DistributedLock
}

type LockOption func(*lockConfig)

func WithLockTTL(ttl time.Duration) LockOption {
	return func(c *lockConfig) { c.ttl = ttl }
}

func WithRetryDelay(delay time.Duration) LockOption {
	return func(c *lockConfig) { c.retryDelay = delay }
}

func WithRetryCount(count int) LockOption {
	return func(c *lockConfig) { c.retryCount = count }
}

// WithWatchdog keeps extending the lock while it is held.
func WithWatchdog(interval time.Duration) LockOption {
	return func(c *lockConfig) { c.watchdogInterval = interval }
}

type lockConfig struct {
	ttl              time.Duration
	retryDelay       time.Duration
	retryCount       int
	watchdogInterval time.Duration
}

type redisLockFactory struct {
	client *Client
	logger logging.Logger
}

func NewLockFactory(client *Client, log logging.Logger) LockFactory {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &redisLockFactory{client: client, logger: log}
}

func (f *redisLockFactory) NewMutex(name string, opts ...LockOption) DistributedLock {
	cfg := lockConfig{
		ttl:        30 * time.Second,
		retryDelay: 100 * time.Millisecond,
		retryCount: 30,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	prefix := f.client.config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &redisMutex{
		client: f.client,
		key:    prefix + "lock:" + name,
		value:  uuid.New().String(),
		config: cfg,
		logger: f.logger.With(logging.String("lock", name)),
	}
}

type redisMutex struct {
	client         *Client
	key            string
	value          string
	config         lockConfig
	logger         logging.Logger
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (m *redisMutex) Lock(ctx context.Context) error {
	for i := 0; i < m.config.retryCount; i++ {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "waiting for lock")
		case <-time.After(m.config.retryDelay):
		}
	}
	return ErrLockNotAcquired
}

func (m *redisMutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.key, m.value, m.config.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "acquire lock")
	}
	if ok && m.config.watchdogInterval > 0 {
		m.startWatchdog()
	}
	return ok, nil
}

func (m *redisMutex) Unlock(ctx context.Context) error {
	m.stopWatchdog()
	res, err := unlockScript.Run(ctx, m.client.Underlying(), []string{m.key}, m.value).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "release lock")
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (m *redisMutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, m.client.Underlying(), []string{m.key}, m.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "extend lock")
	}
	return res == 1, nil
}

func (m *redisMutex) TTL(ctx context.Context) (time.Duration, error) {
	return m.client.PTTL(ctx, m.key).Result()
}

func (m *redisMutex) startWatchdog() {
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogCancel = cancel
	m.watchdogDone = make(chan struct{})
	go m.watchdog(ctx)
}

func (m *redisMutex) stopWatchdog() {
	if m.watchdogCancel == nil {
		return
	}
	m.watchdogCancel()
	<-m.watchdogDone
	m.watchdogCancel = nil
}

func (m *redisMutex) watchdog(ctx context.Context) {
	defer close(m.watchdogDone)
	ticker := time.NewTicker(m.config.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.Extend(ctx, m.config.ttl)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Error("lock watchdog failed to extend", logging.Err(err))
				}
				return
			}
			if !ok {
				m.logger.Warn("lock watchdog lost the lock")
				return
			}
		}
	}
}
