package lock

import (
	"context"
	"sync"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
)

// Locker grants exclusive ownership of a string key. Acquire blocks until
// the key is free or ctx is done; the returned release function is
// idempotent.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// New returns the locker selected by the configuration: Redis-backed when
// enabled, otherwise the in-process locker.
func New(cfg Config, log *logger.Logger) (Locker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("lock", err.Error()).WithCause(err)
	}
	if cfg.Enabled {
		return NewRedis(cfg, log)
	}
	return NewLocal(), nil
}

// Local serializes key owners within one process.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*localEntry)}
}

// Acquire blocks until the key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, errors.Timeout("acquire lock " + key).WithCause(ctx.Err())
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}
	return release, nil
}

func (l *Local) unref(key string, e *localEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}
