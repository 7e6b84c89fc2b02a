package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"decoration-service/internal/redisclient"
	"decoration-service/internal/util"

	"go.uber.org/zap"
)

// DistributedLocker is a cross-instance lease lock, implemented by redisclient.Client
type DistributedLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*redisclient.Lease, error)
	Release(ctx context.Context, lease *redisclient.Lease) (bool, error)
	Extend(ctx context.Context, lease *redisclient.Lease) (bool, error)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// keyedMutex serializes callers per key. Waiting honours ctx.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *keyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Locks hands out the serialization points of the service: one per component
// and one per order for the status rollup. When a DistributedLocker is set,
// the local lock is backed by a lease so other instances sharing the
// database are excluded too.
type Locks struct {
	local  *keyedMutex
	remote DistributedLocker
	ttl    time.Duration
	logger *zap.Logger
}

// NewLocks creates the lock set. remote may be nil for single-instance use.
func NewLocks(remote DistributedLocker, ttl time.Duration) *Locks {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locks{
		local:  newKeyedMutex(),
		remote: remote,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Component locks one component key
func (l *Locks) Component(ctx context.Context, key string) (func(), error) {
	return l.acquire(ctx, "component:"+key)
}

// Order locks the status rollup of one order. Always taken after a
// component lock, never before.
func (l *Locks) Order(ctx context.Context, orderNumber string) (func(), error) {
	return l.acquire(ctx, "order:"+orderNumber)
}

func (l *Locks) acquire(ctx context.Context, name string) (func(), error) {
	start := time.Now()
	defer func() {
		util.LockWaitLatency.Observe(time.Since(start).Seconds())
	}()

	unlock, err := l.local.lock(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	if l.remote == nil {
		return unlock, nil
	}

	lease, err := l.remote.Acquire(ctx, name, l.ttl)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go l.renew(name, lease, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if ok, err := l.remote.Release(ctx, lease); err != nil || !ok {
				l.logger.Warn("Lease was not released cleanly",
					zap.String("lock", name),
					zap.Bool("released", ok),
					zap.Error(err))
			}
			unlock()
		})
	}, nil
}

// renew keeps a held lease alive by extending it every third of its TTL
// until stop is closed or the lease is lost.
func (l *Locks) renew(name string, lease *redisclient.Lease, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
		ok, err := l.remote.Extend(ctx, lease)
		cancel()
		if err != nil {
			l.logger.Warn("Failed to extend lease", zap.String("lock", name), zap.Error(err))
			continue
		}
		if !ok {
			l.logger.Error("Lease lost while held", zap.String("lock", name))
			return
		}
	}
}
