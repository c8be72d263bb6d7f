package application

import (
	"context"
	"sync"
)

// productLocks serializes read-modify-write cycles per key within this
// process. Entries are reference counted and dropped when the last holder
// or waiter leaves, so the table only ever holds keys in active use.
type productLocks struct {
	mu    sync.Mutex
	locks map[string]*productLock
}

type productLock struct {
	sem  chan struct{}
	refs int
}

func newProductLocks() *productLocks {
	return &productLocks{locks: make(map[string]*productLock)}
}

// acquire blocks until key is free or ctx is done. The returned release must
// be called exactly once when acquire succeeds.
func (p *productLocks) acquire(ctx context.Context, key string) (func(), error) {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &productLock{sem: make(chan struct{}, 1)}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		p.drop(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			p.drop(key, l)
		})
	}, nil
}

func (p *productLocks) drop(key string, l *productLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, key)
	}
}

func (p *productLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
