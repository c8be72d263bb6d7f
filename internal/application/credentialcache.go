package application

import (
	"context"
	"sync"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

var _ driven.CredentialStore = (*CredentialCache)(nil)

// CacheObserver is notified of credential cache hits and misses.
type CacheObserver interface {
	CredentialCacheHit()
	CredentialCacheMiss()
}

type nopCacheObserver struct{}

func (nopCacheObserver) CredentialCacheHit()  {}
func (nopCacheObserver) CredentialCacheMiss() {}

// CredentialCache keeps one credential per shop in memory in front of a
// durable CredentialStore. Reads are served from memory after the first
// load; Save writes through to the store before updating memory so a crash
// never leaves the cache ahead of disk. Absence is not cached, so a shop
// that installs after a miss is picked up on the next request.
type CredentialCache struct {
	mu       sync.RWMutex
	store    driven.CredentialStore
	creds    map[string]model.Credential
	observer CacheObserver
}

// NewCredentialCache wraps store. observer may be nil.
func NewCredentialCache(store driven.CredentialStore, observer CacheObserver) *CredentialCache {
	if observer == nil {
		observer = nopCacheObserver{}
	}
	return &CredentialCache{
		store:    store,
		creds:    make(map[string]model.Credential),
		observer: observer,
	}
}

// Load returns the credential for shop, or (nil, nil) if it has none.
func (c *CredentialCache) Load(ctx context.Context, shop string) (*model.Credential, error) {
	c.mu.RLock()
	cred, ok := c.creds[shop]
	c.mu.RUnlock()
	if ok {
		c.observer.CredentialCacheHit()
		return &cred, nil
	}
	c.observer.CredentialCacheMiss()

	loaded, err := c.store.Load(ctx, shop)
	if err != nil || loaded == nil {
		return nil, err
	}

	c.mu.Lock()
	// A Save that raced this load wins; keep its value.
	if existing, ok := c.creds[shop]; ok {
		c.mu.Unlock()
		return &existing, nil
	}
	c.creds[shop] = *loaded
	c.mu.Unlock()

	out := *loaded
	return &out, nil
}

// Save persists cred and then replaces the cached copy.
func (c *CredentialCache) Save(ctx context.Context, cred model.Credential) error {
	if err := c.store.Save(ctx, cred); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[cred.ShopDomain] = cred
	return nil
}

// Evict drops the cached credential for shop. The next Load reads the store
// again, picking up a token another replica saved.
func (c *CredentialCache) Evict(shop string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, shop)
}

// Cached reports whether shop currently has a credential in memory.
func (c *CredentialCache) Cached(shop string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.creds[shop]
	return ok
}
