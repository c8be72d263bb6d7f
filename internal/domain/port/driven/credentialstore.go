// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// RATINGSYNC_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set RATINGSYNC_SECRET_KEY")

// CredentialStore defines the driven port for durable per-shop credential
// persistence. The adapter layer is responsible for encryption at rest; this
// interface operates on plaintext values at the domain boundary.
type CredentialStore interface {
	// Save stores or replaces the credential for cred.ShopDomain. Concurrent
	// saves for the same shop are last-write-wins.
	Save(ctx context.Context, cred model.Credential) error

	// Load retrieves the credential for the given shop.
	// Returns (nil, nil) if the shop has never been authorized.
	Load(ctx context.Context, shop string) (*model.Credential, error)
}

// StateStore persists the single-use nonces issued at the start of an OAuth
// install so the callback can prove it answers a request we made.
type StateStore interface {
	// Put records a nonce for a shop until state.ExpiresAt.
	Put(ctx context.Context, state model.OAuthState) error

	// Consume deletes the nonce and reports whether it existed for that shop
	// and had not expired at now. A nonce can be consumed at most once.
	Consume(ctx context.Context, shop, nonce string, now time.Time) (bool, error)
}
