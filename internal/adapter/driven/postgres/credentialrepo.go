package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ericfisherdev/ratingsync/internal/adapter/driven/secretbox"
	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the PostgreSQL implementation of driven.CredentialStore.
type CredentialRepo struct {
	store *Store
	box   *secretbox.Box
}

// NewCredentialRepo creates a CredentialRepo on the given store.
func NewCredentialRepo(store *Store, box *secretbox.Box) *CredentialRepo {
	return &CredentialRepo{store: store, box: box}
}

// Save upserts the credential for cred.ShopDomain; last write wins.
func (r *CredentialRepo) Save(ctx context.Context, cred model.Credential) error {
	sealed, err := r.box.Seal(cred.AccessToken)
	if err != nil {
		return err
	}

	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
		INSERT INTO credentials (shop_domain, access_token, scope, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (shop_domain) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			scope = EXCLUDED.scope,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.store.pool.Exec(ctx, query, cred.ShopDomain, sealed, cred.Scope, updatedAt.UTC()); err != nil {
		return fmt.Errorf("save credential %q: %w", cred.ShopDomain, err)
	}
	return nil
}

// Load returns (nil, nil) when the shop has no credential.
func (r *CredentialRepo) Load(ctx context.Context, shop string) (*model.Credential, error) {
	const query = `SELECT shop_domain, access_token, scope, updated_at FROM credentials WHERE shop_domain = $1`

	var cred model.Credential
	var sealed string
	err := r.store.pool.QueryRow(ctx, query, shop).Scan(&cred.ShopDomain, &sealed, &cred.Scope, &cred.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %q: %w", shop, err)
	}

	cred.AccessToken, err = r.box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %q: %w", shop, err)
	}
	cred.UpdatedAt = cred.UpdatedAt.UTC()

	return &cred, nil
}
