package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/ratingsync/internal/adapter/driven/secretbox"
	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Access tokens are sealed with AES-256-GCM before write and opened after read.
type CredentialRepo struct {
	db  *DB
	box *secretbox.Box
}

// NewCredentialRepo creates a new CredentialRepo. A Box built without a key
// makes every operation return driven.ErrEncryptionKeyNotSet.
func NewCredentialRepo(db *DB, box *secretbox.Box) *CredentialRepo {
	return &CredentialRepo{db: db, box: box}
}

// Save stores or replaces the credential for cred.ShopDomain.
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
		VALUES (?, ?, ?, ?)
		ON CONFLICT(shop_domain) DO UPDATE SET
			access_token = excluded.access_token,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`
	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.ShopDomain, sealed, cred.Scope, updatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save credential %q: %w", cred.ShopDomain, err)
	}
	return nil
}

// Load retrieves the credential for the given shop.
// Returns (nil, nil) if no credential exists for that shop.
func (r *CredentialRepo) Load(ctx context.Context, shop string) (*model.Credential, error) {
	const query = `SELECT shop_domain, access_token, scope, updated_at FROM credentials WHERE shop_domain = ?`

	var cred model.Credential
	var sealed, updatedAt string
	err := r.db.Reader.QueryRowContext(ctx, query, shop).Scan(&cred.ShopDomain, &sealed, &cred.Scope, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %q: %w", shop, err)
	}

	cred.AccessToken, err = r.box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %q: %w", shop, err)
	}

	cred.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for credential %q: %w", shop, err)
	}

	return &cred, nil
}
