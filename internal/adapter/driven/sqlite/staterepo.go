package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StateStore = (*StateRepo)(nil)

// StateRepo is the SQLite implementation of the StateStore port interface.
type StateRepo struct {
	db *DB
}

// NewStateRepo creates a new StateRepo backed by the given DB.
func NewStateRepo(db *DB) *StateRepo {
	return &StateRepo{db: db}
}

// Put records a nonce. Expired rows are swept on the same write so the table
// stays bounded without a background job.
func (r *StateRepo) Put(ctx context.Context, state model.OAuthState) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put oauth state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, time.Now().Unix()); err != nil {
		return fmt.Errorf("sweep oauth states: %w", err)
	}

	const query = `INSERT INTO oauth_states (nonce, shop_domain, expires_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, state.Nonce, state.ShopDomain, state.ExpiresAt.Unix()); err != nil {
		return fmt.Errorf("put oauth state for %q: %w", state.ShopDomain, err)
	}

	return tx.Commit()
}

// Consume deletes the nonce and reports whether it was valid for shop at now.
func (r *StateRepo) Consume(ctx context.Context, shop, nonce string, now time.Time) (bool, error) {
	const query = `DELETE FROM oauth_states WHERE nonce = ? AND shop_domain = ? AND expires_at > ?`

	result, err := r.db.Writer.ExecContext(ctx, query, nonce, shop, now.Unix())
	if err != nil {
		return false, fmt.Errorf("consume oauth state for %q: %w", shop, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume oauth state rows affected: %w", err)
	}
	return n == 1, nil
}
