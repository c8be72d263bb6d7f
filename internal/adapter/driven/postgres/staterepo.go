package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

var _ driven.StateStore = (*StateRepo)(nil)

// StateRepo is the PostgreSQL implementation of driven.StateStore.
type StateRepo struct {
	store *Store
}

// NewStateRepo creates a StateRepo on the given store.
func NewStateRepo(store *Store) *StateRepo {
	return &StateRepo{store: store}
}

// Put records a nonce and sweeps expired ones in the same transaction.
func (r *StateRepo) Put(ctx context.Context, state model.OAuthState) error {
	err := pgx.BeginFunc(ctx, r.store.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= now()`); err != nil {
			return fmt.Errorf("sweep oauth states: %w", err)
		}
		const query = `INSERT INTO oauth_states (nonce, shop_domain, expires_at) VALUES ($1, $2, $3)`
		if _, err := tx.Exec(ctx, query, state.Nonce, state.ShopDomain, state.ExpiresAt.UTC()); err != nil {
			return fmt.Errorf("put oauth state for %q: %w", state.ShopDomain, err)
		}
		return nil
	})
	return err
}

// Consume deletes the nonce and reports whether it was valid for shop at now.
func (r *StateRepo) Consume(ctx context.Context, shop, nonce string, now time.Time) (bool, error) {
	const query = `DELETE FROM oauth_states WHERE nonce = $1 AND shop_domain = $2 AND expires_at > $3`

	tag, err := r.store.pool.Exec(ctx, query, nonce, shop, now.UTC())
	if err != nil {
		return false, fmt.Errorf("consume oauth state for %q: %w", shop, err)
	}
	return tag.RowsAffected() == 1, nil
}
