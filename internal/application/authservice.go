package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

// ErrCallbackRejected is returned by Complete when the callback signature or
// state nonce does not check out.
var ErrCallbackRejected = errors.New("authorization callback rejected")

// DefaultStateTTL bounds how long a merchant has to approve the install.
const DefaultStateTTL = 10 * time.Minute

// AuthOptions tunes AuthService behaviour.
type AuthOptions struct {
	// VerifyCallback requires a valid hmac and an unused, unexpired state
	// nonce on every callback.
	VerifyCallback bool
	StateTTL       time.Duration
}

// CallbackRequest carries the query of an OAuth redirect back to the app.
type CallbackRequest struct {
	Shop   string
	Code   string
	State  string
	Params url.Values
}

// AuthService runs the authorization-code install flow and stores the
// resulting credential. A shop is Authorized exactly when the credential
// store holds a credential for it.
type AuthService struct {
	provider driven.OAuthProvider
	states   driven.StateStore
	creds    driven.CredentialStore
	opts     AuthOptions
	logger   *slog.Logger
	now      func() time.Time
	newNonce func() string
}

// NewAuthService creates an AuthService. creds should be the same
// CredentialCache the RatingService reads from.
func NewAuthService(
	provider driven.OAuthProvider,
	states driven.StateStore,
	creds driven.CredentialStore,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if opts.StateTTL <= 0 {
		opts.StateTTL = DefaultStateTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		provider: provider,
		states:   states,
		creds:    creds,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newNonce: uuid.NewString,
	}
}

// Begin issues a state nonce for shop and returns the consent URL to
// redirect the merchant to.
func (s *AuthService) Begin(ctx context.Context, shop string) (string, error) {
	shop = model.NormalizeShopDomain(shop)
	if err := model.ValidateShopDomain(shop); err != nil {
		return "", err
	}

	state := model.OAuthState{
		ShopDomain: shop,
		Nonce:      s.newNonce(),
		ExpiresAt:  s.now().Add(s.opts.StateTTL),
	}
	if err := s.states.Put(ctx, state); err != nil {
		return "", fmt.Errorf("storing oauth state: %w", err)
	}

	s.logger.Info("oauth install started", "shop", shop)
	return s.provider.AuthorizeURL(shop, state.Nonce), nil
}

// Complete verifies the callback, exchanges the code and stores the
// credential, replacing any previous one for the shop. On any failure the
// shop's authorization state is left unchanged.
func (s *AuthService) Complete(ctx context.Context, req CallbackRequest) (*model.Credential, error) {
	req.Shop = model.NormalizeShopDomain(req.Shop)
	if req.Shop == "" || req.Code == "" {
		return nil, &model.ValidationError{Field: "shop/code", Reason: "are required"}
	}
	if err := model.ValidateShopDomain(req.Shop); err != nil {
		return nil, err
	}

	if s.opts.VerifyCallback {
		if err := s.verify(ctx, req); err != nil {
			return nil, err
		}
	}

	cred, err := s.provider.Exchange(ctx, req.Shop, req.Code)
	if err != nil {
		s.logger.Error("oauth code exchange failed", "shop", req.Shop, "error", err)
		return nil, err
	}
	cred.ShopDomain = req.Shop

	if err := s.creds.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("saving credential: %w", err)
	}

	s.logger.Info("shop authorized", "shop", req.Shop, "scope", cred.Scope)
	return &cred, nil
}

func (s *AuthService) verify(ctx context.Context, req CallbackRequest) error {
	if err := s.provider.VerifyCallback(req.Params); err != nil {
		s.logger.Warn("oauth callback signature rejected", "shop", req.Shop, "error", err)
		return fmt.Errorf("%w: %v", ErrCallbackRejected, err)
	}

	if req.State == "" {
		return fmt.Errorf("%w: missing state", ErrCallbackRejected)
	}
	ok, err := s.states.Consume(ctx, req.Shop, req.State, s.now())
	if err != nil {
		return fmt.Errorf("consuming oauth state: %w", err)
	}
	if !ok {
		s.logger.Warn("oauth callback state unknown or expired", "shop", req.Shop)
		return fmt.Errorf("%w: unknown or expired state", ErrCallbackRejected)
	}
	return nil
}
