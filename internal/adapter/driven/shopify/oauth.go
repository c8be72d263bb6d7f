package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

var _ driven.OAuthProvider = (*OAuth)(nil)

// ErrInvalidSignature is returned by VerifyCallback when the hmac parameter
// is missing or does not match.
var ErrInvalidSignature = errors.New("callback signature invalid")

// OAuthConfig holds the app credentials issued by the Partner Dashboard.
type OAuthConfig struct {
	APIKey      string
	APISecret   string
	Scopes      []string
	RedirectURL string
}

// OAuth implements driven.OAuthProvider using golang.org/x/oauth2 with
// per-shop endpoints.
type OAuth struct {
	cfg        OAuthConfig
	httpClient *http.Client
	shopURL    func(shop string) string
}

// NewOAuth creates an OAuth provider that talks to https://{shop}.
func NewOAuth(cfg OAuthConfig, httpClient *http.Client) *OAuth {
	return &OAuth{
		cfg:        cfg,
		httpClient: httpClient,
		shopURL:    func(shop string) string { return "https://" + shop },
	}
}

// NewOAuthWithBaseURL routes every shop to baseURL. Intended for tests.
func NewOAuthWithBaseURL(cfg OAuthConfig, httpClient *http.Client, baseURL string) *OAuth {
	return &OAuth{
		cfg:        cfg,
		httpClient: httpClient,
		shopURL:    func(string) string { return baseURL },
	}
}

func (o *OAuth) config(shop string) *oauth2.Config {
	base := o.shopURL(shop)
	return &oauth2.Config{
		ClientID:     o.cfg.APIKey,
		ClientSecret: o.cfg.APISecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: o.cfg.RedirectURL,
		// Shopify wants a comma-separated scope list; oauth2 joins with spaces.
		Scopes: []string{strings.Join(o.cfg.Scopes, ",")},
	}
}

// AuthorizeURL returns the consent screen URL for shop.
func (o *OAuth) AuthorizeURL(shop, state string) string {
	return o.config(shop).AuthCodeURL(state)
}

// Exchange trades the authorization code for a permanent access token.
func (o *OAuth) Exchange(ctx context.Context, shop, code string) (model.Credential, error) {
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}

	tok, err := o.config(shop).Exchange(ctx, code)
	if err != nil {
		return model.Credential{}, fmt.Errorf("exchange code for %s: %w", shop, err)
	}

	scope, _ := tok.Extra("scope").(string)
	return model.Credential{
		ShopDomain:  shop,
		AccessToken: tok.AccessToken,
		Scope:       scope,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// VerifyCallback checks the hmac query parameter: HMAC-SHA256, keyed with the
// app secret, over every other parameter sorted by key and joined as k=v&k=v.
func (o *OAuth) VerifyCallback(params url.Values) error {
	got, err := hex.DecodeString(params.Get("hmac"))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(o.cfg.APISecret))
	mac.Write([]byte(signedMessage(params)))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignCallback computes the hmac value for params. Used by tests and local
// tooling that need to fake a platform callback.
func SignCallback(secret string, params url.Values) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedMessage(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

func signedMessage(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(params[k], ","))
	}
	return strings.Join(parts, "&")
}
