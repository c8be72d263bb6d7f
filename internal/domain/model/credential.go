package model

import (
	"regexp"
	"strings"
	"time"
)

// Credential is the OAuth access token a shop granted this app. There is at
// most one per shop; re-authorizing replaces it.
type Credential struct {
	ShopDomain  string
	AccessToken string
	Scope       string
	UpdatedAt   time.Time
}

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*\.myshopify\.com$`)

// NormalizeShopDomain trims and lowercases shop. Credentials, OAuth states
// and storefront lookups are all keyed by the normalized form.
func NormalizeShopDomain(shop string) string {
	return strings.ToLower(strings.TrimSpace(shop))
}

// ValidateShopDomain checks that shop looks like "name.myshopify.com". It
// expects a normalized domain; uppercase input is rejected.
func ValidateShopDomain(shop string) error {
	if shop == "" {
		return &ValidationError{Field: "shop", Reason: "is required"}
	}
	if !shopDomainPattern.MatchString(shop) {
		return &ValidationError{Field: "shop", Reason: "must be a *.myshopify.com domain"}
	}
	return nil
}

// OAuthState is a single-use nonce issued when an install flow starts.
type OAuthState struct {
	ShopDomain string
	Nonce      string
	ExpiresAt  time.Time
}
