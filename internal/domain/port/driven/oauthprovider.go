package driven

import (
	"context"
	"net/url"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

// OAuthProvider defines the driven port for the platform's authorization-code
// grant.
type OAuthProvider interface {
	// AuthorizeURL returns the consent screen URL the merchant is redirected to.
	AuthorizeURL(shop, state string) string

	// Exchange trades a one-time authorization code for a long-lived access
	// token. It is never retried.
	Exchange(ctx context.Context, shop, code string) (model.Credential, error)

	// VerifyCallback checks the signature the platform attaches to the
	// callback query string.
	VerifyCallback(params url.Values) error
}
