package driven

import (
	"context"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

// MetafieldClient defines the driven port for the commerce platform's
// per-product metafield API. Every call is one independent round trip; the
// remote side offers no multi-field atomicity and the client never retries.
type MetafieldClient interface {
	// GetField returns the raw text value of a metafield. found is false (and
	// err nil) when the field does not exist. Transport failures and
	// non-success responses are returned as *model.RemoteError.
	GetField(ctx context.Context, cred model.Credential, ref model.MetafieldRef) (value string, found bool, err error)

	// SetField creates or replaces a metafield. A non-success response is
	// returned as *model.RemoteError carrying the remote status and body.
	SetField(ctx context.Context, cred model.Credential, field model.Metafield) error
}
