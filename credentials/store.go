package credentials

import (
	"context"
	"errors"
)

// Well-known store keys.
const (
	KeyAPIToken    = "api_token"
	KeyWebhookURL  = "webhook_url"
	KeyServerToken = "server_token"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("credentials: not found")

// ErrReadOnly is returned by Set and Delete on stores that cannot write.
var ErrReadOnly = errors.New("credentials: store is read-only")

// Store is an opaque key/value secret vault. Concrete adapters may sit on a
// local file, environment variables, an OS keychain, or a remote vault; the
// rest of the program never depends on which.
type Store interface {
	// Get returns the secret for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores the secret for key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the secret for key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error
}
