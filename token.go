package dnspause

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// TokenPrefix is the fixed literal prefix all API tokens carry.
	TokenPrefix = "api."

	// minTokenLen and maxTokenLen bound the accepted token length,
	// prefix included.
	minTokenLen = 12
	maxTokenLen = 128
)

// ErrInvalidCredential is returned when a token fails client-side format
// validation. No network call is made for an invalid token.
var ErrInvalidCredential = errors.New("invalid credential")

// ValidateToken checks the client-side format constraints on an API token:
// non-empty, fixed prefix, bounded length. It does not verify the token
// against the service; that only happens on the first authenticated request.
func ValidateToken(token string) error {
	switch {
	case token == "":
		return fmt.Errorf("%w: token is empty", ErrInvalidCredential)
	case !strings.HasPrefix(token, TokenPrefix):
		return fmt.Errorf("%w: token must start with %q", ErrInvalidCredential, TokenPrefix)
	case len(token) < minTokenLen:
		return fmt.Errorf("%w: token shorter than %d characters", ErrInvalidCredential, minTokenLen)
	case len(token) > maxTokenLen:
		return fmt.Errorf("%w: token longer than %d characters", ErrInvalidCredential, maxTokenLen)
	}
	return nil
}

// Fingerprint returns a short stable identifier for a token, safe to put in
// logs and metric labels. The raw token must never be logged.
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
