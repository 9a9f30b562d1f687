package credentials

import (
	"context"
	"os"
	"strings"
)

// EnvStore reads secrets from environment variables. Keys are upper-cased
// and prefixed, so KeyAPIToken maps to DNSPAUSE_API_TOKEN. The store is
// read-only.
type EnvStore struct {
	prefix string
}

// NewEnvStore creates an environment-backed store with the given variable
// prefix, e.g. "DNSPAUSE".
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{prefix: prefix}
}

// Get returns the secret from the mapped environment variable.
func (s *EnvStore) Get(_ context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(s.varName(key))
	if !ok || val == "" {
		return "", ErrNotFound
	}
	return val, nil
}

// Set is unsupported; the environment is read-only.
func (s *EnvStore) Set(_ context.Context, _, _ string) error {
	return ErrReadOnly
}

// Delete is unsupported; the environment is read-only.
func (s *EnvStore) Delete(_ context.Context, _ string) error {
	return ErrReadOnly
}

func (s *EnvStore) varName(key string) string {
	name := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if s.prefix == "" {
		return name
	}
	return s.prefix + "_" + name
}
