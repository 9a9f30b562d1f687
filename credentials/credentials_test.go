package credentials

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dnspause/dnspause"
)

const testToken = "api.test-token-12345"

func TestResolveReaderPlainJSON(t *testing.T) {
	input := `{"api_token": "` + testToken + `", "webhook_url": "https://hooks.example.com/x"}`

	r := NewResolver()
	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, testToken, creds.APIToken)
	require.Equal(t, "https://hooks.example.com/x", creds.WebhookURL)
	require.Empty(t, creds.ServerToken)
}

func TestResolveReaderEnvFunction(t *testing.T) {
	t.Setenv("TEST_DNSPAUSE_TOKEN", testToken)

	input := `{"api_token": "{{ env "TEST_DNSPAUSE_TOKEN" }}"}`

	r := NewResolver()
	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, testToken, creds.APIToken)
}

func TestResolveReaderEnvMissing(t *testing.T) {
	input := `{"api_token": "{{ env "TEST_DNSPAUSE_DOES_NOT_EXIST" }}"}`

	r := NewResolver()
	_, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	require.ErrorContains(t, err, "TEST_DNSPAUSE_DOES_NOT_EXIST")
}

func TestResolveReaderEnvDefault(t *testing.T) {
	input := `{"api_token": "{{ envDefault "TEST_DNSPAUSE_DOES_NOT_EXIST" "` + testToken + `" }}"}`

	r := NewResolver()
	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, testToken, creds.APIToken)
}

func TestResolveReaderFileFunction(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(secretPath, []byte(testToken+"\n"), 0o600))

	input := `{"api_token": "{{ file "` + secretPath + `" }}"}`

	r := NewResolver()
	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, testToken, creds.APIToken)
}

func TestResolveReaderProviderMemoized(t *testing.T) {
	calls := 0
	r := NewResolver(WithProvider("vault", func(_ context.Context, ref string) (string, error) {
		calls++
		return testToken, nil
	}))

	input := `{"api_token": "{{ vault "token" }}", "server_token": "{{ vault "token" }}"}`

	creds, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, testToken, creds.APIToken)
	require.Equal(t, testToken, creds.ServerToken)
	require.Equal(t, 1, calls)
}

func TestResolveReaderRejectsInvalidToken(t *testing.T) {
	input := `{"api_token": "wrong-prefix-token"}`

	r := NewResolver()
	_, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.ErrorIs(t, err, dnspause.ErrInvalidCredential)
}

func TestResolveReaderRejectsOversizedInput(t *testing.T) {
	input := strings.Repeat("x", maxInputSize+1)

	r := NewResolver()
	_, err := r.ResolveReader(context.Background(), strings.NewReader(input))
	require.ErrorContains(t, err, "maximum size")
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_token": "`+testToken+`"}`), 0o600))

	r := NewResolver()
	creds, err := r.ResolveFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, testToken, creds.APIToken)

	_, err = r.ResolveFile(context.Background(), filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault", "secrets.json")
	store := NewFileStore(path)

	_, err := store.Get(ctx, KeyAPIToken)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, KeyAPIToken, testToken))

	val, err := store.Get(ctx, KeyAPIToken)
	require.NoError(t, err)
	require.Equal(t, testToken, val)

	// The vault file is not world-readable.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete(ctx, KeyAPIToken))
	_, err = store.Get(ctx, KeyAPIToken)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is fine.
	require.NoError(t, store.Delete(ctx, KeyAPIToken))
}

func TestEnvStore(t *testing.T) {
	ctx := context.Background()
	t.Setenv("DNSPAUSE_API_TOKEN", testToken)

	store := NewEnvStore("DNSPAUSE")

	val, err := store.Get(ctx, KeyAPIToken)
	require.NoError(t, err)
	require.Equal(t, testToken, val)

	_, err = store.Get(ctx, KeyWebhookURL)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, store.Set(ctx, KeyAPIToken, "x"), ErrReadOnly)
	require.ErrorIs(t, store.Delete(ctx, KeyAPIToken), ErrReadOnly)
}
