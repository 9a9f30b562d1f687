package dnspause

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr string
	}{
		{
			name:  "valid token",
			token: "api.abcdef123456",
		},
		{
			name:  "minimum length",
			token: "api.abcdefgh",
		},
		{
			name:    "empty",
			token:   "",
			wantErr: "token is empty",
		},
		{
			name:    "missing prefix",
			token:   "abcdef1234567890",
			wantErr: `must start with "api."`,
		},
		{
			name:    "too short",
			token:   "api.abc",
			wantErr: "shorter than 12",
		},
		{
			name:    "too long",
			token:   TokenPrefix + strings.Repeat("a", 128),
			wantErr: "longer than 128",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToken(tt.token)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidCredential)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("api.abcdef123456")

	require.Len(t, fp, 12)
	require.Equal(t, fp, Fingerprint("api.abcdef123456"))
	require.NotEqual(t, fp, Fingerprint("api.abcdef123457"))
	require.NotContains(t, "api.abcdef123456", fp)
}
