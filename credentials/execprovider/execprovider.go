// Package execprovider resolves secrets by running an external command,
// such as `security find-generic-password` on macOS or `pass show` where a
// password store is in use.
package execprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dnspause/dnspause/credentials"
)

// WithCommand registers a template function named name that resolves a
// secret by running command with the reference appended as the final
// argument. The command's trimmed stdout is the secret value.
func WithCommand(name, command string, args ...string) credentials.ResolverOption {
	return credentials.WithProvider(name, func(ctx context.Context, ref string) (string, error) {
		cmd := exec.CommandContext(ctx, command, append(append([]string{}, args...), ref)...)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("%s %q: %s: %w", command, ref, strings.TrimSpace(stderr.String()), err)
		}

		return strings.TrimSpace(stdout.String()), nil
	})
}
