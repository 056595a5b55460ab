// Package secrets provides a local-dev/test SecretsManager backed by
// process environment variables. A production deployment would wire a
// real secrets manager through the same collaborators.SecretsManager
// interface; this package only ships the env-backed stand-in.
package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/wasmrunner/host/collaborators"
)

// EnvSecrets resolves a secret key to the value of an environment variable
// named keyPrefix + uppercased(key) with non-alphanumerics replaced by '_'.
type EnvSecrets struct {
	KeyPrefix string
}

// NewEnvSecrets builds an EnvSecrets collaborator with the given prefix
// (e.g. "RUNNER_SECRET_").
func NewEnvSecrets(keyPrefix string) *EnvSecrets {
	return &EnvSecrets{KeyPrefix: keyPrefix}
}

func (e *EnvSecrets) Get(_ context.Context, key string) (string, error) {
	envName := e.KeyPrefix + sanitize(key)
	v, ok := os.LookupEnv(envName)
	if !ok {
		return "", collaborators.ErrAccessDenied
	}
	return v, nil
}

func sanitize(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
