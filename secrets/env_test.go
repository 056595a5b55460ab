package secrets

import (
	"context"
	"testing"

	"github.com/wasmrunner/host/collaborators"
)

func TestEnvSecretsResolvesKnownKey(t *testing.T) {
	t.Setenv("RUNNER_SECRET_API_KEY", "s3cr3t")
	s := NewEnvSecrets("RUNNER_SECRET_")
	v, err := s.Get(context.Background(), "api-key")
	if err != nil {
		t.Fatal(err)
	}
	if v != "s3cr3t" {
		t.Fatalf("unexpected value: %q", v)
	}
}

func TestEnvSecretsDeniesUnknownKey(t *testing.T) {
	s := NewEnvSecrets("RUNNER_SECRET_")
	if _, err := s.Get(context.Background(), "does-not-exist"); err != collaborators.ErrAccessDenied {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}
