package packresolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFsResolverFetchesWithinRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pack.tar"), []byte("pack-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewFsResolver(dir)
	data, err := r.Fetch(context.Background(), "fs://pack.tar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "pack-bytes" {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestFsResolverRejectsEscapingRoot(t *testing.T) {
	dir := t.TempDir()
	r := NewFsResolver(dir)
	if _, err := r.Fetch(context.Background(), "fs://../../etc/passwd"); err == nil {
		t.Fatal("expected an error for a locator escaping the root")
	}
}

func TestRegistryDispatchesByScheme(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pack.tar"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(NewFsResolver(dir))
	data, err := reg.Fetch(context.Background(), "fs://pack.tar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("unexpected data: %q", data)
	}

	if _, err := reg.Fetch(context.Background(), "s3://bucket/key"); err == nil {
		t.Fatal("expected error for unregistered scheme")
	}
}
