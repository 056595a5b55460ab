// Package localpacks is a concrete, locator-backed collaborators.PackRuntime:
// it treats a binding's component_ref and schema_ref fields as
// packresolver locators directly, fetching through whichever scheme
// resolver applies (fs://, s3://, az://, gs://, oci://). A production
// PackRuntime would additionally verify pack signatures and manage its own
// instantiation pool; this adapter only supplies the locator-to-bytes half
// the pipeline actually depends on.
package localpacks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/wasmrunner/host/collaborators"
	"github.com/wasmrunner/host/packresolver"
	"github.com/wasmrunner/host/schema"
)

// Runtime fetches component bytes, describe payloads and schema documents
// through a packresolver.Registry, caching fetched bytes per locator for
// the process lifetime.
type Runtime struct {
	resolver *packresolver.Registry

	mu    sync.Mutex
	bytes map[string][]byte
}

// New builds a Runtime over resolver.
func New(resolver *packresolver.Registry) *Runtime {
	return &Runtime{resolver: resolver, bytes: map[string][]byte{}}
}

func (r *Runtime) fetch(ctx context.Context, locator string) ([]byte, error) {
	r.mu.Lock()
	if b, ok := r.bytes[locator]; ok {
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()

	b, err := r.resolver.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.bytes[locator] = b
	r.mu.Unlock()
	return b, nil
}

// ResolveComponent fetches componentRef's bytes (from cache if already
// fetched) and reports their sha256 digest; PackID is left blank since a
// bare locator carries no pack identity of its own.
func (r *Runtime) ResolveComponent(ctx context.Context, componentRef string) (collaborators.ResolvedComponent, bool) {
	b, err := r.fetch(ctx, componentRef)
	if err != nil {
		return collaborators.ResolvedComponent{}, false
	}
	sum := sha256.Sum256(b)
	return collaborators.ResolvedComponent{Digest: "sha256:" + hex.EncodeToString(sum[:])}, true
}

func (r *Runtime) LoadComponentBytes(ctx context.Context, componentRef string) ([]byte, error) {
	return r.fetch(ctx, componentRef)
}

// Describe fetches a sibling "<componentRef>.describe.json" locator. A
// fetch failure is treated as "this component has no describe world"
// rather than a hard error, matching the pipeline's fallback-hash path.
func (r *Runtime) Describe(ctx context.Context, componentRef string) ([]byte, bool, error) {
	b, err := r.fetch(ctx, componentRef+".describe.json")
	if err != nil {
		return nil, false, nil
	}
	return b, true, nil
}

func (r *Runtime) LoadSchema(ctx context.Context, schemaRef string) (interface{}, error) {
	b, err := r.fetch(ctx, schemaRef)
	if err != nil {
		return nil, collaborators.ErrSchemaNotFound
	}
	var v interface{}
	if err := schema.DecodeJSON(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
