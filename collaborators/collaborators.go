// Package collaborators defines the host's external collaborator
// boundaries: pack runtime, secrets manager, operator policy, and
// telemetry. The core consumes these purely through the interfaces here;
// concrete implementations (internal/localpacks, secrets, policy,
// telemetry) live in other packages.
package collaborators

import (
	"context"
	"errors"
)

// ErrSchemaNotFound is returned by PackRuntime.LoadSchema when the
// referenced schema does not exist in the pack (a "missing" load, distinct
// from an I/O or parse failure).
var ErrSchemaNotFound = errors.New("collaborators: schema reference not found")

// ErrComponentNotFound is a typed error for a component reference missing
// from the tenant's packs; PackRuntime.ResolveComponent itself reports
// absence through its ok result.
var ErrComponentNotFound = errors.New("collaborators: component not found in tenant packs")

// ErrAccessDenied is returned by SecretsManager.Get when the caller is not
// entitled to the requested key.
var ErrAccessDenied = errors.New("collaborators: secret access denied")

// ResolvedComponent is what a tenant's pack set reports about a
// component reference: its content digest and the pack that declared it.
type ResolvedComponent struct {
	Digest string
	PackID string
}

// PackRuntime is the pack-file/loader collaborator: given a component
// reference it reports identity (ResolveComponent), supplies the raw,
// uncompiled bytes the Cache Manager compiles (LoadComponentBytes),
// invokes a 0.6-capable component's self-describe export (Describe), and
// loads a schema document by the pack-local reference the binding
// declares (LoadSchema).
//
// Describe is answered by the pack runtime rather than by engine.Component
// because a pack's describe payload is itself pack-declared metadata (it
// may come from a manifest entry or a sibling file, not only from invoking
// a "describe" export on the compiled module), and describing a component
// must not require compiling it first — contract resolution runs ahead of
// the cache manager's compile step so a bad or unavailable contract is
// caught before paying for compilation.
type PackRuntime interface {
	ResolveComponent(ctx context.Context, componentRef string) (ResolvedComponent, bool)
	LoadComponentBytes(ctx context.Context, componentRef string) ([]byte, error)
	Describe(ctx context.Context, componentRef string) (payload []byte, ok bool, err error)
	LoadSchema(ctx context.Context, schemaRef string) (interface{}, error)
}

// SecretsManager resolves attachment secret references to cleartext.
type SecretsManager interface {
	Get(ctx context.Context, key string) (string, error)
}

// OperatorPolicy gates provider and operation access for one tenant.
type OperatorPolicy interface {
	AllowsProvider(idOrType string) bool
	AllowsOp(idOrType, op string) bool
}

// Telemetry emits spans around the pipeline's major states. StartSpan
// returns a derived context and an end function that must be called
// exactly once.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
}
