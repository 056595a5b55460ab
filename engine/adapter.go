package engine

import "context"

// Component is a compiled, shared, immutable Wasm component handle. It is
// never mutated after construction; callers share a single handle across
// concurrent invocations.
type Component interface {
	// Serialize returns the engine's opaque, re-deserializable byte form
	// (the ".cwasm" payload written to the disk cache).
	Serialize() ([]byte, error)
	// Invoke dispatches into the component. world selects the adapter: a
	// "greentic:provider-core" prefix invokes the byte-in/byte-out ABI,
	// anything else the typed node ABI.
	Invoke(ctx context.Context, world, export string, input []byte) ([]byte, error)
}

// Engine compiles raw component bytes and deserializes previously
// compiled/serialized bytes back into a Component. Implementations must be
// safe for concurrent use.
type Engine interface {
	Profile() Profile
	Compile(ctx context.Context, raw []byte) (Component, error)
	Deserialize(ctx context.Context, serialized []byte) (Component, error)
}
