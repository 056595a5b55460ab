// Package registry indexes every provider/operation declared by loaded
// packs and resolves invocations against those declarations with
// deterministic tie-breaks.
package registry

import "github.com/pkg/errors"

// ErrProviderNotFound and ErrOpNotFound are returned by Resolve; the
// pipeline maps them to PROVIDER_NOT_FOUND/OP_NOT_FOUND wire codes.
var (
	ErrProviderNotFound = errors.New("registry: provider not found")
	ErrOpNotFound       = errors.New("registry: operation not found")
)

// RuntimeRef names the component export an operation dispatches to.
type RuntimeRef struct {
	ComponentRef string
	Export       string
	World        string
}

// Binding is one resolved (provider, op) declaration.
type Binding struct {
	ProviderID      string
	ProviderType    string
	OpID            string
	RuntimeRef      RuntimeRef
	PackRef         string
	PackDigest      string
	ConfigSchemaRef string
	StateSchemaRef  string
	Capabilities    []string
	PackPriority    uint32
}

// ProviderDecl is one pack's declaration of a provider and the operations
// it exposes.
type ProviderDecl struct {
	ProviderID   string
	ProviderType string
	Operations   map[string]Binding
}

// Pack is the minimal shape the registry needs from a loaded pack: its
// provider declarations.
type Pack struct {
	Providers []ProviderDecl
}

// Registry holds the dual index described in the data model: bindings are
// reachable both by provider_id and by provider_type.
type Registry struct {
	byProviderID   map[string]map[string]Binding
	byProviderType map[string]map[string]Binding
}

// Build constructs a Registry over packs in priority order: pack_priority
// is each pack's index in the input slice, and a later pack's binding for
// the same (selector, op_id) always overwrites an earlier one.
func Build(packs []Pack) *Registry {
	r := &Registry{
		byProviderID:   map[string]map[string]Binding{},
		byProviderType: map[string]map[string]Binding{},
	}
	for priority, pack := range packs {
		for _, decl := range pack.Providers {
			for opID, binding := range decl.Operations {
				binding.OpID = opID
				binding.ProviderID = decl.ProviderID
				binding.ProviderType = decl.ProviderType
				binding.PackPriority = uint32(priority)

				if decl.ProviderType != "" {
					byType, ok := r.byProviderType[decl.ProviderType]
					if !ok {
						byType = map[string]Binding{}
						r.byProviderType[decl.ProviderType] = byType
					}
					byType[opID] = binding
				}
				if decl.ProviderID != "" {
					byID, ok := r.byProviderID[decl.ProviderID]
					if !ok {
						byID = map[string]Binding{}
						r.byProviderID[decl.ProviderID] = byID
					}
					byID[opID] = binding
				}
			}
		}
	}
	return r
}

// Resolve looks up a binding. When providerID is set, providerType is
// ignored entirely (even if both are present in the request).
func (r *Registry) Resolve(providerID, providerType, opID string) (Binding, error) {
	if providerID != "" {
		ops, ok := r.byProviderID[providerID]
		if !ok {
			return Binding{}, ErrProviderNotFound
		}
		b, ok := ops[opID]
		if !ok {
			return Binding{}, ErrOpNotFound
		}
		return b, nil
	}
	if providerType != "" {
		ops, ok := r.byProviderType[providerType]
		if !ok {
			return Binding{}, ErrProviderNotFound
		}
		b, ok := ops[opID]
		if !ok {
			return Binding{}, ErrOpNotFound
		}
		return b, nil
	}
	return Binding{}, ErrProviderNotFound
}
