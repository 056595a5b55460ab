package engine

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// WazeroEngine is the concrete Engine backed by tetratelabs/wazero. It owns
// one wazero.Runtime per profile and relies on wazero's own compilation
// cache for the actual machine-code reuse; the Artifact Cache above it
// still round-trips raw component bytes, since wazero does not expose a
// public API to export a compiled module's native blob.
type WazeroEngine struct {
	profile Profile
	runtime wazero.Runtime
	cache   wazero.CompilationCache
}

// NewWazeroEngine constructs a runtime configured for the given CPU policy.
// Native policy enables wazero's compiler; baseline forces the interpreter.
func NewWazeroEngine(ctx context.Context, profile Profile) (*WazeroEngine, error) {
	cache := wazero.NewCompilationCache()
	var cfg wazero.RuntimeConfig
	if profile.CPUPolicy == CPUPolicyBaseline {
		cfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		cfg = wazero.NewRuntimeConfig()
	}
	cfg = cfg.WithCompilationCache(cache)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	return &WazeroEngine{profile: profile, runtime: rt, cache: cache}, nil
}

func (e *WazeroEngine) Profile() Profile { return e.profile }

func (e *WazeroEngine) Compile(ctx context.Context, raw []byte) (Component, error) {
	mod, err := e.runtime.CompileModule(ctx, raw)
	if err != nil {
		return nil, errors.Wrap(err, "wazero: compile module")
	}
	return &wazeroComponent{runtime: e.runtime, module: mod, raw: raw}, nil
}

// Deserialize round-trips the raw bytes previously returned by
// Component.Serialize. wazero recompiles from source bytes, backed by the
// engine's shared CompilationCache so repeat compiles of the same bytes are
// cheap within a process lifetime.
func (e *WazeroEngine) Deserialize(ctx context.Context, serialized []byte) (Component, error) {
	return e.Compile(ctx, serialized)
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

type wazeroComponent struct {
	runtime wazero.Runtime
	module  wazero.CompiledModule
	raw     []byte
}

func (c *wazeroComponent) Serialize() ([]byte, error) {
	return c.raw, nil
}

func (c *wazeroComponent) Invoke(ctx context.Context, world, export string, input []byte) ([]byte, error) {
	instance, err := c.runtime.InstantiateModule(ctx, c.module, wazero.NewModuleConfig())
	if err != nil {
		return nil, errors.Wrap(err, "wazero: instantiate module")
	}
	defer instance.Close(ctx)

	fn := instance.ExportedFunction(export)
	if fn == nil {
		return nil, errors.Errorf("wazero: export %q not found", export)
	}

	switch {
	case strings.HasPrefix(world, "greentic:provider-core"):
		return invokeProviderCore(ctx, instance, fn, input)
	default:
		return invokeTypedNode(ctx, instance, fn, input)
	}
}

// invokeProviderCore calls a byte-in/byte-out export via the component's
// linear memory: write input, call, read the returned (ptr,len) pair.
func invokeProviderCore(ctx context.Context, instance api.Module, fn api.Function, input []byte) ([]byte, error) {
	mem := instance.Memory()
	var inPtr, inLen uint64
	if len(input) > 0 {
		alloc := instance.ExportedFunction("alloc")
		if alloc == nil {
			return nil, errors.New("wazero: component has no alloc export")
		}
		res, err := alloc.Call(ctx, uint64(len(input)))
		if err != nil {
			return nil, errors.Wrap(err, "wazero: alloc")
		}
		inPtr = res[0]
		inLen = uint64(len(input))
		if !mem.Write(uint32(inPtr), input) {
			return nil, errors.New("wazero: failed writing input to linear memory")
		}
	}
	res, err := fn.Call(ctx, inPtr, inLen)
	if err != nil {
		return nil, errors.Wrap(err, "wazero: invoke")
	}
	if len(res) < 1 {
		return nil, nil
	}
	outPtr := uint32(res[0] >> 32)
	outLen := uint32(res[0])
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, errors.New("wazero: failed reading output from linear memory")
	}
	buf := make([]byte, len(out))
	copy(buf, out)
	return buf, nil
}

// invokeTypedNode calls a typed-ABI export by delegating to
// invokeProviderCore, so it uses the same (ptr, len) argument and return
// convention; the component's own ABI shims handle marshaling into its
// native types, since both ends exchange an opaque CBOR blob at the host
// boundary.
func invokeTypedNode(ctx context.Context, instance api.Module, fn api.Function, input []byte) ([]byte, error) {
	return invokeProviderCore(ctx, instance, fn, input)
}
