package pipeline_test

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/wasmrunner/host/cache"
	"github.com/wasmrunner/host/collaborators"
	"github.com/wasmrunner/host/engine"
	"github.com/wasmrunner/host/i18n"
	"github.com/wasmrunner/host/pipeline"
	"github.com/wasmrunner/host/registry"
	"github.com/wasmrunner/host/wire"
)

const echoDescribe = `{
  "world": "greentic:component@0.6.0",
  "operations": [
    {
      "id": "run",
      "name": "run",
      "input": {"schema": {"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}},
      "output": {"schema": {"type":"string"}}
    }
  ],
  "config_schema": null
}`

const patternedDescribe = `{
  "world": "greentic:component@0.6.0",
  "operations": [
    {
      "id": "patterned",
      "name": "patterned",
      "input": {"schema": {"type":"object","properties":{"name":{"type":"string","pattern":"^[a-z]+$"}}}},
      "output": {"schema": {"type":"string"}}
    }
  ],
  "config_schema": null
}`

// fakeComponent decodes a CBOR {"name": "..."} input and echoes it back as
// {"output": "..."}, regardless of which world/export it was invoked with.
type fakeComponent struct{}

func (fakeComponent) Serialize() ([]byte, error) { return []byte("fake-serialized"), nil }

func (fakeComponent) Invoke(_ context.Context, _, _ string, input []byte) ([]byte, error) {
	v, err := wire.DecodeValue(input)
	if err != nil {
		return nil, err
	}
	name := ""
	if obj, ok := v.(map[string]interface{}); ok {
		name, _ = obj["name"].(string)
	}
	return wire.EncodeValue(map[string]interface{}{"output": name})
}

type fakeEngine struct{ profile engine.Profile }

func (e *fakeEngine) Profile() engine.Profile { return e.profile }
func (e *fakeEngine) Compile(context.Context, []byte) (engine.Component, error) {
	return fakeComponent{}, nil
}
func (e *fakeEngine) Deserialize(context.Context, []byte) (engine.Component, error) {
	return fakeComponent{}, nil
}

type componentEntry struct {
	digest   string
	packID   string
	describe []byte
}

// fakePackRuntime is the PackRuntime test double: a fixed table of known
// component refs, no disk or network I/O.
type fakePackRuntime struct {
	components map[string]componentEntry
}

func (f *fakePackRuntime) ResolveComponent(_ context.Context, componentRef string) (collaborators.ResolvedComponent, bool) {
	e, ok := f.components[componentRef]
	if !ok {
		return collaborators.ResolvedComponent{}, false
	}
	return collaborators.ResolvedComponent{Digest: e.digest, PackID: e.packID}, true
}

func (f *fakePackRuntime) LoadComponentBytes(_ context.Context, componentRef string) ([]byte, error) {
	return []byte("raw-bytes-" + componentRef), nil
}

func (f *fakePackRuntime) Describe(_ context.Context, componentRef string) ([]byte, bool, error) {
	e, ok := f.components[componentRef]
	if !ok || e.describe == nil {
		return nil, false, nil
	}
	return e.describe, true, nil
}

func (f *fakePackRuntime) LoadSchema(context.Context, string) (interface{}, error) {
	return nil, collaborators.ErrSchemaNotFound
}

type fakePolicy struct{ denyOp string }

func (p fakePolicy) AllowsProvider(string) bool { return true }
func (p fakePolicy) AllowsOp(_ string, op string) bool {
	return op != p.denyOp
}

type fakeTelemetry struct{}

func (fakeTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

type fakeSecrets struct{}

func (fakeSecrets) Get(context.Context, string) (string, error) {
	return "", collaborators.ErrAccessDenied
}

func encodeInput(fields map[string]interface{}) []byte {
	b, err := wire.EncodeValue(fields)
	Expect(err).NotTo(HaveOccurred())
	return b
}

func buildPipeline(packs *fakePackRuntime, pol collaborators.OperatorPolicy) (*pipeline.Pipeline, *cache.ContractCache) {
	reg := registry.Build([]registry.Pack{{
		Providers: []registry.ProviderDecl{
			{
				ProviderID: "example.echo",
				Operations: map[string]registry.Binding{
					"run": {
						RuntimeRef: registry.RuntimeRef{ComponentRef: "comp-echo", Export: "run", World: "greentic:provider-core/example"},
						PackRef:    "pack1@v1",
						PackDigest: "sha256:fallback-echo",
					},
				},
			},
			{
				ProviderID: "example.patterned",
				Operations: map[string]registry.Binding{
					"patterned": {
						RuntimeRef: registry.RuntimeRef{ComponentRef: "comp-patterned", Export: "patterned", World: "greentic:provider-core/example"},
						PackRef:    "pack2@v1",
						PackDigest: "sha256:fallback-patterned",
					},
				},
			},
		},
	}})

	eng := &fakeEngine{profile: engine.FromEngine("test-1", "wasm32-test", engine.CPUPolicyBaseline, "")}
	reg2 := prometheus.NewRegistry()
	mgr := cache.NewManager(eng, nil, cache.NewMetrics(reg2), zap.NewNop(), cache.ManagerConfig{
		MemoryEnabled:  true,
		MemoryMaxBytes: 1 << 20,
		LFUProtectHits: 3,
		DiskEnabled:    false,
	})
	contracts := cache.NewContractCache(cache.DefaultContractCacheMaxBytes)

	p := pipeline.New(pipeline.Deps{
		Tenant:    "tenant-1",
		Registry:  reg,
		Cache:     mgr,
		Contracts: contracts,
		Packs:     packs,
		Secrets:   fakeSecrets{},
		Policy:    pol,
		Telemetry: fakeTelemetry{},
		Locales:   i18n.NewSelector("", nil, nil),
		Catalog:   i18n.NewCatalog(),
		Metrics:   pipeline.NewMetrics(prometheus.NewRegistry()),
		Log:       zap.NewNop(),
	})
	return p, contracts
}

var _ = Describe("Invocation pipeline", func() {
	var packs *fakePackRuntime

	BeforeEach(func() {
		packs = &fakePackRuntime{components: map[string]componentEntry{
			"comp-echo":      {digest: "sha256:echo-digest", packID: "pack1", describe: []byte(echoDescribe)},
			"comp-patterned": {digest: "sha256:patterned-digest", packID: "pack2", describe: []byte(patternedDescribe)},
		}}
	})

	It("resolves, validates, invokes and echoes output on a cold cache", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		resp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "run",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		})

		Expect(resp.Status).To(Equal(wire.StatusOk))
		out, err := wire.DecodeValue(resp.EncodedOutput)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.(map[string]interface{})["output"]).To(Equal("ada"))
	})

	It("serves the second identical request from the warm contract cache", func() {
		p, contracts := buildPipeline(packs, fakePolicy{})
		req := wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "run",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		}

		cold := p.Invoke(context.Background(), req)
		Expect(cold.Status).To(Equal(wire.StatusOk))
		stats := contracts.Stats()
		Expect(stats.Entries).To(Equal(1))
		Expect(stats.Misses).To(Equal(uint64(1)))
		Expect(stats.Hits).To(Equal(uint64(0)))

		warm := p.Invoke(context.Background(), req)
		Expect(warm.Status).To(Equal(wire.StatusOk))
		Expect(warm.EncodedOutput).To(Equal(cold.EncodedOutput))
		stats = contracts.Stats()
		Expect(stats.Entries).To(Equal(1))
		Expect(stats.Misses).To(Equal(uint64(1)))
		Expect(stats.Hits).To(Equal(uint64(1)))
	})

	It("emits byte-identical diagnostic details for equal failing requests", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		req := wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "run",
			Locale:     "en",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{})},
		}

		first := p.Invoke(context.Background(), req)
		second := p.Invoke(context.Background(), req)
		Expect(first.Status).To(Equal(wire.StatusError))

		firstBytes, err := wire.EncodeResponse(first)
		Expect(err).NotTo(HaveOccurred())
		secondBytes, err := wire.EncodeResponse(second)
		Expect(err).NotTo(HaveOccurred())
		Expect(firstBytes).To(Equal(secondBytes))
	})

	It("reports OP_NOT_FOUND for an operation the binding never declared", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		resp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "does-not-exist",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		})

		Expect(resp.Status).To(Equal(wire.StatusError))
		Expect(resp.Error.Code).To(Equal(pipeline.CodeOpNotFound))
		Expect(resp.Error.Details).To(HaveLen(1))
		d := resp.Error.Details[0]
		Expect(d.Code).To(Equal("op_not_found"))
		Expect(d.Path).To(Equal("/op_id"))
		Expect(d.MessageKey).To(Equal("runner.operator.op_not_found"))
		Expect(d.OperationID).To(Equal("does-not-exist"))
	})

	It("reports TYPE_MISMATCH when the caller's schema_hash is stale", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		ctx := context.Background()
		req := wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "run",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		}
		warm := p.Invoke(ctx, req) // populates the contract cache
		Expect(warm.Status).To(Equal(wire.StatusOk))

		req.SchemaHash = "sha256:stale"
		resp := p.Invoke(ctx, req)
		Expect(resp.Status).To(Equal(wire.StatusError))
		Expect(resp.Error.Code).To(Equal(pipeline.CodeTypeMismatch))
		Expect(resp.Error.Details[0].MessageKey).To(Equal("runner.operator.schema_hash_mismatch"))
	})

	It("reports TYPE_MISMATCH when the input is missing a required field", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		resp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "run",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{})},
		})

		Expect(resp.Status).To(Equal(wire.StatusError))
		Expect(resp.Error.Code).To(Equal(pipeline.CodeTypeMismatch))
		Expect(resp.Error.Details).To(HaveLen(1))
		Expect(resp.Error.Details[0].Code).To(Equal("schema_validation"))
		Expect(resp.Error.Details[0].Path).To(Equal("/input/name"))
	})

	It("reports the offending instance path when an input field has the wrong type", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		resp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "run",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": 42})},
		})

		Expect(resp.Status).To(Equal(wire.StatusError))
		Expect(resp.Error.Code).To(Equal(pipeline.CodeTypeMismatch))
		Expect(resp.Error.Details[0].Path).To(Equal("/input/name"))
	})

	It("rejects an unsupported schema constraint in strict mode but accepts it under permissive-schema", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		strictResp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.patterned",
			OpID:       "patterned",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		})
		Expect(strictResp.Status).To(Equal(wire.StatusError))
		Expect(strictResp.Error.Code).To(Equal(pipeline.CodeTypeMismatch))

		permissiveResp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.patterned",
			OpID:       "patterned",
			Flags:      []string{"permissive-schema"},
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		})
		Expect(permissiveResp.Status).To(Equal(wire.StatusOk))
	})

	It("reports POLICY_DENIED when the tenant policy denies the operation", func() {
		p, _ := buildPipeline(packs, fakePolicy{denyOp: "run"})
		resp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "tenant-1",
			ProviderID: "example.echo",
			OpID:       "run",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		})

		Expect(resp.Status).To(Equal(wire.StatusError))
		Expect(resp.Error.Code).To(Equal(pipeline.CodePolicyDenied))
	})

	It("reports TENANT_NOT_ALLOWED when the request tenant does not match", func() {
		p, _ := buildPipeline(packs, fakePolicy{})
		resp := p.Invoke(context.Background(), wire.Request{
			TenantID:   "some-other-tenant",
			ProviderID: "example.echo",
			OpID:       "run",
			Payload:    wire.Payload{EncodedInput: encodeInput(map[string]interface{}{"name": "ada"})},
		})

		Expect(resp.Status).To(Equal(wire.StatusError))
		Expect(resp.Error.Code).To(Equal(pipeline.CodeTenantNotAllowed))
	})
})
