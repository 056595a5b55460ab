// Package pipeline implements the Invocation Pipeline: the ordered state
// machine from "request received" to "response emitted", wired to the
// registry, cache, contract, schema, diagnostics and i18n packages that
// back each of its steps.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/wasmrunner/host/cache"
	"github.com/wasmrunner/host/collaborators"
	"github.com/wasmrunner/host/contract"
	"github.com/wasmrunner/host/diagnostics"
	"github.com/wasmrunner/host/engine"
	"github.com/wasmrunner/host/i18n"
	"github.com/wasmrunner/host/internal/assert"
	"github.com/wasmrunner/host/internal/idgen"
	"github.com/wasmrunner/host/registry"
	"github.com/wasmrunner/host/schema"
	"github.com/wasmrunner/host/wire"
)

// Wire error codes, one per error category the pipeline can terminate with.
const (
	CodeOpNotFound       = "OP_NOT_FOUND"
	CodeProviderNotFound = "PROVIDER_NOT_FOUND"
	CodeTenantNotAllowed = "TENANT_NOT_ALLOWED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeCBORDecode       = "CBOR_DECODE"
	CodeTypeMismatch     = "TYPE_MISMATCH"
	CodeComponentLoad    = "COMPONENT_LOAD"
	CodeInvokeTrap       = "INVOKE_TRAP"
	CodeTimeout          = "TIMEOUT"
	CodePolicyDenied     = "POLICY_DENIED"
	CodeHostFailure      = "HOST_FAILURE"
)

const (
	flagSkipOutputValidate = "skip-output-validate"
	flagPermissiveSchema   = "permissive-schema"
)

// ExecCtx is the exec context built at step 15 and threaded into the
// component invocation via the request context; today's engine adapter
// does not read it, but it is the seam a future ABI would consume.
type ExecCtx struct {
	Tenant         string
	TraceID        string
	CorrelationID  string
	Attempt        int
	IdempotencyKey string
	FlowID         string
	NodeID         *string
	DeadlineUnixMs *int64
}

type execCtxKey struct{}

// WithExecCtx attaches an ExecCtx to ctx; engine adapters may read it back
// with ExecCtxFrom.
func WithExecCtx(ctx context.Context, e ExecCtx) context.Context {
	return context.WithValue(ctx, execCtxKey{}, e)
}

// ExecCtxFrom retrieves the ExecCtx attached by WithExecCtx, if any.
func ExecCtxFrom(ctx context.Context) (ExecCtx, bool) {
	e, ok := ctx.Value(execCtxKey{}).(ExecCtx)
	return e, ok
}

// Deps wires every collaborator the pipeline depends on.
type Deps struct {
	Tenant     string
	Registry   *registry.Registry
	Cache      *cache.Manager
	Contracts  *cache.ContractCache
	Packs      collaborators.PackRuntime
	Secrets    collaborators.SecretsManager
	Policy     collaborators.OperatorPolicy
	Telemetry  collaborators.Telemetry
	Locales    *i18n.Selector
	Catalog    *i18n.Catalog
	Metrics    *Metrics
	Log        *zap.Logger
}

// Pipeline runs one tenant runtime's Operator Invocation Pipeline.
type Pipeline struct {
	Deps
}

// New constructs a Pipeline from its dependencies.
func New(d Deps) *Pipeline {
	return &Pipeline{Deps: d}
}

// Invoke runs the full state machine for one request and returns the wire
// response — never an error; every failure mode is represented as an
// Error response with a machine-stable code and localized diagnostics.
func (p *Pipeline) Invoke(ctx context.Context, req wire.Request) wire.Response {
	// 1. Normalize.
	opID := normalizeOpID(req.OpID)
	validateOutput := !hasFlag(req.Flags, flagSkipOutputValidate)
	strict := !hasFlag(req.Flags, flagPermissiveSchema)
	locale := p.Locales.Select(req.Locale)

	ctx, endSpan := p.Telemetry.StartSpan(ctx, "operator.invoke")
	defer endSpan()

	// 2. Tenant gate.
	if req.TenantID != "" && req.TenantID != p.Tenant {
		return p.errorResponse(locale, CodeTenantNotAllowed, opID, "", "",
			"tenant_mismatch", "/tenant_id", "runner.operator.tenant_mismatch",
			"request tenant does not match this runtime's tenant")
	}

	// 3. Selector gate.
	if req.ProviderID == "" && req.ProviderType == "" {
		return p.errorResponse(locale, CodeInvalidRequest, opID, "", "",
			"missing_provider_selector", "/provider_id", "runner.operator.missing_provider_selector",
			"request must set provider_id or provider_type")
	}

	// 4. Resolve.
	p.Metrics.ResolveAttempts.Inc()
	binding, err := p.Registry.Resolve(req.ProviderID, req.ProviderType, opID)
	if err != nil {
		p.Metrics.ResolveErrors.Inc()
		switch {
		case errors.Is(err, registry.ErrProviderNotFound):
			return p.errorResponse(locale, CodeProviderNotFound, opID, "", "",
				"provider_not_found", "/op_id", "runner.operator.provider_not_found",
				"no provider matches the requested selector")
		case errors.Is(err, registry.ErrOpNotFound):
			return p.errorResponse(locale, CodeOpNotFound, opID, "", "",
				"op_not_found", "/op_id", "runner.operator.op_not_found",
				"operation not found for the resolved provider")
		default:
			return p.errorResponse(locale, CodeHostFailure, opID, "", "",
				"resolve_error", "/op_id", "runner.operator.resolve_error", err.Error())
		}
	}
	selector := firstNonEmpty(binding.ProviderID, binding.ProviderType)
	assert.Assertf(binding.RuntimeRef.ComponentRef != "", "resolved binding %s/%s declares no component_ref", selector, opID)

	// 5. Policy gate.
	if !p.Policy.AllowsProvider(selector) || !p.Policy.AllowsOp(selector, opID) {
		return p.errorResponse(locale, CodePolicyDenied, opID, "", "",
			"policy_denied", "/op_id", "runner.operator.policy_denied",
			"tenant policy denies this provider/operation")
	}

	// 6. Pack pinning.
	if req.PackID != "" {
		bindingPack := binding.PackRef
		if at := strings.IndexByte(bindingPack, '@'); at >= 0 {
			bindingPack = bindingPack[:at]
		}
		if bindingPack != req.PackID {
			return p.errorResponse(locale, CodePolicyDenied, opID, "", "",
				"pack_pinning_mismatch", "/pack_id", "runner.operator.pack_pinning_mismatch",
				"request pack_id does not match the resolved binding's pack")
		}
	}

	// 7. Attachments.
	attachments, errResp := p.resolveAttachments(ctx, req.Payload.Attachments, locale, opID)
	if errResp != nil {
		return *errResp
	}

	// 8. Decode payload.
	inputValue, err := wire.DecodeValue(req.Payload.EncodedInput)
	if err != nil {
		p.Metrics.CBORDecodeErrors.Inc()
		return p.errorResponse(locale, CodeCBORDecode, opID, "", "",
			"cbor_decode_failed", "/payload/encoded_input", "runner.operator.cbor_decode_failed", err.Error())
	}

	// 9. Merge attachments.
	mergedInput := mergeAttachments(inputValue, attachments)

	// 10. Component lookup.
	componentRef := binding.RuntimeRef.ComponentRef
	resolved, ok := p.Packs.ResolveComponent(ctx, componentRef)
	if !ok {
		return p.errorResponse(locale, CodeComponentLoad, opID, componentRef, "",
			"component_not_found", "/op_id", "runner.operator.component_not_found",
			"referenced component was not found in the tenant's loaded packs")
	}

	// 11. Digest resolution.
	resolvedDigest := resolved.Digest
	if resolvedDigest == "" {
		resolvedDigest = binding.PackDigest
	}

	// 12. Contract resolution.
	snapshot, errResp := p.resolveContract(ctx, binding, resolvedDigest, componentRef, opID, validateOutput, strict, locale)
	if errResp != nil {
		return *errResp
	}

	// 13. Input validation.
	if snapshot.InputSchema != nil {
		if issues := schema.Validate(snapshot.InputSchema, mergedInput, strict); len(issues) > 0 {
			return p.issuesResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest, "/input", issues)
		}
	} else if strict && binding.ConfigSchemaRef != "" {
		if _, err := p.Packs.LoadSchema(ctx, binding.ConfigSchemaRef); errors.Is(err, collaborators.ErrSchemaNotFound) {
			return p.errorResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest,
				"schema_ref_not_found", "/schema_hash", "runner.operator.schema_ref_not_found",
				"a declared schema reference could not be loaded")
		}
	}

	// 14. Schema hash preflight.
	if req.SchemaHash != "" {
		if normalizeHash(req.SchemaHash) != normalizeHash(snapshot.SchemaHash) {
			return p.errorResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest,
				"schema_hash_mismatch", "/schema_hash", "runner.operator.schema_hash_mismatch",
				"request schema_hash does not match the resolved contract's schema_hash")
		}
	}

	// 15. Build exec context.
	execCtx := p.buildExecCtx(req, opID)
	ctx = WithExecCtx(ctx, execCtx)

	// 16. Invoke.
	p.Metrics.InvokeAttempts.Inc()
	key := engine.NewArtifactKey(p.Cache.Profile().ID, resolvedDigest)
	component, err := p.Cache.GetComponent(ctx, key, func(ctx context.Context) ([]byte, error) {
		return p.Packs.LoadComponentBytes(ctx, componentRef)
	})
	if err != nil {
		p.Metrics.InvokeErrors.Inc()
		return p.errorResponse(locale, CodeHostFailure, opID, componentRef, resolvedDigest,
			"component_load_failed", "/op_id", "runner.operator.component_not_found", err.Error())
	}

	encodedInput, err := wire.EncodeValue(mergedInput)
	if err != nil {
		p.Metrics.InvokeErrors.Inc()
		return p.errorResponse(locale, CodeHostFailure, opID, componentRef, resolvedDigest,
			"invoke_encode_failed", "/input", "runner.operator.invoke_failed", err.Error())
	}
	outputBytes, err := component.Invoke(ctx, binding.RuntimeRef.World, binding.RuntimeRef.Export, encodedInput)
	if err != nil {
		p.Metrics.InvokeErrors.Inc()
		return p.errorResponse(locale, CodeInvokeTrap, opID, componentRef, resolvedDigest,
			"invoke_failed", "/op_id", "runner.operator.invoke_failed", err.Error())
	}
	result, err := wire.DecodeValue(outputBytes)
	if err != nil {
		p.Metrics.InvokeErrors.Inc()
		return p.errorResponse(locale, CodeHostFailure, opID, componentRef, resolvedDigest,
			"invoke_decode_failed", "/op_id", "runner.operator.invoke_failed", err.Error())
	}

	// 17. Output validation.
	if validateOutput && snapshot.OutputSchema != nil {
		candidate := result
		if obj, ok := result.(map[string]interface{}); ok {
			if out, present := obj["output"]; present {
				candidate = out
			}
		}
		if issues := schema.Validate(snapshot.OutputSchema, candidate, strict); len(issues) > 0 {
			return p.issuesResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest, "/output", issues)
		}
	}

	// 18. new_state validation.
	if obj, ok := result.(map[string]interface{}); ok {
		if newState, present := obj["new_state"]; present {
			if errResp := p.validateNewState(ctx, binding, newState, strict, locale, opID, componentRef, resolvedDigest); errResp != nil {
				return *errResp
			}
		}
	}

	// 19. Encode.
	encodedOutput, err := wire.EncodeValue(result)
	if err != nil {
		return p.errorResponse(locale, CodeHostFailure, opID, componentRef, resolvedDigest,
			"encode_failed", "/op_id", "runner.operator.encode_failed", err.Error())
	}

	// 20. Emit.
	return wire.Response{Status: wire.StatusOk, EncodedOutput: encodedOutput}
}

func (p *Pipeline) buildExecCtx(req wire.Request, opID string) ExecCtx {
	traceID := req.TraceID
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = idgen.New()
	}
	var deadline *int64
	if req.TimeoutMs != nil {
		d := time.Now().UnixMilli() + *req.TimeoutMs
		deadline = &d
	}
	return ExecCtx{
		Tenant:         p.Tenant,
		TraceID:        traceID,
		CorrelationID:  correlationID,
		Attempt:        1,
		IdempotencyKey: correlationID,
		FlowID:         "operator/" + opID,
		NodeID:         nil,
		DeadlineUnixMs: deadline,
	}
}

func (p *Pipeline) resolveAttachments(ctx context.Context, refs []wire.AttachmentRef, locale, opID string) (map[string]interface{}, *wire.Response) {
	out := map[string]interface{}{}
	for _, ref := range refs {
		typ, _ := ref.Metadata["type"].(string)
		if typ != "secret" {
			continue // unknown/absent type: silently ignored
		}
		key, _ := ref.Metadata["key"].(string)
		cleartext, err := p.Secrets.Get(ctx, key)
		if err != nil {
			resp := p.errorResponse(locale, CodePolicyDenied, opID, "", "",
				"attachment_denied", "/payload/attachments/"+ref.ID, "runner.operator.attachment_denied",
				"attachment secret resolution was denied")
			return nil, &resp
		}
		alias, _ := ref.Metadata["alias"].(string)
		if alias == "" {
			alias = key
		}
		out[alias] = cleartext
	}
	return out, nil
}

func mergeAttachments(input interface{}, attachments map[string]interface{}) interface{} {
	if obj, ok := input.(map[string]interface{}); ok {
		obj["_attachments"] = attachments
		return obj
	}
	return map[string]interface{}{"input": input, "_attachments": attachments}
}

// resolveContract implements step 12: contract cache lookup, falling back
// to introspection (or the fallback hash records) on a miss.
func (p *Pipeline) resolveContract(ctx context.Context, binding registry.Binding, resolvedDigest, componentRef, opID string, validateOutput, strict bool, locale string) (cache.ContractSnapshot, *wire.Response) {
	key := cache.ContractCacheKey(resolvedDigest, componentRef, opID, validateOutput, strict)
	if snap, ok := p.Contracts.Get(key); ok {
		return snap, nil
	}

	var snap cache.ContractSnapshot
	describePayload, describeOK, err := p.Packs.Describe(ctx, componentRef)
	if err != nil {
		resp := p.errorResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest,
			"contract_introspection_failed", "/op_id", "runner.operator.contract_introspection_failed", err.Error())
		return cache.ContractSnapshot{}, &resp
	}

	if describeOK {
		c, err := contract.Introspect(describePayload, componentRef, opID)
		if err != nil {
			resp := p.errorResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest,
				"contract_introspection_failed", "/op_id", "runner.operator.contract_introspection_failed", err.Error())
			return cache.ContractSnapshot{}, &resp
		}
		snap = cache.ContractSnapshot{
			ResolvedDigest: resolvedDigest,
			ComponentID:    componentRef,
			OperationID:    c.Operation,
			ValidateOutput: validateOutput,
			Strict:         strict,
			DescribeHash:   c.DescribeHash,
			SchemaHash:     c.SchemaHash,
			InputSchema:    c.InputSchema,
			OutputSchema:   c.OutputSchema,
			ConfigSchema:   c.ConfigSchema,
		}
	} else {
		var configSchema interface{}
		if binding.ConfigSchemaRef != "" {
			if s, err := p.Packs.LoadSchema(ctx, binding.ConfigSchemaRef); err == nil {
				configSchema = s
			}
		}
		describeHash, err := contract.FallbackDescribeHash(resolvedDigest, componentRef, opID, binding.RuntimeRef.World, binding.RuntimeRef.Export, nil, nil, configSchema, binding.StateSchemaRef)
		if err != nil {
			resp := p.errorResponse(locale, CodeHostFailure, opID, componentRef, resolvedDigest,
				"contract_introspection_failed", "/op_id", "runner.operator.contract_introspection_failed", err.Error())
			return cache.ContractSnapshot{}, &resp
		}
		schemaHash, err := contract.FallbackSchemaHash(resolvedDigest, componentRef, binding.RuntimeRef.World, binding.RuntimeRef.Export, binding.PackRef, nil, nil)
		if err != nil {
			resp := p.errorResponse(locale, CodeHostFailure, opID, componentRef, resolvedDigest,
				"contract_introspection_failed", "/op_id", "runner.operator.contract_introspection_failed", err.Error())
			return cache.ContractSnapshot{}, &resp
		}
		snap = cache.ContractSnapshot{
			ResolvedDigest: resolvedDigest,
			ComponentID:    componentRef,
			OperationID:    opID,
			ValidateOutput: validateOutput,
			Strict:         strict,
			DescribeHash:   describeHash,
			SchemaHash:     schemaHash,
			ConfigSchema:   configSchema,
		}
	}

	p.Contracts.Insert(key, snap)
	return snap, nil
}

func (p *Pipeline) validateNewState(ctx context.Context, binding registry.Binding, newState interface{}, strict bool, locale, opID, componentRef, resolvedDigest string) *wire.Response {
	if binding.ConfigSchemaRef == "" {
		if strict {
			resp := p.errorResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest,
				"new_state_schema_unavailable", "/new_state", "runner.operator.new_state_schema_unavailable",
				"no schema is declared to validate the returned new_state")
			return &resp
		}
		return nil
	}
	schemaDoc, err := p.Packs.LoadSchema(ctx, binding.ConfigSchemaRef)
	switch {
	case errors.Is(err, collaborators.ErrSchemaNotFound):
		resp := p.errorResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest,
			"new_state_schema_missing", "/new_state", "runner.operator.new_state_schema_missing",
			"the binding's config schema reference does not exist")
		return &resp
	case err != nil:
		resp := p.errorResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest,
			"new_state_schema_load_failed", "/new_state", "runner.operator.new_state_schema_load_failed",
			"loading the new_state schema failed")
		return &resp
	}
	if issues := schema.Validate(schemaDoc, newState, strict); len(issues) > 0 {
		resp := p.issuesResponse(locale, CodeTypeMismatch, opID, componentRef, resolvedDigest, "/new_state", issues)
		return &resp
	}
	return nil
}

func (p *Pipeline) errorResponse(locale, code, opID, componentRef, digest, diagCode, path, messageKey, fallback string) wire.Response {
	d := diagnostics.New(p.Catalog, locale, diagnostics.SeverityError, diagCode, path, messageKey, fallback)
	d.OperationID = opID
	d.ComponentID = componentRef
	d.Digest = digest
	return wire.Response{
		Status: wire.StatusError,
		Error: &wire.ErrorBody{
			Code:    code,
			Message: d.Message,
			Details: []diagnostics.Diagnostic{d},
		},
	}
}

func (p *Pipeline) issuesResponse(locale, code, opID, componentRef, digest, pathPrefix string, issues []schema.Issue) wire.Response {
	details := make([]diagnostics.Diagnostic, 0, len(issues))
	for _, issue := range issues {
		path := issue.Path
		if path == "/" {
			path = pathPrefix
		} else {
			path = pathPrefix + path
		}
		d := diagnostics.New(p.Catalog, locale, diagnostics.SeverityError, issue.Code, path, issue.MessageKey, issue.Fallback)
		d.OperationID = opID
		d.ComponentID = componentRef
		d.Digest = digest
		details = append(details, d)
	}
	msg := ""
	if len(details) > 0 {
		msg = details[0].Message
	}
	return wire.Response{
		Status: wire.StatusError,
		Error: &wire.ErrorBody{
			Code:    code,
			Message: msg,
			Details: details,
		},
	}
}

func normalizeOpID(opID string) string {
	if strings.TrimSpace(opID) == "" {
		return "run"
	}
	return opID
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// normalizeHash coerces a caller-supplied hash to the "sha256:<hex>" shape
// the snapshot's own hashes always carry, tolerating callers that omit the
// scheme prefix.
func normalizeHash(h string) string {
	if h == "" {
		return ""
	}
	if strings.Contains(h, ":") {
		return h
	}
	return "sha256:" + h
}
