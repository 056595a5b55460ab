package i18n

// Catalog is a hardcoded, in-process English message catalog keyed by
// message_key. Locales other than "en" always fall back to the
// caller-supplied fallback string verbatim — there is no translation
// pipeline in the core, only English plus pass-through fallbacks.
type Catalog struct {
	entries map[string]string
}

// NewCatalog builds the catalog with every message_key this host emits.
func NewCatalog() *Catalog {
	return &Catalog{entries: map[string]string{
		"runner.operator.tenant_mismatch":               "request tenant does not match this runtime's tenant",
		"runner.operator.missing_provider_selector":     "request must set provider_id or provider_type",
		"runner.operator.provider_not_found":            "no provider matches the requested selector",
		"runner.operator.op_not_found":                  "operation not found for the resolved provider",
		"runner.operator.resolve_error":                 "failed to resolve the requested operation",
		"runner.operator.policy_denied":                 "tenant policy denies this provider/operation",
		"runner.operator.pack_pinning_mismatch":         "request pack_id does not match the resolved binding's pack",
		"runner.operator.attachment_denied":             "attachment secret resolution was denied",
		"runner.operator.cbor_decode_failed":            "failed to decode the request payload",
		"runner.operator.component_not_found":           "referenced component was not found in the tenant's loaded packs",
		"runner.operator.contract_introspection_failed": "failed to introspect the component's contract",
		"runner.operator.schema_ref_not_found":          "a declared schema reference could not be loaded",
		"runner.operator.schema_load_failed":            "loading a declared schema failed",
		"runner.operator.schema_hash_mismatch":          "request schema_hash does not match the resolved contract's schema_hash",
		"runner.operator.new_state_schema_missing":      "the binding's config schema reference does not exist",
		"runner.operator.new_state_schema_load_failed":  "loading the new_state schema failed",
		"runner.operator.new_state_schema_unavailable":  "no schema is declared to validate the returned new_state",
		"runner.operator.invoke_failed":                 "component invocation failed",
		"runner.operator.encode_failed":                 "failed to encode the response payload",
		"runner.schema.unsupported_constraint":          "schema uses a constraint unsupported in strict mode",
		"runner.schema.invalid_schema":                  "schema failed to compile",
		"runner.schema.validation_failed":               "instance failed schema validation",
	}}
}

// Resolve looks up messageKey in the English catalog when locale is "en";
// every other locale falls back to the caller-supplied string verbatim,
// since this host ships no non-English translations.
func (c *Catalog) Resolve(locale, messageKey, fallback string) string {
	if locale == "en" {
		if msg, ok := c.entries[messageKey]; ok {
			return msg
		}
	}
	return fallback
}
