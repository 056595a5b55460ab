// Package wire defines the CBOR envelope exchanged at the operator
// transport boundary, distinct from the JSON used internally for schema
// documents and describe payloads.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/wasmrunner/host/diagnostics"
)

// AttachmentRef is a reference to request-side attachment metadata; the
// cleartext itself is resolved by the pipeline via the secrets
// collaborator, never carried on the wire.
type AttachmentRef struct {
	ID       string                 `cbor:"id"`
	Metadata map[string]interface{} `cbor:"metadata,omitempty"`
}

// Payload is the operator request body: an opaque encoded_input blob plus
// any attachments the caller wants merged in before invocation.
type Payload struct {
	EncodedInput []byte          `cbor:"encoded_input"`
	Attachments  []AttachmentRef `cbor:"attachments,omitempty"`
}

// Request is the full operator invocation envelope.
type Request struct {
	TenantID      string   `cbor:"tenant_id,omitempty"`
	ProviderID    string   `cbor:"provider_id,omitempty"`
	ProviderType  string   `cbor:"provider_type,omitempty"`
	PackID        string   `cbor:"pack_id,omitempty"`
	OpID          string   `cbor:"op_id"`
	TraceID       string   `cbor:"trace_id,omitempty"`
	CorrelationID string   `cbor:"correlation_id,omitempty"`
	TimeoutMs     *int64   `cbor:"timeout_ms,omitempty"`
	Flags         []string `cbor:"flags,omitempty"`
	OpVersion     string   `cbor:"op_version,omitempty"`
	SchemaHash    string   `cbor:"schema_hash,omitempty"`
	Locale        string   `cbor:"locale,omitempty"`
	Payload       Payload  `cbor:"payload"`
}

// ErrorBody is the wire shape of a failed invocation's error detail.
type ErrorBody struct {
	Code    string                   `cbor:"code"`
	Message string                   `cbor:"message"`
	Details []diagnostics.Diagnostic `cbor:"details,omitempty"`
}

// Status is the outer Ok/Error discriminant of a Response.
type Status string

const (
	StatusOk    Status = "ok"
	StatusError Status = "error"
)

// Response is the full operator invocation response envelope.
type Response struct {
	Status        Status     `cbor:"status"`
	EncodedOutput []byte     `cbor:"encoded_output,omitempty"`
	Error         *ErrorBody `cbor:"error,omitempty"`
}

// EncodeRequest/DecodeRequest and their Response counterparts wrap
// fxamacker/cbor's default encoding mode for the whole envelope (map keys
// are not sorted), not the canonical mode package canon uses for hashing.
func EncodeRequest(r Request) ([]byte, error)   { return cbor.Marshal(r) }
func DecodeRequest(b []byte) (Request, error)   { var r Request; err := cbor.Unmarshal(b, &r); return r, err }
func EncodeResponse(r Response) ([]byte, error) { return cbor.Marshal(r) }
func DecodeResponse(b []byte) (Response, error) {
	var r Response
	err := cbor.Unmarshal(b, &r)
	return r, err
}

// DecodeValue decodes an arbitrary CBOR-encoded value tree (the component's
// own convention for encoded_input/output) into generic Go values
// (map[string]interface{}, []interface{}, scalars). Empty input decodes to
// a nil value, matching the pipeline's "empty input -> null" rule.
func DecodeValue(raw []byte) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return normalizeCBORValue(v), nil
}

// EncodeValue encodes a generic value tree back to CBOR.
func EncodeValue(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

// normalizeCBORValue rewrites map[interface{}]interface{} (the default cbor
// decode shape for maps) into map[string]interface{}, and CBOR integer
// values (decoded as int64/uint64) into float64, so downstream code,
// including schema validation and canonicalization, can treat every decoded
// document uniformly regardless of codec. Without the numeric
// normalization, a whole number encoded on the wire as a CBOR integer
// (the common case) would decode to an int64/uint64 instead of the
// float64 every "number"/"integer" schema check and JSON-based describe
// payload already assumes.
func normalizeCBORValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[toStringKey(k)] = normalizeCBORValue(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeCBORValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeCBORValue(val)
		}
		return out
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}

func toStringKey(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}
