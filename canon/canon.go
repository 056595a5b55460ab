// Package canon provides the deterministic CBOR encoding used to hash
// contract material: map keys are always written in canonical (sorted)
// order regardless of Go's unordered map iteration, so permuting a JSON
// schema's key order never changes the resulting hash.
package canon

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
)

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// Marshal encodes v as canonical CBOR: map keys in sorted byte order, fixed
// field order for structs (Go struct field order, which our hash-material
// records freeze by definition).
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Hash computes "sha256:" + hex(sha256(canonical CBOR of v)).
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Value recursively normalizes a decoded JSON/CBOR tree so two
// structurally-equal documents with differently-ordered object keys are
// `reflect.DeepEqual` after passing through this function. Arrays keep
// their order; scalars are unchanged. Actual key ordering on the wire is
// handled by canonical CBOR encoding in Marshal/Hash above; this is for
// in-memory normalization of decoded trees (e.g. the schemas that contract
// introspection hashes).
func Value(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Value(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Value(item)
		}
		return out
	default:
		return v
	}
}
