package contract

import (
	"encoding/json"
	"testing"
)

func describePayload(t *testing.T) []byte {
	t.Helper()
	payload := DescribePayload{
		World: DescribeWorld,
		Operations: []Operation{
			{ID: "echo", InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"message": map[string]interface{}{"type": "string"}},
			}},
		},
		ConfigSchema: map[string]interface{}{"type": "object"},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestIntrospectSelectsExactMatch(t *testing.T) {
	raw := describePayload(t)
	c, err := Introspect(raw, "example.dummy@1.0.0", "echo")
	if err != nil {
		t.Fatal(err)
	}
	if c.Operation != "echo" {
		t.Fatalf("want echo, got %q", c.Operation)
	}
	if c.DescribeHash == "" || c.SchemaHash == "" {
		t.Fatal("expected non-empty hashes")
	}
}

func TestHashDeterministicUnderKeyPermutation(t *testing.T) {
	a := map[string]interface{}{"type": "object", "properties": map[string]interface{}{"a": 1.0, "b": 2.0}}
	b := map[string]interface{}{"properties": map[string]interface{}{"b": 2.0, "a": 1.0}, "type": "object"}

	h1, err := DescribeHash("ref", "op", "world", a, nil)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := DescribeHash("ref", "op", "world", b, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash changed under key permutation: %s vs %s", h1, h2)
	}
}

func TestDescribeAndSchemaHashFamiliesDiffer(t *testing.T) {
	raw := describePayload(t)
	c, err := Introspect(raw, "ref", "echo")
	if err != nil {
		t.Fatal(err)
	}
	if c.DescribeHash == c.SchemaHash {
		t.Fatal("describe_hash and schema_hash must be computed from distinct record shapes")
	}
}
