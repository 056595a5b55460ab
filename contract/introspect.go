// Package contract derives input/output/config schemas from a component's
// self-describe payload and computes the two stable hashes used for drift
// detection and memoization. The introspector's own hash-material records
// are intentionally narrower than the invocation pipeline's fallback
// records (see hash.go) and the two must never be mixed.
package contract

import (
	"github.com/pkg/errors"

	"github.com/wasmrunner/host/canon"
	"github.com/wasmrunner/host/schema"
)

// DescribeWorld is the self-describe world identifier the introspector
// requires a component to implement.
const DescribeWorld = "greentic:component@0.6.0"

// Operation is one entry of a component's describe() payload.
type Operation struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Input  *operationSchemaHolder `json:"input"`
	Output *operationSchemaHolder `json:"output"`

	InputSchema  interface{} `json:"input_schema"`
	OutputSchema interface{} `json:"output_schema"`
}

type operationSchemaHolder struct {
	Schema interface{} `json:"schema"`
}

// DescribePayload is the full shape returned by a 0.6-capable component's
// describe() export.
type DescribePayload struct {
	World        string      `json:"world"`
	Operations   []Operation `json:"operations"`
	ConfigSchema interface{} `json:"config_schema"`
}

// Contract is the resolved, canonicalized triple for one (component,
// operation).
type Contract struct {
	Operation    string
	InputSchema  interface{}
	OutputSchema interface{}
	ConfigSchema interface{}
	DescribeHash string
	SchemaHash   string
}

// Introspect parses a raw describe() payload, selects the requested
// operation, canonicalizes its schemas, and computes describe_hash and
// schema_hash.
//
// Selection rule: exact id/name match on requestedOperation; otherwise the
// operation named "run"; otherwise the first declared operation.
func Introspect(raw []byte, componentRef, requestedOperation string) (Contract, error) {
	var payload DescribePayload
	if err := schema.DecodeJSON(raw, &payload); err != nil {
		return Contract{}, errors.Wrap(err, "contract: decode describe payload")
	}
	if len(payload.Operations) == 0 {
		return Contract{}, errors.New("contract: describe payload declares no operations")
	}

	op := selectOperation(payload.Operations, requestedOperation)

	inputSchema := extractSchema(op.Input, op.InputSchema)
	outputSchema := extractSchema(op.Output, op.OutputSchema)
	configSchema := payload.ConfigSchema

	inputSchema = canon.Value(inputSchema)
	outputSchema = canon.Value(outputSchema)
	configSchema = canon.Value(configSchema)

	describeHash, err := DescribeHash(componentRef, op.ID, payload.World, inputSchema, outputSchema)
	if err != nil {
		return Contract{}, errors.Wrap(err, "contract: compute describe_hash")
	}
	schemaHash, err := SchemaHash(componentRef, op.ID, inputSchema, outputSchema, configSchema)
	if err != nil {
		return Contract{}, errors.Wrap(err, "contract: compute schema_hash")
	}

	return Contract{
		Operation:    op.ID,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		ConfigSchema: configSchema,
		DescribeHash: describeHash,
		SchemaHash:   schemaHash,
	}, nil
}

func selectOperation(ops []Operation, requested string) Operation {
	for _, op := range ops {
		if op.ID == requested || op.Name == requested {
			return op
		}
	}
	for _, op := range ops {
		if op.ID == "run" || op.Name == "run" {
			return op
		}
	}
	return ops[0]
}

func extractSchema(holder *operationSchemaHolder, legacy interface{}) interface{} {
	if holder != nil && holder.Schema != nil {
		return holder.Schema
	}
	return legacy
}
