package contract

import "github.com/wasmrunner/host/canon"

// describeHashMaterial and schemaHashMaterial are the introspector's own
// hash-material record shapes. Field order is frozen by these struct
// definitions and must never change; it is part of the hash contract.
type describeHashMaterial struct {
	ComponentRef string      `cbor:"component_ref"`
	Operation    string      `cbor:"operation"`
	World        string      `cbor:"world"`
	InputSchema  interface{} `cbor:"input_schema"`
	OutputSchema interface{} `cbor:"output_schema"`
}

type schemaHashMaterial struct {
	ComponentRef string      `cbor:"component_ref"`
	Operation    string      `cbor:"operation"`
	InputSchema  interface{} `cbor:"input_schema"`
	OutputSchema interface{} `cbor:"output_schema"`
	ConfigSchema interface{} `cbor:"config_schema"`
}

// DescribeHash computes sha256:<hex> over the canonical CBOR encoding of
// {component_ref, operation, world, input_schema, output_schema}.
func DescribeHash(componentRef, operation, world string, inputSchema, outputSchema interface{}) (string, error) {
	return canon.Hash(describeHashMaterial{
		ComponentRef: componentRef,
		Operation:    operation,
		World:        world,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	})
}

// SchemaHash computes sha256:<hex> over the canonical CBOR encoding of
// {component_ref, operation, input_schema, output_schema, config_schema}.
func SchemaHash(componentRef, operation string, inputSchema, outputSchema, configSchema interface{}) (string, error) {
	return canon.Hash(schemaHashMaterial{
		ComponentRef: componentRef,
		Operation:    operation,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		ConfigSchema: configSchema,
	})
}

// fallbackDescribeMaterial and fallbackSchemaMaterial are the invocation
// pipeline's OWN, richer hash-material records used only when a
// component's describe() is unavailable. These must never be computed
// through DescribeHash/SchemaHash above, and vice versa — the two hash
// families are deliberately incompatible.
type fallbackDescribeMaterial struct {
	ResolvedDigest string      `cbor:"resolved_digest"`
	ComponentRef   string      `cbor:"component_ref"`
	OperationID    string      `cbor:"operation_id"`
	World          string      `cbor:"world"`
	Export         string      `cbor:"export"`
	InputSchema    interface{} `cbor:"input_schema"`
	OutputSchema   interface{} `cbor:"output_schema"`
	ConfigSchema   interface{} `cbor:"config_schema"`
	StateSchemaRef string      `cbor:"state_schema_ref"`
}

type fallbackSchemaMaterial struct {
	ResolvedDigest string      `cbor:"resolved_digest"`
	ComponentRef   string      `cbor:"component_ref"`
	World          string      `cbor:"world"`
	Export         string      `cbor:"export"`
	PackRef        string      `cbor:"pack_ref"`
	InputSchema    interface{} `cbor:"input_schema"`
	OutputSchema   interface{} `cbor:"output_schema"`
}

// FallbackDescribeHash computes the pipeline's own describe-shaped hash
// when a component offers no describe() export, pulling in resolution-time
// fields the introspector never sees.
func FallbackDescribeHash(resolvedDigest, componentRef, operationID, world, export string, inputSchema, outputSchema, configSchema interface{}, stateSchemaRef string) (string, error) {
	return canon.Hash(fallbackDescribeMaterial{
		ResolvedDigest: resolvedDigest,
		ComponentRef:   componentRef,
		OperationID:    operationID,
		World:          world,
		Export:         export,
		InputSchema:    canon.Value(inputSchema),
		OutputSchema:   canon.Value(outputSchema),
		ConfigSchema:   canon.Value(configSchema),
		StateSchemaRef: stateSchemaRef,
	})
}

// FallbackSchemaHash computes the pipeline's own schema-shaped fallback
// hash, keyed additionally by pack_ref rather than operation/config.
func FallbackSchemaHash(resolvedDigest, componentRef, world, export, packRef string, inputSchema, outputSchema interface{}) (string, error) {
	return canon.Hash(fallbackSchemaMaterial{
		ResolvedDigest: resolvedDigest,
		ComponentRef:   componentRef,
		World:          world,
		Export:         export,
		PackRef:        packRef,
		InputSchema:    canon.Value(inputSchema),
		OutputSchema:   canon.Value(outputSchema),
	})
}
