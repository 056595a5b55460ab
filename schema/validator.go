// Package schema implements a strict subset of JSON-Schema draft-7: enough
// to validate operator input/output/new_state against declared contracts
// while rejecting schema features whose semantics drift between
// validators, so contract hashes stay stable across tools sharing the
// subset.
package schema

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Issue is one validation finding: a stable code, a JSON-pointer-like path
// into the instance, and an i18n key/fallback pair.
type Issue struct {
	Code       string
	Path       string
	MessageKey string
	Fallback   string
}

const (
	CodeUnsupportedConstraint = "unsupported_schema_constraint"
	CodeInvalidSchema         = "invalid_schema"
	CodeSchemaValidation      = "schema_validation"
)

var unsupportedKeywords = []string{"pattern", "format", "patternProperties"}

// Validate runs the draft-7 subset validator. When strict is true and the
// schema tree contains pattern, format, or patternProperties anywhere, one
// unsupported-constraint Issue per offending location is returned
// immediately, with no further validation performed.
func Validate(schemaDoc, instance interface{}, strict bool) []Issue {
	if strict {
		if issues := scanUnsupported(schemaDoc, "/"); len(issues) > 0 {
			return issues
		}
	}

	compiled, err := compile(schemaDoc)
	if err != nil {
		return []Issue{{
			Code:       CodeInvalidSchema,
			Path:       "/",
			MessageKey: "runner.schema.invalid_schema",
			Fallback:   "schema failed to compile",
		}}
	}

	var issues []Issue
	compiled.validate(instance, "/", &issues)
	return issues
}

func scanUnsupported(node interface{}, path string) []Issue {
	var issues []Issue
	obj, ok := node.(map[string]interface{})
	if !ok {
		return issues
	}
	for _, kw := range unsupportedKeywords {
		if _, present := obj[kw]; present {
			issues = append(issues, Issue{
				Code:       CodeUnsupportedConstraint,
				Path:       path,
				MessageKey: "runner.schema.unsupported_constraint",
				Fallback:   fmt.Sprintf("schema uses unsupported constraint %q at %s", kw, path),
			})
		}
	}
	for key, child := range obj {
		if key == "properties" || key == "patternProperties" || key == "definitions" {
			if sub, ok := child.(map[string]interface{}); ok {
				for propName, propSchema := range sub {
					issues = append(issues, scanUnsupported(propSchema, childPath(path, propName))...)
				}
			}
			continue
		}
		switch v := child.(type) {
		case map[string]interface{}:
			issues = append(issues, scanUnsupported(v, childPath(path, key))...)
		case []interface{}:
			for i, item := range v {
				issues = append(issues, scanUnsupported(item, childPath(childPath(path, key), fmt.Sprintf("%d", i)))...)
			}
		}
	}
	return issues
}

// schema is the compiled, narrow subset: type, required, properties,
// items, enum, minimum/maximum, minLength/maxLength. Anything else is
// accepted but not enforced (not rejected — only the strict-mode scan
// above rejects outright-unsupported constraints).
type schema struct {
	typ        string
	required   map[string]bool
	properties map[string]*schema
	items      *schema
	enum       []interface{}
	minimum    *float64
	maximum    *float64
	minLength  *int
	maxLength  *int
}

func compile(doc interface{}) (*schema, error) {
	obj, ok := doc.(map[string]interface{})
	if !ok {
		if doc == nil {
			return &schema{}, nil
		}
		return nil, fmt.Errorf("schema document must be an object, got %T", doc)
	}
	s := &schema{properties: map[string]*schema{}, required: map[string]bool{}}
	if t, ok := obj["type"].(string); ok {
		s.typ = t
	}
	if reqs, ok := obj["required"].([]interface{}); ok {
		for _, r := range reqs {
			if name, ok := r.(string); ok {
				s.required[name] = true
			}
		}
	}
	if props, ok := obj["properties"].(map[string]interface{}); ok {
		for name, propDoc := range props {
			child, err := compile(propDoc)
			if err != nil {
				return nil, err
			}
			s.properties[name] = child
		}
	}
	if items, ok := obj["items"]; ok {
		child, err := compile(items)
		if err != nil {
			return nil, err
		}
		s.items = child
	}
	if enum, ok := obj["enum"].([]interface{}); ok {
		s.enum = enum
	}
	if min, ok := numberField(obj, "minimum"); ok {
		s.minimum = &min
	}
	if max, ok := numberField(obj, "maximum"); ok {
		s.maximum = &max
	}
	if minLen, ok := intField(obj, "minLength"); ok {
		s.minLength = &minLen
	}
	if maxLen, ok := intField(obj, "maxLength"); ok {
		s.maxLength = &maxLen
	}
	return s, nil
}

func numberField(obj map[string]interface{}, key string) (float64, bool) {
	v, ok := obj[key].(float64)
	return v, ok
}

func intField(obj map[string]interface{}, key string) (int, bool) {
	v, ok := obj[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func (s *schema) validate(instance interface{}, path string, issues *[]Issue) {
	if s == nil {
		return
	}
	if len(s.enum) > 0 && !enumContains(s.enum, instance) {
		*issues = append(*issues, schemaIssue(path, "instance is not one of the schema's enum values"))
	}
	switch s.typ {
	case "string":
		str, ok := instance.(string)
		if !ok {
			*issues = append(*issues, schemaIssue(path, "expected a string"))
			return
		}
		if s.minLength != nil && len(str) < *s.minLength {
			*issues = append(*issues, schemaIssue(path, "string shorter than minLength"))
		}
		if s.maxLength != nil && len(str) > *s.maxLength {
			*issues = append(*issues, schemaIssue(path, "string longer than maxLength"))
		}
	case "number", "integer":
		num, ok := instance.(float64)
		if !ok {
			*issues = append(*issues, schemaIssue(path, "expected a number"))
			return
		}
		if s.minimum != nil && num < *s.minimum {
			*issues = append(*issues, schemaIssue(path, "number below minimum"))
		}
		if s.maximum != nil && num > *s.maximum {
			*issues = append(*issues, schemaIssue(path, "number above maximum"))
		}
	case "boolean":
		if _, ok := instance.(bool); !ok {
			*issues = append(*issues, schemaIssue(path, "expected a boolean"))
		}
	case "array":
		arr, ok := instance.([]interface{})
		if !ok {
			*issues = append(*issues, schemaIssue(path, "expected an array"))
			return
		}
		for i, item := range arr {
			s.items.validate(item, childPath(path, fmt.Sprintf("%d", i)), issues)
		}
	case "object":
		obj, ok := instance.(map[string]interface{})
		if !ok {
			*issues = append(*issues, schemaIssue(path, "expected an object"))
			return
		}
		for name := range s.required {
			if _, present := obj[name]; !present {
				*issues = append(*issues, schemaIssue(childPath(path, name), fmt.Sprintf("missing required property %q", name)))
			}
		}
		for name, value := range obj {
			if propSchema, ok := s.properties[name]; ok {
				propSchema.validate(value, childPath(path, name), issues)
			}
		}
	}
}

// childPath appends a segment to a JSON-Pointer-like path; the root path
// reports as "/" itself rather than the empty string, so every issue's
// path is a non-empty, unambiguous pointer.
func childPath(base, segment string) string {
	if base == "/" {
		return "/" + segment
	}
	return base + "/" + segment
}

func schemaIssue(path, detail string) Issue {
	return Issue{
		Code:       CodeSchemaValidation,
		Path:       path,
		MessageKey: "runner.schema.validation_failed",
		Fallback:   detail,
	}
}

func enumContains(enum []interface{}, v interface{}) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

// DecodeJSON decodes a JSON document using the faster json-iterator
// implementation, used for schema documents and describe payloads.
func DecodeJSON(raw []byte, out interface{}) error {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, out)
}
