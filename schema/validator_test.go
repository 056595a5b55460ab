package schema

import "testing"

func TestStrictModeRejectsUnsupportedConstraints(t *testing.T) {
	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":    "string",
				"pattern": "^[a-z]+$",
			},
		},
	}
	issues := Validate(doc, map[string]interface{}{"name": "abc"}, true)
	if len(issues) != 1 || issues[0].Code != CodeUnsupportedConstraint {
		t.Fatalf("expected one unsupported_schema_constraint issue, got %+v", issues)
	}
}

func TestPermissiveModeAllowsPattern(t *testing.T) {
	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "pattern": "^[a-z]+$"},
		},
	}
	issues := Validate(doc, map[string]interface{}{"name": "abc"}, false)
	if len(issues) != 0 {
		t.Fatalf("expected no issues in permissive mode, got %+v", issues)
	}
}

func TestValidInstanceReturnsNoIssues(t *testing.T) {
	doc := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"message"},
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
	}
	issues := Validate(doc, map[string]interface{}{"message": "ping"}, true)
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestInvalidInstanceReportsSchemaIssue(t *testing.T) {
	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
	}
	issues := Validate(doc, map[string]interface{}{"message": 42.0}, true)
	if len(issues) != 1 || issues[0].Code != CodeSchemaValidation {
		t.Fatalf("expected one schema_validation issue, got %+v", issues)
	}
}

func TestIssuePathIsJSONPointerShaped(t *testing.T) {
	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
	}
	issues := Validate(doc, map[string]interface{}{"message": 42.0}, true)
	if len(issues) != 1 || issues[0].Path != "/message" {
		t.Fatalf("expected path /message, got %+v", issues)
	}
}

func TestMissingRequiredProperty(t *testing.T) {
	doc := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"message"},
	}
	issues := Validate(doc, map[string]interface{}{}, true)
	if len(issues) != 1 {
		t.Fatalf("expected one missing-property issue, got %+v", issues)
	}
}
