package react

import (
	"testing"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

func TestValidateStructured_TextAlwaysValid(t *testing.T) {
	if err := ValidateStructured(agent.FormatText, `{"type":"object"}`, "anything goes"); err != nil {
		t.Errorf("TEXT format should always validate, got %v", err)
	}
}

func TestValidateStructured_JSONNoSchema(t *testing.T) {
	if err := ValidateStructured(agent.FormatJSON, "", `{"a":1}`); err != nil {
		t.Errorf("valid JSON with no schema should pass, got %v", err)
	}
	if err := ValidateStructured(agent.FormatJSON, "", `not json`); err == nil {
		t.Error("invalid JSON should fail")
	}
}

func TestValidateStructured_JSONWithSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`
	if err := ValidateStructured(agent.FormatJSON, schema, `{"name":"arc"}`); err != nil {
		t.Errorf("matching document should pass, got %v", err)
	}
	if err := ValidateStructured(agent.FormatJSON, schema, `{"other":1}`); err == nil {
		t.Error("document missing required field should fail")
	}
}

func TestValidateStructured_YAMLWithSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`
	if err := ValidateStructured(agent.FormatYAML, schema, "name: arc\n"); err != nil {
		t.Errorf("matching YAML document should pass, got %v", err)
	}
	if err := ValidateStructured(agent.FormatYAML, schema, "other: 1\n"); err == nil {
		t.Error("YAML document missing required field should fail")
	}
}
