package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator validates tool arguments against their parameter schema.
// Compiled schemas are cached by their source text.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*gojsonschema.Schema)}
}

// Compile checks that schema is a valid JSON schema.
func (sv *SchemaValidator) Compile(schema json.RawMessage) error {
	_, err := sv.getSchema(string(schema))
	return err
}

// ValidateArgs validates args against the descriptor's parameter schema.
// A descriptor without a schema accepts anything.
func (sv *SchemaValidator) ValidateArgs(d *Descriptor, args json.RawMessage) error {
	if len(d.Parameters) == 0 {
		return nil
	}
	schema, err := sv.getSchema(string(d.Parameters))
	if err != nil {
		return fmt.Errorf("invalid parameter schema for tool %s: %w", d.Name, err)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &ValidationError{Tool: d.Name, Detail: err.Error()}
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return &ValidationError{Tool: d.Name, Detail: "argument validation failed: " + strings.Join(msgs, "; ")}
	}
	return nil
}

func (sv *SchemaValidator) getSchema(schemaJSON string) (*gojsonschema.Schema, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if schema, ok := sv.cache[schemaJSON]; ok {
		return schema, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, err
	}
	sv.cache[schemaJSON] = schema
	return schema, nil
}
