package tools

import (
	"context"
	"encoding/json"
)

// Func implements a tool. args is the raw JSON argument object sent by the
// remote service. The result is marshaled to JSON and sent back as the call output.
type Func func(ctx context.Context, args json.RawMessage) (any, error)

// Descriptor describes a registered tool.
type Descriptor struct {
	Name        string
	Description string
	// Parameters is a JSON schema for the argument object. Empty means any object.
	Parameters json.RawMessage
}

// Definition is the tool entry advertised in session configuration.
type Definition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Option configures a tool at registration.
type Option func(*Descriptor)

// WithDescription sets the description advertised to the remote service.
func WithDescription(desc string) Option {
	return func(d *Descriptor) { d.Description = desc }
}

// WithParameters sets the JSON schema for the arguments.
func WithParameters(schema json.RawMessage) Option {
	return func(d *Descriptor) { d.Parameters = schema }
}
