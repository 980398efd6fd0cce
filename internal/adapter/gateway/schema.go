package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"pixelchat/internal/domain"
)

// methodSchemas are the JSON Schemas for RPC payloads. Methods without an
// entry take no payload.
var methodSchemas = map[string]string{
	"chat.send": `{
		"type": "object",
		"properties": {"text": {"type": "string", "maxLength": 8000}},
		"required": ["text"],
		"additionalProperties": false
	}`,
	"chat.ask": `{
		"type": "object",
		"properties": {"text": {"type": "string", "minLength": 1, "maxLength": 8000}},
		"required": ["text"],
		"additionalProperties": false
	}`,
	"chat.mode": `{
		"type": "object",
		"properties": {"mode": {"enum": ["create", "edit"]}},
		"required": ["mode"],
		"additionalProperties": false
	}`,
	"chat.upload": `{
		"type": "object",
		"properties": {
			"designation": {"enum": ["primary", "reference"]},
			"files": {
				"type": "array",
				"minItems": 1,
				"maxItems": 10,
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"content_type": {"type": "string"},
						"data": {"type": "string", "minLength": 1}
					},
					"required": ["name", "content_type", "data"]
				}
			}
		},
		"required": ["designation", "files"],
		"additionalProperties": false
	}`,
	"chat.analyze": `{
		"type": "object",
		"properties": {
			"question": {"type": "string", "maxLength": 2000},
			"file": {
				"type": "object",
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"content_type": {"type": "string"},
					"data": {"type": "string", "minLength": 1}
				},
				"required": ["name", "content_type", "data"]
			}
		},
		"additionalProperties": false
	}`,
	"chat.edit.start": `{
		"type": "object",
		"properties": {"message_id": {"type": "string", "minLength": 1}},
		"required": ["message_id"],
		"additionalProperties": false
	}`,
	"chat.edit": `{
		"type": "object",
		"properties": {
			"message_id": {"type": "string", "minLength": 1},
			"text": {"type": "string", "maxLength": 8000}
		},
		"required": ["message_id", "text"],
		"additionalProperties": false
	}`,
	"chat.clear": `{
		"type": "object",
		"properties": {"scope": {"enum": ["transient", "persistent", "all"]}},
		"required": ["scope"],
		"additionalProperties": false
	}`,
}

// payloadValidator checks RPC payloads against compiled method schemas.
type payloadValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newPayloadValidator(sources map[string]string) (*payloadValidator, error) {
	v := &payloadValidator{schemas: make(map[string]*jsonschema.Schema, len(sources))}
	for method, src := range sources {
		url := method + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema resource for %q: %w", method, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %q: %w", method, err)
		}
		v.schemas[method] = compiled
	}
	return v, nil
}

// Validate returns a domain.ErrRPCInvalidParams error when payload does not
// match the method's schema.
func (v *payloadValidator) Validate(method string, payload json.RawMessage) error {
	schema, ok := v.schemas[method]
	if !ok {
		return nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage(`{}`)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.NewDomainError(method, domain.ErrRPCInvalidParams, "invalid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return domain.NewDomainError(method, domain.ErrRPCInvalidParams, validationDetail(err))
	}
	return nil
}

// validationDetail flattens a schema error to its most specific cause.
func validationDetail(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
