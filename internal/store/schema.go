package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const floorPlanSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 128},
		"image": {"type": "string"},
		"placements": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"required": ["entity_id", "x", "y"],
				"properties": {
					"entity_id": {"type": "string", "pattern": "^[a-z_]+\\.[a-z0-9_]+$"},
					"x": {"type": "number", "minimum": 0},
					"y": {"type": "number", "minimum": 0},
					"rotation": {"type": "number", "minimum": -360, "maximum": 360}
				}
			}
		}
	}
}`

const pluginSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "version", "entry"],
	"properties": {
		"name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9_-]{0,63}$"},
		"version": {
			"type": "string",
			"pattern": "^(0|[1-9][0-9]*)\\.(0|[1-9][0-9]*)\\.(0|[1-9][0-9]*)(-[0-9A-Za-z.-]+)?$"
		},
		"entry": {"type": "string", "minLength": 1, "maxLength": 512},
		"enabled": {"type": "boolean"},
		"config": {"type": ["object", "null"]}
	}
}`

// Validator checks a document against a JSON schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles a JSON schema.
func NewValidator(schema string) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate marshals doc and checks it, returning ErrInvalidDocument with
// every violation listed.
func (v *Validator) Validate(doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
}

// FloorPlanValidator validates floor plans.
func FloorPlanValidator() *Validator {
	return mustValidator(floorPlanSchema)
}

// PluginValidator validates plugin manifests.
func PluginValidator() *Validator {
	return mustValidator(pluginSchema)
}

func mustValidator(schema string) *Validator {
	v, err := NewValidator(schema)
	if err != nil {
		panic(err)
	}
	return v
}
