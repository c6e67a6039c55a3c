package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/btnflow/btnflow/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for the persisted workflow graph
// format. Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://btnflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "version": { "type": "integer", "minimum": 0 },
    "nodes": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["action_id"],
      "properties": {
        "id": { "type": "string" },
        "action_id": { "type": "string", "minLength": 1 },
        "position": { "$ref": "#/$defs/position" },
        "data": { "type": "object" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source_node", "source_output", "target_node", "target_input"],
      "properties": {
        "id": { "type": "string" },
        "source_node": { "type": "string", "minLength": 1 },
        "source_output": { "type": "string", "minLength": 1 },
        "target_node": { "type": "string", "minLength": 1 },
        "target_input": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "position": {
      "type": "object",
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      },
      "additionalProperties": false
    }
  }
}`

// actionSchemaJSON validates stored action definitions, including the
// request/parse/render config blocks of HTTP actions.
const actionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://btnflow.dev/schemas/action.json",
  "type": "object",
  "required": ["id", "kind"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "kind": { "type": "string", "enum": ["http", "builtin", "plugin"] },
    "description": { "type": "string" },
    "inputs": { "type": "array", "items": { "$ref": "#/$defs/port" } },
    "outputs": { "type": "array", "items": { "$ref": "#/$defs/port" } },
    "config": { "$ref": "#/$defs/http_config" }
  },
  "additionalProperties": false,
  "$defs": {
    "port": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "enum": ["string", "number", "boolean", "object", "array"] },
        "description": { "type": "string" },
        "required": { "type": "boolean" },
        "default": {},
        "choices": { "type": "array", "items": { "type": "string" } }
      },
      "additionalProperties": false
    },
    "http_config": {
      "type": "object",
      "properties": {
        "request": {
          "type": "object",
          "properties": {
            "method": { "type": "string" },
            "url": { "type": "string", "minLength": 1 },
            "headers": { "type": ["object", "array"] },
            "body": {},
            "body_mode": { "type": "string", "enum": ["json", "form", "urlencoded", "text", "raw"] },
            "timeout": { "type": ["number", "string"] }
          },
          "additionalProperties": true
        },
        "parse": { "type": "object" },
        "render": { "type": "object" }
      },
      "additionalProperties": true
    }
  }
}`

// SchemaValidator validates persisted documents against the embedded JSON
// Schemas. Compiled once, safe for concurrent use.
type SchemaValidator struct {
	workflow *jsonschema.Schema
	action   *jsonschema.Schema
}

var (
	sharedValidator     *SchemaValidator
	sharedValidatorErr  error
	sharedValidatorOnce sync.Once
)

// NewSchemaValidator compiles the embedded schemas. The compiled forms are
// shared process-wide; the constructor only pays the compile cost once.
func NewSchemaValidator() (*SchemaValidator, error) {
	sharedValidatorOnce.Do(func() {
		wf, err := compileSchema("https://btnflow.dev/schemas/workflow.json", workflowSchemaJSON)
		if err != nil {
			sharedValidatorErr = err
			return
		}
		act, err := compileSchema("https://btnflow.dev/schemas/action.json", actionSchemaJSON)
		if err != nil {
			sharedValidatorErr = err
			return
		}
		sharedValidator = &SchemaValidator{workflow: wf, action: act}
	})
	return sharedValidator, sharedValidatorErr
}

func compileSchema(url, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	return c.Compile(url)
}

// ValidateWorkflowDoc checks a workflow graph against the graph schema.
func (v *SchemaValidator) ValidateWorkflowDoc(g *schema.WorkflowGraph) *schema.ValidationResult {
	return v.validate(v.workflow, g, "workflow graph")
}

// ValidateActionDoc checks a stored action definition against the action
// schema.
func (v *SchemaValidator) ValidateActionDoc(def *schema.ActionDefinition) *schema.ValidationResult {
	return v.validate(v.action, def, "action definition")
}

func (v *SchemaValidator) validate(s *jsonschema.Schema, value any, what string) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if value == nil {
		result.AddError("/", schema.ErrCodeValidation, what+" is nil")
		return result
	}

	doc, err := toJSONValue(value)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "cannot serialize "+what+": "+err.Error())
		return result
	}

	if err := s.Validate(doc); err != nil {
		for _, violation := range violations(err) {
			result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
		}
	}
	return result
}

type violation struct {
	path    string
	message string
}

// violations flattens a jsonschema error tree into leaf messages with
// instance locations.
func violations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{path: "/", message: err.Error()}}
	}
	return collectViolations(verr)
}

func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

// toJSONValue round-trips a Go value through JSON encoding so numbers
// arrive as json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}
