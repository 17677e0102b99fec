package ws

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const requestSchemaJSON = `{
  "type": "object",
  "required": ["version", "id", "path"],
  "properties": {
    "version": {"type": "string"},
    "id": {"type": "string", "minLength": 1},
    "path": {"type": "string", "minLength": 1},
    "data": {},
    "type": {"enum": ["call", "subscribe", "unsubscribe"]}
  }
}`

// newRequestValidator compiles the Request schema once at construction
// time; Validate is called per inbound frame.
func newRequestValidator() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(requestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal request schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("request.json", doc); err != nil {
		return nil, fmt.Errorf("add request schema: %w", err)
	}
	schema, err := compiler.Compile("request.json")
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return schema, nil
}
