package snippet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// exportDoc is the on-the-wire shape for snippet import/export.
type exportDoc struct {
	Snippets []Snippet `json:"snippets" yaml:"snippets"`
}

// importSchema validates JSON imports before any snippet is constructed,
// so malformed settings files fail with a path-qualified error instead of
// a half-applied registry.
const importSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["snippets"],
  "properties": {
    "snippets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["trigger", "content"],
        "properties": {
          "id": {"type": "string"},
          "trigger": {"type": "string", "minLength": 2, "maxLength": 20},
          "content": {"type": "string", "minLength": 1, "maxLength": 10000}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("snippets.schema.json", importSchema)

// ExportJSON serializes the registry's snippet set.
func ExportJSON(r *Registry) ([]byte, error) {
	doc := exportDoc{Snippets: r.Snapshot()}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportJSON parses, schema-validates, and returns a snippet set.
func ImportJSON(data []byte) ([]Snippet, error) {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse snippets json: %w", err)
	}
	if err := compiledSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("snippets json schema: %w", err)
	}

	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snippets json: %w", err)
	}
	return doc.Snippets, nil
}

// ExportYAML serializes the registry's snippet set as YAML.
func ExportYAML(r *Registry) ([]byte, error) {
	doc := exportDoc{Snippets: r.Snapshot()}
	return yaml.Marshal(doc)
}

// ImportYAML parses a YAML snippet set.
func ImportYAML(data []byte) ([]Snippet, error) {
	var doc exportDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snippets yaml: %w", err)
	}
	return doc.Snippets, nil
}

// Import detects the format from the filename extension.
func Import(name string, data []byte) ([]Snippet, error) {
	switch {
	case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return ImportYAML(data)
	default:
		return ImportJSON(data)
	}
}
