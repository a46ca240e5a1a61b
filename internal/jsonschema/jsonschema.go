// Package jsonschema is a thin wrapper around the two third-party schema
// libraries the framework relies on: github.com/invopop/jsonschema to
// reflect a Go type into a JSON Schema document, and
// github.com/xeipuuv/gojsonschema to compile and evaluate that document
// against incoming payloads. Grounded on
// HatsuneMiku3939-sqsrouter/pkg/jsonschema, which wraps gojsonschema the
// same way for its envelope/message validation.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"reflect"

	invopop "github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

type (
	// Schema is a compiled, ready-to-validate-against schema.
	Schema = gojsonschema.Schema
	// Result is the outcome of one Validate call.
	Result = gojsonschema.Result
	// Document is the raw JSON Schema document for a Go type, suitable for
	// embedding in an AsyncAPI components.schemas entry.
	Document = map[string]any
)

// Reflect derives a JSON Schema document from a Go type via struct tag
// introspection (json + jsonschema tags), the same mechanism
// kadirpekel-hector/pkg/tool/functiontool/schema.go uses to expose Go
// function parameters to callers.
func Reflect(t reflect.Type) (Document, error) {
	reflector := &invopop.Reflector{
		RequiredFromJSONSchemaTags: false,
		DoNotReference:             true,
		ExpandedStruct:              true,
	}

	schema := reflector.ReflectFromType(t)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")

	return doc, nil
}

// Compile builds a validator from a schema document.
func Compile(doc Document) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema document: %w", err)
	}
	loader := gojsonschema.NewBytesLoader(raw)
	return gojsonschema.NewSchema(loader)
}

// Validate checks raw JSON bytes against a compiled schema.
func Validate(schema *Schema, raw []byte) (*Result, error) {
	return schema.Validate(gojsonschema.NewBytesLoader(raw))
}
