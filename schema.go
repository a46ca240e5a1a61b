package natsapi

import (
	"reflect"
	"sync"

	ijsonschema "github.com/bjaus/natsapi/internal/jsonschema"
)

// SchemaRegistry derives, caches, and emits JSON Schema documents for
// handler parameter and result types (C1). It caches by reflect.Type so
// re-deriving the schema for an endpoint already seen is idempotent and
// cheap, mirroring the Python original's per-handler-identity cache.
type SchemaRegistry struct {
	mu          sync.Mutex
	definitions map[string]ijsonschema.Document
	modelMap    map[reflect.Type]string
	compiled    map[reflect.Type]*ijsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		definitions: make(map[string]ijsonschema.Document),
		modelMap:    make(map[reflect.Type]string),
		compiled:    make(map[reflect.Type]*ijsonschema.Schema),
	}
}

// modelName picks the schema's component name: the type's own Go name when
// it is a named struct, otherwise the `<fallback>_params` shape the Python
// original derives from the function name (§4.1).
func modelName(t reflect.Type, fallback string) string {
	if t.Name() != "" {
		return t.Name()
	}
	return fallback + "_params"
}

// Register derives (or reuses) the schema document for t, naming it via
// fallback when t is anonymous. Returns a ConfigError if a distinct type
// already claimed the same generated name — the "clear error ... identifying
// the clash" required by §4.1.
func (r *SchemaRegistry) Register(t reflect.Type, fallback string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.modelMap[t]; ok {
		return name, nil
	}

	name := modelName(t, fallback)
	for existingType, existingName := range r.modelMap {
		if existingName == name && existingType != t {
			return "", configErrorf("schema name clash: %q is generated for both %s and %s; rename one of the handlers so they don't share a name", name, existingType, t)
		}
	}

	doc, err := ijsonschema.Reflect(t)
	if err != nil {
		return "", configErrorf("deriving schema for %s: %v", t, err)
	}

	r.definitions[name] = doc
	r.modelMap[t] = name
	return name, nil
}

// Definitions returns a snapshot of every schema document registered so far,
// keyed by model name — the `definitions` half of the §4.1 output contract.
func (r *SchemaRegistry) Definitions() map[string]ijsonschema.Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]ijsonschema.Document, len(r.definitions))
	for k, v := range r.definitions {
		out[k] = v
	}
	return out
}

// ModelMap returns a snapshot of the type -> name mapping, the `model_map`
// half of the §4.1 output contract.
func (r *SchemaRegistry) ModelMap() map[reflect.Type]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[reflect.Type]string, len(r.modelMap))
	for k, v := range r.modelMap {
		out[k] = v
	}
	return out
}

// Validate checks raw JSON against the schema derived for t, compiling (and
// caching) that schema on first use. It returns a *ValidationError — never a
// plain error — when raw fails to satisfy the schema, so callers can feed it
// straight to the error handler registry (C4).
func (r *SchemaRegistry) Validate(t reflect.Type, fallback string, raw []byte) (*ValidationError, error) {
	schema, err := r.compiledSchema(t, fallback)
	if err != nil {
		return nil, err
	}

	result, err := ijsonschema.Validate(schema, raw)
	if err != nil {
		return nil, configErrorf("schema validation system error: %v", err)
	}
	if result.Valid() {
		return nil, nil
	}

	issues := make([]ValidationIssue, 0, len(result.Errors()))
	for _, d := range result.Errors() {
		issues = append(issues, ValidationIssue{
			Type:    d.Type(),
			Target:  d.Field(),
			Message: d.Description(),
		})
	}
	return &ValidationError{Errors: issues}, nil
}

func (r *SchemaRegistry) compiledSchema(t reflect.Type, fallback string) (*ijsonschema.Schema, error) {
	r.mu.Lock()
	if s, ok := r.compiled[t]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	if _, err := r.Register(t, fallback); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.compiled[t]; ok {
		return s, nil
	}

	doc := r.definitions[r.modelMap[t]]
	schema, err := ijsonschema.Compile(doc)
	if err != nil {
		return nil, configErrorf("compiling schema for %s: %v", t, err)
	}
	r.compiled[t] = schema
	return schema, nil
}
