package natsapi

import (
	"reflect"
	"strconv"

	ijsonschema "github.com/bjaus/natsapi/internal/jsonschema"
)

// DomainErrors declares the code range a family of application-specific
// errors occupies, used only to render the `errors` section of the
// generated document (§4.6). code/message are read off each sample: an
// *RPCError's Code/Message fields; otherwise the (RPCCode, Msg) accessor
// methods, for backward compatibility with hand-rolled domain errors;
// otherwise exported Code/Message struct fields found by reflection.
type DomainErrors struct {
	Lower   int
	Upper   int
	Samples []error
}

// Server is one entry of the document's `servers` map.
type Server struct {
	URL         string `json:"url"`
	Protocol    string `json:"protocol"`
	Description string `json:"description,omitempty"`
}

// AsyncAPIOptions bundles the optional inputs to GenerateAsyncAPI beyond the
// route table itself.
type AsyncAPIOptions struct {
	Description  string
	DomainErrors *DomainErrors
	Servers      map[string]Server
	ExternalDocs *ExternalDocs
}

// GenerateAsyncAPI is the pure function of §4.6 (C7): (title, version,
// asyncapiVersion, routes, subs, pubs, options) -> AsyncAPI 2.0.0 document.
// It does not mutate the route table (it does register every rendered type
// in schemas) and produces the same output for the same route table, so App
// caches it by generation rather than recomputing per
// schema.RETRIEVE call.
func GenerateAsyncAPI(title, version, asyncapiVersion string, schemas *SchemaRegistry, table *RouteTable, opts AsyncAPIOptions) map[string]any {
	doc := map[string]any{
		"asyncapi": asyncapiVersion,
		"info": mapOmitEmpty(map[string]any{
			"title":       title,
			"version":     version,
			"description": opts.Description,
		}),
		"defaultContentType": "application/json",
	}
	if opts.ExternalDocs != nil {
		doc["externalDocs"] = externalDocsMap(opts.ExternalDocs)
	}
	if len(opts.Servers) > 0 {
		servers := make(map[string]any, len(opts.Servers))
		for name, s := range opts.Servers {
			servers[name] = mapOmitEmpty(map[string]any{
				"url":         s.URL,
				"protocol":    s.Protocol,
				"description": s.Description,
			})
		}
		doc["servers"] = servers
	}

	channels := map[string]any{}
	schemaDefs := map[string]ijsonschema.Document{}

	for subject, endpoint := range table.Routes() {
		switch e := endpoint.(type) {
		case *RequestEndpoint:
			if !e.IncludeSchema() {
				continue
			}
			paramsName, _ := schemas.Register(e.paramsType, e.operationID)
			schemaDefs[paramsName] = schemas.Definitions()[paramsName]

			var success any
			refs := make([]string, 0, len(e.resultTypes))
			for i, t := range e.resultTypes {
				name, _ := schemas.Register(t, e.operationID+"_result"+strconv.Itoa(i))
				schemaDefs[name] = schemas.Definitions()[name]
				refs = append(refs, schemaRef(name))
			}
			if len(refs) == 1 {
				success = map[string]any{"$ref": refs[0]}
			} else {
				success = map[string]any{"anyOf": refStrings(refs)}
			}

			operation := mapOmitEmpty(map[string]any{
				"operationId": e.OperationID(),
				"summary":     e.Summary(),
				"description": e.Description(),
				"tags":        tagObjects(e.Tags()),
				"deprecated":  boolOrOmit(e.Deprecated()),
			})
			if e.SuggestedTimeout() != nil {
				operation["x-suggested-timeout"] = e.SuggestedTimeout().Seconds()
			}
			operation["message"] = map[string]any{"payload": map[string]any{"$ref": schemaRef(paramsName)}}
			operation["replies"] = []any{success, map[string]any{"$ref": schemaRef("JsonRPCError")}}

			channels[subject] = map[string]any{"request": operation}

		case *PublishEndpoint:
			if !e.IncludeSchema() {
				continue
			}
			paramsName, _ := schemas.Register(e.paramsType, e.operationID)
			schemaDefs[paramsName] = schemas.Definitions()[paramsName]

			operation := mapOmitEmpty(map[string]any{
				"operationId": e.OperationID(),
				"summary":     e.Summary(),
				"description": e.Description(),
				"tags":        tagObjects(e.Tags()),
				"deprecated":  boolOrOmit(e.Deprecated()),
			})
			operation["message"] = map[string]any{"payload": map[string]any{"$ref": schemaRef(paramsName)}}
			channels[subject] = map[string]any{"publish": operation}
		}
	}

	for _, s := range table.Subs() {
		if !s.IncludeSchema() {
			continue
		}
		operation := mapOmitEmpty(map[string]any{
			"summary":     s.Summary(),
			"description": s.Description(),
			"tags":        tagObjects(s.Tags()),
		})
		if s.ExternalDocs != nil {
			operation["externalDocs"] = externalDocsMap(s.ExternalDocs)
		}
		operation["message"] = map[string]any{"summary": s.Summary()}
		channels[s.Subject()] = map[string]any{"subscribe": operation}
	}

	for _, p := range table.Pubs() {
		if !p.IncludeSchema() {
			continue
		}
		name, _ := schemas.Register(p.paramsType, sanitizeOperationID(p.Summary(), p.Subject()))
		schemaDefs[name] = schemas.Definitions()[name]

		operation := mapOmitEmpty(map[string]any{
			"summary":     p.Summary(),
			"description": p.Description(),
			"tags":        tagObjects(p.Tags()),
		})
		if p.ExternalDocs != nil {
			operation["externalDocs"] = externalDocsMap(p.ExternalDocs)
		}
		operation["message"] = map[string]any{"payload": map[string]any{"$ref": schemaRef(name)}}
		channels[p.Subject()] = map[string]any{"publish": operation}
	}

	doc["channels"] = channels

	componentSchemas := make(map[string]any, len(schemaDefs)+1)
	for name, def := range schemaDefs {
		componentSchemas[name] = def
	}
	componentSchemas["JsonRPCError"] = jsonRPCErrorSchema()
	doc["components"] = map[string]any{"schemas": componentSchemas}

	if opts.DomainErrors != nil {
		doc["errors"] = renderDomainErrors(opts.DomainErrors)
	}

	return doc
}

// renderDomainErrors implements §4.6's `errors` section: each sample error
// contributes one {code, message} item, read from an *RPCError's fields
// first, then the (RPCCode, Msg) method pair (the fallback handleGeneric
// also honors for backward-compatible domain errors), then exported
// Code/Message struct fields found by reflection.
func renderDomainErrors(d *DomainErrors) map[string]any {
	items := make([]map[string]any, 0, len(d.Samples))
	for _, sample := range d.Samples {
		var code int
		var message string

		if rpcErr, ok := sample.(*RPCError); ok {
			code, message = rpcErr.Code, rpcErr.Message
		} else if formatted, ok := sample.(interface {
			RPCCode() int
			Msg() string
		}); ok {
			code, message = formatted.RPCCode(), formatted.Msg()
		} else {
			v := reflect.ValueOf(sample)
			for v.Kind() == reflect.Ptr {
				v = v.Elem()
			}
			if v.Kind() == reflect.Struct {
				if f := v.FieldByName("Code"); f.IsValid() {
					code = int(f.Int())
				}
				if f := v.FieldByName("Message"); f.IsValid() {
					message = f.String()
				}
			}
		}

		items = append(items, map[string]any{"code": code, "message": message})
	}

	return map[string]any{
		"range": map[string]any{"upper": d.Upper, "lower": d.Lower},
		"items": items,
	}
}

func jsonRPCErrorSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":      map[string]any{"type": "integer"},
			"message":   map[string]any{"type": "string"},
			"timestamp": map[string]any{"type": "integer"},
			"data": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": map[string]any{"type": "string"},
					"errors": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"type":    map[string]any{"type": "string"},
								"target":  map[string]any{"type": "string"},
								"message": map[string]any{"type": "string"},
							},
						},
					},
				},
			},
		},
		"required": []string{"code", "message", "timestamp"},
	}
}

func schemaRef(name string) string {
	return "#/components/schemas/" + name
}

func refStrings(refs []string) []any {
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		out = append(out, map[string]any{"$ref": r})
	}
	return out
}

func tagObjects(tags []string) []any {
	if len(tags) == 0 {
		return nil
	}
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		out = append(out, map[string]any{"name": t})
	}
	return out
}

func externalDocsMap(d *ExternalDocs) map[string]any {
	return mapOmitEmpty(map[string]any{"description": d.Description, "url": d.URL})
}

func boolOrOmit(b bool) any {
	if !b {
		return nil
	}
	return b
}

// mapOmitEmpty drops zero-valued entries, approximating the Python
// original's `exclude_none=true` rendering rule (§4.6).
func mapOmitEmpty(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
		case []any:
			if len(t) == 0 {
				continue
			}
		case bool:
			if !t {
				continue
			}
		}
		out[k] = v
	}
	return out
}

