package natsapi

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"time"
)

// Kind identifies which of the four endpoint descriptor variants (§3) a
// route is.
type Kind int

const (
	KindRequest Kind = iota
	KindPublish
	KindSub
	KindPub
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindPublish:
		return "publish"
	case KindSub:
		return "sub"
	case KindPub:
		return "pub"
	default:
		return "unknown"
	}
}

// Endpoint is the sum type described in §3: every registered route is one of
// Request, Publish, Sub, or Pub. Request and Publish are the two variants
// the dispatcher (C5) can invoke; Sub and Pub exist only to be
// rendered into the AsyncAPI document (C7).
type Endpoint interface {
	Kind() Kind
	Subject() string
	Summary() string
	Description() string
	Tags() []string
	Deprecated() bool
	IncludeSchema() bool

	setSubject(string)
}

type base struct {
	subject       string
	summary       string
	description   string
	tags          []string
	deprecated    bool
	includeSchema bool
}

func (b *base) Subject() string       { return b.subject }
func (b *base) Summary() string       { return b.summary }
func (b *base) Description() string   { return b.description }
func (b *base) Tags() []string        { return b.tags }
func (b *base) Deprecated() bool      { return b.deprecated }
func (b *base) IncludeSchema() bool   { return b.includeSchema }
func (b *base) setSubject(s string)   { b.subject = s }

var operationIDSanitizer = regexp.MustCompile(`[^0-9a-zA-Z_]`)

// sanitizeOperationID implements the invariant from §3:
// operation_id = sanitize(summary + "_" + subject).
func sanitizeOperationID(summary, subject string) string {
	return operationIDSanitizer.ReplaceAllString(summary+"_"+subject, "_")
}

// invokeFunc is the type-erased shape every generic handler is compiled down
// to, so RouteTable can hold Request/Publish endpoints of different
// parameter and result types in one map (§9 design note on option (a):
// "a registration builder ... with the framework invoking decode -> call").
type invokeFunc func(ctx context.Context, app *App, raw json.RawMessage) (any, error)

// RequestEndpoint is the `Request` variant of §3: a two-way call that always
// produces a reply.
type RequestEndpoint struct {
	base

	invoke           invokeFunc
	paramsType       reflect.Type
	resultTypes      []reflect.Type
	skipValidation   bool
	suggestedTimeout *time.Duration
	operationID      string
}

func (e *RequestEndpoint) Kind() Kind                { return KindRequest }
func (e *RequestEndpoint) ParamsType() reflect.Type  { return e.paramsType }
func (e *RequestEndpoint) ResultTypes() []reflect.Type {
	return e.resultTypes
}
func (e *RequestEndpoint) SkipValidation() bool        { return e.skipValidation }
func (e *RequestEndpoint) OperationID() string         { return e.operationID }
func (e *RequestEndpoint) SuggestedTimeout() *time.Duration { return e.suggestedTimeout }

// PublishEndpoint is the `Publish` variant of §3: a one-way call, no reply.
type PublishEndpoint struct {
	base

	invoke         invokeFunc
	paramsType     reflect.Type
	skipValidation bool
	operationID    string
}

func (e *PublishEndpoint) Kind() Kind               { return KindPublish }
func (e *PublishEndpoint) ParamsType() reflect.Type { return e.paramsType }
func (e *PublishEndpoint) SkipValidation() bool     { return e.skipValidation }
func (e *PublishEndpoint) OperationID() string      { return e.operationID }

// ExternalDocs mirrors AsyncAPI's externalDocs object.
type ExternalDocs struct {
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// SubEndpoint is the documentation-only `Sub` variant of §3.
type SubEndpoint struct {
	base
	Queue        string
	ExternalDocs *ExternalDocs
}

func (e *SubEndpoint) Kind() Kind { return KindSub }

// PubEndpoint is the documentation-only `Pub` variant of §3.
type PubEndpoint struct {
	base
	paramsType   reflect.Type
	ExternalDocs *ExternalDocs
}

func (e *PubEndpoint) Kind() Kind               { return KindPub }
func (e *PubEndpoint) ParamsType() reflect.Type { return e.paramsType }

// RequestOption configures a RequestEndpoint at registration time.
type RequestOption func(*RequestEndpoint)

func WithRequestSummary(s string) RequestOption       { return func(e *RequestEndpoint) { e.summary = s } }
func WithRequestDescription(s string) RequestOption   { return func(e *RequestEndpoint) { e.description = s } }
func WithRequestTags(tags ...string) RequestOption {
	return func(e *RequestEndpoint) { e.tags = append(e.tags, tags...) }
}
func WithRequestDeprecated() RequestOption { return func(e *RequestEndpoint) { e.deprecated = true } }
func WithRequestExcludeFromSchema() RequestOption {
	return func(e *RequestEndpoint) { e.includeSchema = false }
}
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(e *RequestEndpoint) { e.suggestedTimeout = &d }
}
func WithSkipValidation() RequestOption { return func(e *RequestEndpoint) { e.skipValidation = true } }

// WithResultTypes declares the concrete result types a request endpoint may
// reply with, used when R is an interface (a union result, §8 scenario 4)
// and its static type alone can't enumerate the alternatives.
func WithResultTypes(samples ...any) RequestOption {
	return func(e *RequestEndpoint) {
		types := make([]reflect.Type, 0, len(samples))
		for _, s := range samples {
			types = append(types, reflect.TypeOf(s))
		}
		e.resultTypes = types
	}
}

// PublishOption configures a PublishEndpoint at registration time.
type PublishOption func(*PublishEndpoint)

func WithPublishSummary(s string) PublishOption     { return func(e *PublishEndpoint) { e.summary = s } }
func WithPublishDescription(s string) PublishOption { return func(e *PublishEndpoint) { e.description = s } }
func WithPublishTags(tags ...string) PublishOption {
	return func(e *PublishEndpoint) { e.tags = append(e.tags, tags...) }
}
func WithPublishDeprecated() PublishOption { return func(e *PublishEndpoint) { e.deprecated = true } }
func WithPublishExcludeFromSchema() PublishOption {
	return func(e *PublishEndpoint) { e.includeSchema = false }
}
func WithPublishSkipValidation() PublishOption {
	return func(e *PublishEndpoint) { e.skipValidation = true }
}

// SubOption configures a SubEndpoint.
type SubOption func(*SubEndpoint)

func WithSubQueue(q string) SubOption             { return func(e *SubEndpoint) { e.Queue = q } }
func WithSubSummary(s string) SubOption           { return func(e *SubEndpoint) { e.summary = s } }
func WithSubDescription(s string) SubOption       { return func(e *SubEndpoint) { e.description = s } }
func WithSubTags(tags ...string) SubOption        { return func(e *SubEndpoint) { e.tags = append(e.tags, tags...) } }
func WithSubExternalDocs(d ExternalDocs) SubOption { return func(e *SubEndpoint) { e.ExternalDocs = &d } }

// PubOption configures a PubEndpoint.
type PubOption func(*PubEndpoint)

func WithPubSummary(s string) PubOption           { return func(e *PubEndpoint) { e.summary = s } }
func WithPubDescription(s string) PubOption       { return func(e *PubEndpoint) { e.description = s } }
func WithPubTags(tags ...string) PubOption        { return func(e *PubEndpoint) { e.tags = append(e.tags, tags...) } }
func WithPubExternalDocs(d ExternalDocs) PubOption { return func(e *PubEndpoint) { e.ExternalDocs = &d } }

// RequestHandler is the signature user code registers for a Request
// endpoint: app is always the framework's *App (§9's "the application type"
// resolved statically rather than dynamically, since Go has no runtime
// duck-typed first-parameter check). params is the typed, already-validated
// parameter struct; result is marshaled as reply.result.
type RequestHandler[P any, R any] func(ctx context.Context, app *App, params P) (R, error)

// PublishHandler is the signature user code registers for a Publish
// endpoint. It returns only an error: for a message without a reply subject
// the dispatcher logs it, and for a message with one the dispatcher renders
// it into the error reply (a nil error yields a reply with no result).
type PublishHandler[P any] func(ctx context.Context, app *App, params P) error

// NewRequestEndpoint builds a Request descriptor (§3) from a generic
// handler. subject is relative; it is qualified with a root path (and any
// router prefix) when included into a RouteTable (§4.2).
func NewRequestEndpoint[P any, R any](subject string, handler RequestHandler[P, R], opts ...RequestOption) (*RequestEndpoint, error) {
	var zeroP P
	paramsType := reflect.TypeOf(zeroP)

	e := &RequestEndpoint{
		base:       base{subject: subject, summary: subject, includeSchema: true},
		paramsType: paramsType,
	}

	var zeroR R
	if t := reflect.TypeOf(zeroR); t != nil {
		e.resultTypes = []reflect.Type{t}
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.skipValidation {
		if _, ok := any(zeroP).(map[string]any); !ok {
			return nil, configErrorf("endpoint %q: skip_validation requires params type map[string]any to carry the free-form key/value group", subject)
		}
	}

	if e.resultTypes == nil {
		return nil, configErrorf("endpoint %q: result type is an interface; supply WithResultTypes(...) to enumerate it for the schema registry", subject)
	}

	e.operationID = sanitizeOperationID(e.summary, subject)

	e.invoke = func(ctx context.Context, app *App, raw json.RawMessage) (any, error) {
		var params P
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, WrapRPCError(CodeInvalidParams, "INVALID_PARAMETERS_RECEIVED", err)
		}
		return handler(ctx, app, params)
	}

	return e, nil
}

// NewPublishEndpoint builds a Publish descriptor (§3) from a generic
// handler.
func NewPublishEndpoint[P any](subject string, handler PublishHandler[P], opts ...PublishOption) (*PublishEndpoint, error) {
	var zeroP P
	paramsType := reflect.TypeOf(zeroP)

	e := &PublishEndpoint{
		base:       base{subject: subject, summary: subject, includeSchema: true},
		paramsType: paramsType,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.skipValidation {
		if _, ok := any(zeroP).(map[string]any); !ok {
			return nil, configErrorf("endpoint %q: skip_validation requires params type map[string]any to carry the free-form key/value group", subject)
		}
	}

	e.operationID = sanitizeOperationID(e.summary, subject)

	e.invoke = func(ctx context.Context, app *App, raw json.RawMessage) (any, error) {
		var params P
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, WrapRPCError(CodeInvalidParams, "INVALID_PARAMETERS_RECEIVED", err)
		}
		return nil, handler(ctx, app, params)
	}

	return e, nil
}

// NewSubEndpoint builds a documentation-only Sub descriptor (§3).
func NewSubEndpoint(subject string, opts ...SubOption) *SubEndpoint {
	e := &SubEndpoint{base: base{subject: subject, includeSchema: true}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewPubEndpoint builds a documentation-only Pub descriptor (§3), sampled
// from a zero value of P to derive its schema type.
func NewPubEndpoint[P any](subject string, opts ...PubOption) *PubEndpoint {
	var zeroP P
	e := &PubEndpoint{
		base:       base{subject: subject, includeSchema: true},
		paramsType: reflect.TypeOf(zeroP),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
