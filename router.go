package natsapi

import (
	"fmt"
	"strings"
	"sync"
)

// RouteTable is the registry described in §3/§4.2 (C2): a unique mapping
// from fully-qualified subject to endpoint descriptor. It is written only
// during configuration and read concurrently by the dispatcher afterwards —
// no mutation after startup (§5 "Shared resources").
type RouteTable struct {
	mu         sync.RWMutex
	routes     map[string]Endpoint // Request or Publish, keyed by final subject
	subs       []*SubEndpoint
	pubs       []*PubEndpoint
	rpcMethods map[string]struct{} // nil: no restriction on the trailing token
}

// NewRouteTable returns an empty table. rpcMethods, if non-empty, restricts
// the last dot-separated token of every Request/Publish subject to that
// allow-list (§4.2 step 2); an empty slice means no restriction.
func NewRouteTable(rpcMethods []string) *RouteTable {
	var allowed map[string]struct{}
	if len(rpcMethods) > 0 {
		allowed = make(map[string]struct{}, len(rpcMethods))
		for _, m := range rpcMethods {
			allowed[m] = struct{}{}
		}
	}
	return &RouteTable{
		routes:     make(map[string]Endpoint),
		rpcMethods: allowed,
	}
}

// Add inserts a single Request or Publish endpoint under rootPath, with no
// additional prefix. It is the low-level primitive RouterBuilder.Include and
// App.AddRequest/AddPublish both funnel through.
func (t *RouteTable) Add(rootPath string, e Endpoint) error {
	return t.add(rootPath, "", e)
}

func (t *RouteTable) add(rootPath, prefix string, e Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	relative := e.Subject()
	if prefix != "" {
		relative = prefix + "." + relative
	}
	final := rootPath + "." + relative

	if t.rpcMethods != nil {
		method := lastToken(relative)
		if _, ok := t.rpcMethods[method]; !ok {
			return configErrorf("%q is an invalid request method for subject %q; allowed methods: %v", method, final, allowedMethodNames(t.rpcMethods))
		}
	}

	if _, exists := t.routes[final]; exists {
		return &DuplicateRouteError{Subject: final}
	}

	e.setSubject(final)
	t.routes[final] = e
	return nil
}

// AddSub registers a documentation-only Sub descriptor. Per the Python
// original, Sub/Pub subjects are accumulated as given — they are not
// qualified with rootPath or a router prefix, since they commonly describe
// wildcard subscriptions (e.g. "root.>") that don't correspond to one
// concrete endpoint subject.
func (t *RouteTable) AddSub(s *SubEndpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.subs {
		if existing.Subject() == s.Subject() && existing.Queue == s.Queue {
			return
		}
	}
	t.subs = append(t.subs, s)
}

// AddPub registers a documentation-only Pub descriptor.
func (t *RouteTable) AddPub(p *PubEndpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.pubs {
		if existing.Subject() == p.Subject() {
			return
		}
	}
	t.pubs = append(t.pubs, p)
}

// Lookup returns the endpoint registered for subject, if any.
func (t *RouteTable) Lookup(subject string) (Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.routes[subject]
	return e, ok
}

// Routes returns a snapshot of every Request/Publish endpoint, keyed by
// final subject.
func (t *RouteTable) Routes() map[string]Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Endpoint, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

// Subs returns a snapshot of every declared Sub descriptor.
func (t *RouteTable) Subs() []*SubEndpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*SubEndpoint, len(t.subs))
	copy(out, t.subs)
	return out
}

// Pubs returns a snapshot of every declared Pub descriptor.
func (t *RouteTable) Pubs() []*PubEndpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*PubEndpoint, len(t.pubs))
	copy(out, t.pubs)
	return out
}

func lastToken(subject string) string {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 {
		return subject
	}
	return subject[i+1:]
}

func allowedMethodNames(allowed map[string]struct{}) []string {
	out := make([]string, 0, len(allowed))
	for m := range allowed {
		out = append(out, m)
	}
	return out
}

// RouterBuilder accumulates endpoints locally, carrying an optional subject
// prefix and a set of inherited tags, for later inclusion into a RouteTable
// (C3). It mirrors the Python original's SubjectRouter: build up a group of
// related endpoints, then call Include once the application is ready to own
// them.
type RouterBuilder struct {
	prefix     string
	tags       []string
	deprecated bool

	requests  []*RequestEndpoint
	publishes []*PublishEndpoint
	subs      []*SubEndpoint
	pubs      []*PubEndpoint
}

// RouterBuilderOption configures a RouterBuilder at construction.
type RouterBuilderOption func(*RouterBuilder)

// WithPrefix sets the subject prefix every Request/Publish endpoint added to
// this builder is namespaced under.
func WithPrefix(prefix string) RouterBuilderOption {
	return func(b *RouterBuilder) { b.prefix = prefix }
}

// WithTags sets tags inherited by every Request/Publish endpoint added to
// this builder; Sub/Pub descriptors keep their own tags.
func WithTags(tags ...string) RouterBuilderOption {
	return func(b *RouterBuilder) { b.tags = tags }
}

// WithBuilderDeprecated marks every Request/Publish endpoint added to this
// builder as deprecated. An endpoint's own flag can only add deprecation,
// never clear the builder's.
func WithBuilderDeprecated() RouterBuilderOption {
	return func(b *RouterBuilder) { b.deprecated = true }
}

// NewRouterBuilder returns an empty builder.
func NewRouterBuilder(opts ...RouterBuilderOption) *RouterBuilder {
	b := &RouterBuilder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddRequest registers a Request endpoint on the builder.
func (b *RouterBuilder) AddRequest(e *RequestEndpoint) {
	e.tags = mergeTags(b.tags, e.tags)
	if !e.deprecated {
		e.deprecated = b.deprecated
	}
	b.requests = append(b.requests, e)
}

// AddPublish registers a Publish endpoint on the builder.
func (b *RouterBuilder) AddPublish(e *PublishEndpoint) {
	e.tags = mergeTags(b.tags, e.tags)
	if !e.deprecated {
		e.deprecated = b.deprecated
	}
	b.publishes = append(b.publishes, e)
}

// AddSub registers a documentation-only Sub descriptor on the builder.
func (b *RouterBuilder) AddSub(e *SubEndpoint) {
	b.subs = append(b.subs, e)
}

// AddPub registers a documentation-only Pub descriptor on the builder.
func (b *RouterBuilder) AddPub(e *PubEndpoint) {
	b.pubs = append(b.pubs, e)
}

// Include folds every endpoint accumulated on the builder into table under
// rootPath, applying the builder's prefix (§4.2 step 1). Returns the first
// error encountered (duplicate subject or disallowed RPC method).
func (b *RouterBuilder) Include(table *RouteTable, rootPath string) error {
	for _, e := range b.requests {
		if err := table.add(rootPath, b.prefix, e); err != nil {
			return fmt.Errorf("including request %q: %w", e.Subject(), err)
		}
	}
	for _, e := range b.publishes {
		if err := table.add(rootPath, b.prefix, e); err != nil {
			return fmt.Errorf("including publish %q: %w", e.Subject(), err)
		}
	}
	for _, s := range b.subs {
		table.AddSub(s)
	}
	for _, p := range b.pubs {
		table.AddPub(p)
	}
	return nil
}

func mergeTags(inherited, own []string) []string {
	if len(inherited) == 0 {
		return own
	}
	out := make([]string, 0, len(inherited)+len(own))
	out = append(out, inherited...)
	out = append(out, own...)
	return out
}
