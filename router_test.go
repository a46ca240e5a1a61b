package natsapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequestEndpoint(t *testing.T, subject string) *RequestEndpoint {
	t.Helper()
	handler := func(ctx context.Context, app *App, p fooParams) (fooResult, error) {
		return fooResult{Status: "OK"}, nil
	}
	e, err := NewRequestEndpoint(subject, handler)
	require.NoError(t, err)
	return e
}

func TestRouteTable_AddQualifiesSubject(t *testing.T) {
	table := NewRouteTable(nil)
	e := newTestRequestEndpoint(t, "foo")

	require.NoError(t, table.Add("natsapi.development", e))
	assert.Equal(t, "natsapi.development.foo", e.Subject())

	_, ok := table.Lookup("natsapi.development.foo")
	assert.True(t, ok)
}

func TestRouteTable_DuplicateSubjectFails(t *testing.T) {
	table := NewRouteTable(nil)
	require.NoError(t, table.Add("root", newTestRequestEndpoint(t, "foo")))

	err := table.Add("root", newTestRequestEndpoint(t, "foo"))
	require.Error(t, err)
	var dupErr *DuplicateRouteError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "root.foo", dupErr.Subject)
}

func TestRouteTable_RPCMethodAllowList(t *testing.T) {
	table := NewRouteTable([]string{"CREATE", "DELETE"})

	err := table.Add("root", newTestRequestEndpoint(t, "user.CREATE"))
	require.NoError(t, err)

	err = table.Add("root", newTestRequestEndpoint(t, "user.UPDATE"))
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRouteTable_SubPubNotQualifiedByRootOrPrefix(t *testing.T) {
	table := NewRouteTable(nil)
	sub := NewSubEndpoint("events.>", WithSubQueue("workers"))
	table.AddSub(sub)

	require.Len(t, table.Subs(), 1)
	assert.Equal(t, "events.>", table.Subs()[0].Subject())

	// Adding the identical (subject, queue) pair again is a no-op.
	table.AddSub(NewSubEndpoint("events.>", WithSubQueue("workers")))
	assert.Len(t, table.Subs(), 1)
}

func TestRouterBuilder_IncludeAppliesPrefixAndTags(t *testing.T) {
	table := NewRouteTable(nil)
	b := NewRouterBuilder(WithPrefix("orders"), WithTags("orders"))
	e := newTestRequestEndpoint(t, "CREATE")
	b.AddRequest(e)

	require.NoError(t, b.Include(table, "root"))
	assert.Equal(t, "root.orders.CREATE", e.Subject())
	assert.Contains(t, e.Tags(), "orders")
}

func TestRouterBuilder_IncludeFailsOnDuplicate(t *testing.T) {
	table := NewRouteTable(nil)
	b := NewRouterBuilder()
	b.AddRequest(newTestRequestEndpoint(t, "foo"))
	b.AddRequest(newTestRequestEndpoint(t, "foo"))

	err := b.Include(table, "root")
	require.Error(t, err)
}

func TestRouterBuilder_DeprecatedCascades(t *testing.T) {
	b := NewRouterBuilder(WithBuilderDeprecated())
	e := newTestRequestEndpoint(t, "foo")
	b.AddRequest(e)
	assert.True(t, e.Deprecated())
}
