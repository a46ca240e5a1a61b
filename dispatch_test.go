package natsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	replies  [][]byte
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, data)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replies)
}

func (p *recordingPublisher) decoded(t *testing.T, i int) Reply {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var rep Reply
	require.NoError(t, json.Unmarshal(p.replies[i], &rep))
	return rep
}

func newTestDispatcher(t *testing.T, table *RouteTable, bus Publisher) *Dispatcher {
	t.Helper()
	schemas := NewSchemaRegistry()
	errs := NewErrorHandlerRegistry(nil)
	return NewDispatcher(nil, table, schemas, errs, bus, nil)
}

func TestDispatcher_HappyRequest(t *testing.T) {
	var calls int32
	handler := func(ctx context.Context, app *App, p fooParams) (fooResult, error) {
		atomic.AddInt32(&calls, 1)
		return fooResult{Status: "OK"}, nil
	}
	e, err := NewRequestEndpoint("foo", handler)
	require.NoError(t, err)

	table := NewRouteTable(nil)
	require.NoError(t, table.Add("natsapi.development", e))

	bus := &recordingPublisher{}
	d := newTestDispatcher(t, table, bus)

	reqID := uuid.New()
	payload, _ := json.Marshal(Request{JSONRPC: "2.0", ID: reqID, Params: json.RawMessage(`{"foo":1}`), Timeout: 60})

	d.Dispatch(context.Background(), InboundMessage{Subject: "natsapi.development.foo", Reply: "_INBOX.abc", Data: payload})
	waitFor(t, func() bool { return bus.count() == 1 })

	rep := bus.decoded(t, 0)
	assert.Nil(t, rep.Error)
	assert.Equal(t, reqID, rep.ID)
	assert.EqualValues(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatcher_UnknownSubject(t *testing.T) {
	table := NewRouteTable(nil)
	bus := &recordingPublisher{}
	d := newTestDispatcher(t, table, bus)

	payload, _ := json.Marshal(Request{JSONRPC: "2.0", ID: uuid.New(), Params: json.RawMessage(`{}`)})
	d.Dispatch(context.Background(), InboundMessage{Subject: "natsapi.development.nonexistent.CREATE", Reply: "_INBOX.abc", Data: payload})
	waitFor(t, func() bool { return bus.count() == 1 })

	rep := bus.decoded(t, 0)
	require.NotNil(t, rep.Error)
	assert.Equal(t, CodeUnknownMethod, rep.Error.Code)
	assert.Equal(t, "NO_SUCH_ENDPOINT", rep.Error.Message)
}

func TestDispatcher_ValidationFailure(t *testing.T) {
	handler := func(ctx context.Context, app *App, p fooParams) (fooResult, error) {
		return fooResult{Status: "OK"}, nil
	}
	e, err := NewRequestEndpoint("foo", handler)
	require.NoError(t, err)

	table := NewRouteTable(nil)
	require.NoError(t, table.Add("root", e))

	bus := &recordingPublisher{}
	d := newTestDispatcher(t, table, bus)

	payload, _ := json.Marshal(Request{JSONRPC: "2.0", ID: uuid.New(), Params: json.RawMessage(`{"foo":"str"}`)})
	d.Dispatch(context.Background(), InboundMessage{Subject: "root.foo", Reply: "_INBOX.abc", Data: payload})
	waitFor(t, func() bool { return bus.count() == 1 })

	rep := bus.decoded(t, 0)
	require.NotNil(t, rep.Error)
	assert.Equal(t, CodeValidationError, rep.Error.Code)
	require.NotEmpty(t, rep.Error.Data.Errors)
	assert.Contains(t, rep.Error.Data.Errors[0].Target, "foo")
}

func TestDispatcher_MethodFallback(t *testing.T) {
	handler := func(ctx context.Context, app *App, p fooParams) (fooResult, error) {
		return fooResult{Status: "OK"}, nil
	}
	e, err := NewRequestEndpoint("nonexistent.CREATE", handler)
	require.NoError(t, err)

	table := NewRouteTable(nil)
	require.NoError(t, table.Add("root", e))

	bus := &recordingPublisher{}
	d := newTestDispatcher(t, table, bus)

	payload, _ := json.Marshal(Request{JSONRPC: "2.0", ID: uuid.New(), Method: "CREATE", Params: json.RawMessage(`{"foo":1}`)})
	d.Dispatch(context.Background(), InboundMessage{Subject: "root.nonexistent", Reply: "_INBOX.abc", Data: payload})
	waitFor(t, func() bool { return bus.count() == 1 })

	rep := bus.decoded(t, 0)
	assert.Nil(t, rep.Error)
}

func TestDispatcher_PublishClassificationNeverReplies(t *testing.T) {
	var called int32
	handler := func(ctx context.Context, app *App, p fooParams) error {
		atomic.AddInt32(&called, 1)
		return nil
	}
	e, err := NewPublishEndpoint("foo", handler)
	require.NoError(t, err)

	table := NewRouteTable(nil)
	require.NoError(t, table.Add("root", e))

	bus := &recordingPublisher{}
	d := newTestDispatcher(t, table, bus)

	payload, _ := json.Marshal(Request{JSONRPC: "2.0", Params: json.RawMessage(`{"foo":1}`)})
	d.Dispatch(context.Background(), InboundMessage{Subject: "root.foo", Reply: "", Data: payload})

	waitFor(t, func() bool { return atomic.LoadInt32(&called) == 1 })
	assert.Equal(t, 0, bus.count())
}

func TestDispatcher_ReplySentEvenOnError(t *testing.T) {
	handler := func(ctx context.Context, app *App, p fooParams) (fooResult, error) {
		return fooResult{}, NewRPCError(CodeInternalError, "boom", nil)
	}
	e, err := NewRequestEndpoint("foo", handler)
	require.NoError(t, err)

	table := NewRouteTable(nil)
	require.NoError(t, table.Add("root", e))

	bus := &recordingPublisher{}
	d := newTestDispatcher(t, table, bus)

	payload, _ := json.Marshal(Request{JSONRPC: "2.0", ID: uuid.New(), Params: json.RawMessage(`{"foo":1}`)})
	d.Dispatch(context.Background(), InboundMessage{Subject: "root.foo", Reply: "_INBOX.abc", Data: payload})
	waitFor(t, func() bool { return bus.count() == 1 })

	rep := bus.decoded(t, 0)
	require.NotNil(t, rep.Error)
	assert.Equal(t, CodeInternalError, rep.Error.Code)
	assert.Nil(t, rep.Result)
}

func TestDispatcher_ConcurrentFanOut(t *testing.T) {
	var calls int32
	handler := func(ctx context.Context, app *App, p fooParams) (fooResult, error) {
		atomic.AddInt32(&calls, 1)
		return fooResult{Status: "OK"}, nil
	}
	e, err := NewRequestEndpoint("foo", handler)
	require.NoError(t, err)

	table := NewRouteTable(nil)
	require.NoError(t, table.Add("root", e))

	bus := &recordingPublisher{}
	d := newTestDispatcher(t, table, bus)

	const n = 100
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		payload, _ := json.Marshal(Request{JSONRPC: "2.0", ID: ids[i], Params: json.RawMessage(`{"foo":1}`)})
		d.Dispatch(context.Background(), InboundMessage{Subject: "root.foo", Reply: fmt.Sprintf("_INBOX.%d", i), Data: payload})
	}
	waitFor(t, func() bool { return bus.count() == n })

	seen := make(map[uuid.UUID]bool, n)
	for i := 0; i < n; i++ {
		rep := bus.decoded(t, i)
		seen[rep.ID] = true
	}
	assert.Len(t, seen, n)
	assert.EqualValues(t, int32(n), atomic.LoadInt32(&calls))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}
