package natsapi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandlerRegistry_RendersRPCError(t *testing.T) {
	r := NewErrorHandlerRegistry(nil)
	req := &Request{ID: uuid.New()}

	reply := r.Render(context.Background(), NewRPCError(CodeUnknownMethod, "NO_SUCH_ENDPOINT", nil), "subj", req)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeUnknownMethod, reply.Error.Code)
	assert.Equal(t, "NO_SUCH_ENDPOINT", reply.Error.Message)
	assert.Nil(t, reply.Result)
}

func TestErrorHandlerRegistry_RendersValidationError(t *testing.T) {
	r := NewErrorHandlerRegistry(nil)
	req := &Request{ID: uuid.New()}

	verr := &ValidationError{Errors: []ValidationIssue{{Type: "type", Target: "foo", Message: "must be integer"}}}
	reply := r.Render(context.Background(), verr, "subj", req)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeValidationError, reply.Error.Code)
	require.Len(t, reply.Error.Data.Errors, 1)
	assert.Equal(t, "foo", reply.Error.Data.Errors[0].Target)
}

func TestErrorHandlerRegistry_GenericFallback(t *testing.T) {
	r := NewErrorHandlerRegistry(nil)
	req := &Request{ID: uuid.New()}

	reply := r.Render(context.Background(), errors.New("boom"), "subj", req)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeGenericError, reply.Error.Code)
	assert.Equal(t, "boom", reply.Error.Message)
}

type formattedDomainError struct{}

func (formattedDomainError) Error() string  { return "broker exists" }
func (formattedDomainError) RPCCode() int   { return -27001 }
func (formattedDomainError) Msg() string    { return "BROKER_EXISTS" }
func (formattedDomainError) Detail() string { return "broker already registered" }

func TestErrorHandlerRegistry_HonorsFormattedDomainError(t *testing.T) {
	r := NewErrorHandlerRegistry(nil)
	req := &Request{ID: uuid.New()}

	reply := r.Render(context.Background(), formattedDomainError{}, "subj", req)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -27001, reply.Error.Code)
	assert.Equal(t, "BROKER_EXISTS: broker already registered", reply.Error.Message)
}

type parentError struct{ msg string }

func (e *parentError) Error() string { return e.msg }

type childError struct {
	*parentError
}

func TestErrorHandlerRegistry_MostDerivedHandlerWins(t *testing.T) {
	r := NewErrorHandlerRegistry(nil)

	var parentCalled, childCalled bool
	r.On(&parentError{}, func(ctx context.Context, err error, subject string, req *Request) *ErrorBody {
		parentCalled = true
		return &ErrorBody{Code: -1, Message: "parent"}
	})
	r.On(&childError{}, func(ctx context.Context, err error, subject string, req *Request) *ErrorBody {
		childCalled = true
		return &ErrorBody{Code: -2, Message: "child"}
	})

	err := &childError{parentError: &parentError{msg: "boom"}}
	reply := r.Render(context.Background(), err, "subj", &Request{})

	assert.True(t, childCalled)
	assert.False(t, parentCalled)
	assert.Equal(t, -2, reply.Error.Code)
}

func TestErrorHandlerRegistry_FallsBackThroughWrapChain(t *testing.T) {
	r := NewErrorHandlerRegistry(nil)
	r.On(&parentError{}, func(ctx context.Context, err error, subject string, req *Request) *ErrorBody {
		return &ErrorBody{Code: -3, Message: "parent"}
	})

	wrapped := fmt.Errorf("while handling request: %w", &parentError{msg: "boom"})
	reply := r.Render(context.Background(), wrapped, "subj", &Request{})

	require.NotNil(t, reply.Error)
	assert.Equal(t, -3, reply.Error.Code)
}
