package natsapi

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registryParamsA struct {
	Foo int `json:"foo"`
}

type registryParamsB struct {
	Bar string `json:"bar"`
}

func TestSchemaRegistry_RegisterIsIdempotentByType(t *testing.T) {
	r := NewSchemaRegistry()
	t1 := reflect.TypeOf(registryParamsA{})

	name1, err := r.Register(t1, "foo")
	require.NoError(t, err)
	name2, err := r.Register(t1, "foo")
	require.NoError(t, err)
	assert.Equal(t, name1, name2)
	assert.Len(t, r.Definitions(), 1)
}

func TestSchemaRegistry_NameClashIsConfigError(t *testing.T) {
	r := NewSchemaRegistry()
	// Anonymous types have no Go name, so both fall back to "shared_params".
	a := reflect.TypeOf(struct{ Foo int }{})
	b := reflect.TypeOf(struct{ Bar string }{})

	_, err := r.Register(a, "shared")
	require.NoError(t, err)

	_, err = r.Register(b, "shared")
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSchemaRegistry_ValidatePassesGoodPayload(t *testing.T) {
	r := NewSchemaRegistry()
	t1 := reflect.TypeOf(registryParamsA{})

	verr, err := r.Validate(t1, "foo", []byte(`{"foo":1}`))
	require.NoError(t, err)
	assert.Nil(t, verr)
}

func TestSchemaRegistry_ValidateFailsBadPayload(t *testing.T) {
	r := NewSchemaRegistry()
	t1 := reflect.TypeOf(registryParamsA{})

	verr, err := r.Validate(t1, "foo", []byte(`{"foo":"not an int"}`))
	require.NoError(t, err)
	require.NotNil(t, verr)
	require.NotEmpty(t, verr.Errors)
	assert.Contains(t, verr.Errors[0].Target, "foo")
}

func TestSchemaRegistry_CompiledSchemaCached(t *testing.T) {
	r := NewSchemaRegistry()
	t1 := reflect.TypeOf(registryParamsA{})

	s1, err := r.compiledSchema(t1, "foo")
	require.NoError(t, err)
	s2, err := r.compiledSchema(t1, "foo")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}
