package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_InvokeRegisteredTool(t *testing.T) {
	d := NewDispatcher()
	d.Register(Schema{Name: "echo"}, func(ctx context.Context, params map[string]any) (any, error) {
		return params["text"], nil
	})

	res := d.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	require.True(t, res.OK)
	assert.Equal(t, "hi", res.Value)
	assert.Nil(t, res.Err)
}

func TestDispatcher_Invoke_UnknownTool(t *testing.T) {
	d := NewDispatcher()
	res := d.Invoke(context.Background(), "missing", nil)
	require.False(t, res.OK)
	assert.Equal(t, ErrorKindNotFound, res.Err.Kind)
}

func TestDispatcher_Invoke_HandlerError(t *testing.T) {
	d := NewDispatcher()
	d.Register(Schema{Name: "fail"}, func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	res := d.Invoke(context.Background(), "fail", nil)
	require.False(t, res.OK)
	assert.Equal(t, ErrorKindExecution, res.Err.Kind)
}

func TestDispatcher_Invoke_StructuredHandlerError(t *testing.T) {
	d := NewDispatcher()
	d.Register(Schema{Name: "bad-input"}, func(ctx context.Context, params map[string]any) (any, error) {
		return nil, &Error{Kind: ErrorKindInvalidInput, Message: "missing field"}
	})
	res := d.Invoke(context.Background(), "bad-input", nil)
	require.False(t, res.OK)
	assert.Equal(t, ErrorKindInvalidInput, res.Err.Kind)
}

func TestDispatcher_Schemas_ListsAll(t *testing.T) {
	d := NewDispatcher()
	d.Register(Schema{Name: "a"}, func(ctx context.Context, params map[string]any) (any, error) { return nil, nil })
	d.Register(Schema{Name: "b"}, func(ctx context.Context, params map[string]any) (any, error) { return nil, nil })
	assert.Len(t, d.Schemas(), 2)
}
