package workers

import (
	"context"
	"testing"
	"time"

	"github.com/BranchIntl/windup/job"
	"github.com/BranchIntl/windup/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	to any
}

func (g *greeting) Perform(ctx context.Context) (any, error) {
	return "Hello, " + g.to.(string) + "!", nil
}

// missingPerform builds fine but cannot run
type missingPerform struct{}

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	h := NewHandlers()
	require.NoError(t, h.Register("greet", func(msg any) any { return &greeting{to: msg} }))
	require.NoError(t, h.Register("missing_perform", func(msg any) any { return missingPerform{} }))
	return h
}

func perform(t *testing.T, h *Handlers, payload any) (any, error) {
	t.Helper()
	w := NewHandlerWorker(h)()
	return w.Perform(context.Background(), job.New(payload, ""))
}

func TestHandlers_Register(t *testing.T) {
	tests := []struct {
		name        string
		handler     string
		constructor Constructor
		expectErr   error
	}{
		{
			name:        "valid registration",
			handler:     "greet",
			constructor: func(msg any) any { return nil },
		},
		{
			name:        "empty handler name",
			handler:     "",
			constructor: func(msg any) any { return nil },
			expectErr:   ErrMissingHandlerName,
		},
		{
			name:      "nil constructor",
			handler:   "greet",
			expectErr: ErrInvalidHandler,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers()
			err := h.Register(tt.handler, tt.constructor)

			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			_, found := h.Get(tt.handler)
			assert.True(t, found)
		})
	}
}

func TestHandlers_BasicOperations(t *testing.T) {
	h := newHandlers(t)
	assert.Equal(t, []string{"greet", "missing_perform"}, h.List())

	h.Remove("greet")
	_, found := h.Get("greet")
	assert.False(t, found)

	h.Clear()
	assert.Empty(t, h.List())
}

func TestHandlerWorker_Perform(t *testing.T) {
	h := newHandlers(t)

	tests := []struct {
		name      string
		payload   any
		expect    any
		expectErr error
	}{
		{"message value", NewMessage("greet", "Mary"), "Hello, Mary!", nil},
		{"message pointer", &Message{Handler: "greet", Msg: "Tim"}, "Hello, Tim!", nil},
		{"decoded map", map[string]any{"handler": "greet", "msg": "Bob"}, "Hello, Bob!", nil},
		{"string map", map[string]string{"handler": "greet", "msg": "Ann"}, "Hello, Ann!", nil},
		{"no payload", nil, nil, ErrMissingHandlerName},
		{"no handler", map[string]any{"msg": "Bob"}, nil, ErrMissingHandlerName},
		{"scalar payload", 42, nil, ErrMissingHandlerName},
		{"unknown handler", NewMessage("MissingHandler", nil), nil, ErrInvalidHandler},
		{"handler without perform", NewMessage("missing_perform", nil), nil, ErrInvalidHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := perform(t, h, tt.payload)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expect, v)
		})
	}
}

func TestHandlerWorker_PassesMessageToConstructor(t *testing.T) {
	h := NewHandlers()
	var got any
	require.NoError(t, h.Register("capture", func(msg any) any {
		got = msg
		return HandlerFunc(func(ctx context.Context) (any, error) { return nil, nil })
	}))

	_, err := perform(t, h, NewMessage("capture", map[string]any{"test": "payload"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"test": "payload"}, got)
}

func TestHandlerWorker_InPool(t *testing.T) {
	h := newHandlers(t)
	p, err := pool.New(NewHandlerWorker(h), pool.WithSize(2))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	defer p.Shutdown(ctx)

	f, err := p.PerformFuture(job.New(NewMessage("greet", "Pool"), ""))
	require.NoError(t, err)
	v, err := f.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Pool!", v)

	// invalid handlers fail the job without crashing the worker
	f, err = p.PerformFuture(job.New(NewMessage("nope", nil), ""))
	require.NoError(t, err)
	_, err = f.Value(ctx)
	assert.ErrorIs(t, err, ErrInvalidHandler)
	assert.Equal(t, 0, p.Slots()[0].Restarts+p.Slots()[1].Restarts)
}
