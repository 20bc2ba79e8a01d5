package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctions_Register(t *testing.T) {
	fns := NewFunctions()
	noop := func(*Call) {}

	require.NoError(t, fns.Register("b", noop))
	require.NoError(t, fns.Register("a", noop))
	assert.Error(t, fns.Register("a", noop))
	assert.Error(t, fns.Register("", noop))
	assert.Error(t, fns.Register("c", nil))

	assert.Equal(t, []string{"a", "b"}, fns.Names())

	fns.freeze()
	assert.ErrorIs(t, fns.Register("c", noop), ErrFunctionsFrozen)
}

func TestCall_String(t *testing.T) {
	call := &Call{Params: []any{"hi", 42.0, 1.5, true, nil, map[string]any{"k": "v"}}}

	tests := []struct {
		index int
		want  string
	}{
		{0, "hi"},
		{1, "42"},
		{2, "1.5"},
		{3, "true"},
		{4, ""},
		{5, `{"k":"v"}`},
		{6, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, call.String(tt.index), "param %d", tt.index)
	}
}
