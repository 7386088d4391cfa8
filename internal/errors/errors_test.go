package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	assert.True(t, LinErr.IsUserErr())
	assert.True(t, NotImplementedErr.IsUserErr())
	assert.False(t, CompilerErr.IsUserErr())
	assert.Equal(t, "Compiler bug!", CompilerErr.String())
	assert.Equal(t, "LIN001", LinErr.Code())
}

func TestErrorFormatting(t *testing.T) {
	e := Linearity("variable %s consumed twice", "x")
	assert.Equal(t, "Linearity error: variable x consumed twice", e.Error())

	withPos := e.WithPos(Pos{Line: 3, Offset: 10})
	assert.Equal(t, "Linearity error (line 3): variable x consumed twice", withPos.Error())

	// The innermost position wins.
	again := withPos.WithPos(Pos{Line: 9})
	assert.Equal(t, 3, again.Pos.Line)
}

func TestAsErr(t *testing.T) {
	e := Compiler("broken invariant")
	wrapped := fmt.Errorf("while lowering: %w", e)
	got, ok := AsErr(wrapped)
	require.True(t, ok)
	assert.Equal(t, CompilerErr, got.Kind)

	foreign, ok := AsErr(stderrors.New("disk on fire"))
	assert.False(t, ok)
	require.NotNil(t, foreign)
	assert.Equal(t, MiscErr, foreign.Kind)

	_, ok = AsErr(nil)
	assert.False(t, ok)
}

func TestToJSON(t *testing.T) {
	e := NotImplemented("differentiation of type %s", "Char").WithPos(Pos{Line: 2, Offset: 5})
	out, err := e.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "NIM001", decoded["code"])
	assert.Equal(t, "Not implemented", decoded["kind"])
	assert.Contains(t, decoded["message"], "Char")
}
