package jsonptr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEval_WholeDocument(t *testing.T) {
	v, ok := Eval(map[string]any{"a": 1}, "")
	require.True(t, ok)
	require.Equal(t, map[string]any{"a": 1}, v)
}

func TestEval_ObjectMemberAndArrayIndex(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": []any{"x", "y"}}}

	v, ok := Eval(doc, "/a/b/1")
	require.True(t, ok)
	require.Equal(t, "y", v)
}

func TestEval_MissingMemberIsNotOk(t *testing.T) {
	_, ok := Eval(map[string]any{"a": 1}, "/missing")
	require.False(t, ok)
}

func TestEval_OutOfRangeArrayIndexIsNotOk(t *testing.T) {
	_, ok := Eval([]any{"a"}, "/5")
	require.False(t, ok)
}

func TestEval_NavigatingIntoScalarIsNotOk(t *testing.T) {
	_, ok := Eval(map[string]any{"a": "scalar"}, "/a/b")
	require.False(t, ok)
}

func TestEval_UnescapesTildeAndSlash(t *testing.T) {
	doc := map[string]any{"a/b": map[string]any{"c~d": "found"}}
	v, ok := Eval(doc, "/a~1b/c~0d")
	require.True(t, ok)
	require.Equal(t, "found", v)
}

func TestValid(t *testing.T) {
	require.True(t, Valid(""))
	require.True(t, Valid("/a/b"))
	require.False(t, Valid("a/b"))
}

func TestStringTargets_Bare(t *testing.T) {
	require.Equal(t, []string{"x"}, StringTargets("x"))
}

func TestStringTargets_ArrayDedupesFirstWins(t *testing.T) {
	got := StringTargets([]any{"a", "b", "a", "c"})
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestStringTargets_MixedArrayYieldsNone(t *testing.T) {
	require.Nil(t, StringTargets([]any{"a", float64(1), "b"}))
}

func TestStringTargets_OtherTypesYieldNone(t *testing.T) {
	require.Nil(t, StringTargets(float64(1)))
	require.Nil(t, StringTargets(nil))
	require.Nil(t, StringTargets(map[string]any{}))
}
