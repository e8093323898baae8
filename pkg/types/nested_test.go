package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNested_JSONKeepsOrder(t *testing.T) {
	in := `{"zeta":[[1]],"alpha":{"b":null,"a":[["x","y"]]}}`
	var n Nested
	require.NoError(t, n.UnmarshalJSON([]byte(in)))
	assert.Equal(t, []string{"zeta", "alpha"}, n.Keys())
	assert.Equal(t, []string{"b", "a"}, n.Child("alpha").Keys())

	out, err := n.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestNested_JSONShapes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *Payload
		wantErr error
	}{
		{"grid", `[[1,2],[3,4]]`, MustPayload([]any{1, 2}, []any{3, 4}), nil},
		{"flat array is one row", `[1,"a",true]`, MustPayload([]any{1, "a", true}), nil},
		{"scalar is one cell", `5`, MustPayload([]any{5}), nil},
		{"ragged", `[[1,2],[3]]`, nil, ErrIrregularShape},
		{"mixed rows and scalars", `[[1],2]`, nil, ErrIrregularShape},
		{"object as cell", `[[{"a":1}]]`, nil, ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Nested
			err := n.UnmarshalJSON([]byte(tt.in))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.True(t, n.IsLeaf())
			assert.True(t, n.Leaf().Equal(tt.want))
		})
	}
}

func TestNested_DuplicateKeys(t *testing.T) {
	var n Nested
	err := n.UnmarshalJSON([]byte(`{"a":[[1]],"a":[[2]]}`))
	assert.ErrorIs(t, err, ErrKeyCollision)
}

func TestGridFromJSON_KeepsIrregularRows(t *testing.T) {
	g, err := GridFromJSON([]byte(`[[1,2],[3]]`))
	require.NoError(t, err)
	assert.Len(t, g, 2)
	assert.ErrorIs(t, DefaultRules().CheckShape(g), ErrIrregularShape)

	g, err = GridFromJSON([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, g)

	_, err = GridFromJSON([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestNested_YAML(t *testing.T) {
	n := NestedMap().
		Set("zeta", NestedLeaf(MustPayload([]any{1, "a"}))).
		Set("alpha", NestedMap().Set("empty", NestedNull()))

	out, err := yaml.Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, "zeta:\n    - [1, a]\nalpha:\n    empty: null\n", string(out))

	var back Nested
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.True(t, n.Equal(&back))
}

func TestNestedOf(t *testing.T) {
	n, err := NestedOf(map[string]any{
		"b": [][]any{{1, 2}},
		"a": nil,
		"c": map[string]any{"x": "scalar"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, n.Keys())
	assert.True(t, n.Child("a").IsNull())
	assert.True(t, n.Child("c").Child("x").Leaf().Equal(MustPayload([]any{"scalar"})))

	_, err = NestedOf([]any{[]any{1}, 2})
	assert.ErrorIs(t, err, ErrIrregularShape)
}

func TestNested_Value(t *testing.T) {
	n := NestedMap().Set("k", NestedLeaf(MustPayload([]any{1, "a"})))
	assert.Equal(t, map[string]any{"k": [][]any{{1.0, "a"}}}, n.Value())
}
