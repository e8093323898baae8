package types

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesCollection(t *testing.T) *Collection {
	t.Helper()
	c := NewCollection("book", DefaultRules())
	require.NoError(t, c.Put(Path{"q1", "sales"}, MustPayload([]any{10, 20}, []any{30, 40}), false))
	require.NoError(t, c.Put(Path{"q1", "costs"}, MustPayload([]any{1, 2}), false))
	require.NoError(t, c.Put(Path{"q2"}, MustPayload([]any{"n/a"}), false))
	return c
}

func TestCollection_GetSalesScenario(t *testing.T) {
	c := salesCollection(t)

	got, err := c.Get(Path{"q1"}, "sales")
	require.NoError(t, err)
	require.True(t, got.IsLeaf())
	assert.True(t, got.Leaf().Equal(MustPayload([]any{10, 20}, []any{30, 40})))

	whole, err := c.Get(Path{})
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, whole.Keys())
	assert.Equal(t, []string{"sales", "costs"}, whole.Child("q1").Keys())

	_, err = c.Get(Path{"q3"})
	assert.Equal(t, "KeyNotFound", Code(err))
	_, err = c.Get(Path{"q2", "x"})
	assert.Equal(t, "NotATraversable", Code(err))
}

func TestCollection_PutRejectsEmpty(t *testing.T) {
	c := NewCollection("c", DefaultRules())
	empty, err := NewPayload(Grid{})
	require.NoError(t, err)

	assert.ErrorIs(t, c.Put(Path{"a"}, empty, false), ErrEmptyPayload)
	assert.Equal(t, 0, c.Len())

	lenient := NewCollection("c", Rules{AllowEmpty: true})
	assert.NoError(t, lenient.Put(Path{"a"}, empty, false))
}

func TestCollection_HookRunsOnlyForValidMutations(t *testing.T) {
	c := salesCollection(t)
	calls := 0
	c.SetMutationHook(func() error { calls++; return nil })

	assert.Error(t, c.Put(Path{"q1"}, MustPayload([]any{1}), false))
	assert.Error(t, c.Remove(Path{"missing"}))
	assert.Error(t, c.Rename(Path{"q1"}, "q2"))
	assert.Error(t, c.Move(Path{"q1"}, Path{"q1", "inner"}, false))
	assert.Equal(t, 0, calls)

	require.NoError(t, c.Put(Path{"q3"}, MustPayload([]any{1}), false))
	require.NoError(t, c.Remove(Path{"q3"}))
	assert.Equal(t, 2, calls)
}

func TestCollection_HookErrorAborts(t *testing.T) {
	c := salesCollection(t)
	before := c.Snapshot()
	boom := errors.New("boom")
	c.SetMutationHook(func() error { return boom })

	assert.ErrorIs(t, c.Put(Path{"q9"}, MustPayload([]any{1}), false), boom)
	assert.ErrorIs(t, c.Clear(), boom)

	restored := NewCollection("x", DefaultRules())
	restored.Restore(before)
	assert.True(t, restored.Equal(c))
}

func TestCollection_Keys(t *testing.T) {
	c := salesCollection(t)

	seq := c.Keys(Path{"q1"})
	assert.Equal(t, []string{"sales", "costs"}, slices.Collect(seq))
	assert.Equal(t, []string{"sales", "costs"}, slices.Collect(seq), "sequence is restartable")

	for k := range c.Keys(Path{}) {
		assert.Equal(t, "q1", k)
		break
	}

	assert.Empty(t, slices.Collect(c.Keys(Path{"q2"})))
	assert.Empty(t, slices.Collect(c.Keys(Path{"nope"})))

	_, err := c.ListKeys(Path{"q2"})
	assert.ErrorIs(t, err, ErrNotATraversable)
	_, err = c.ListKeys(Path{"nope"})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCollection_Rename(t *testing.T) {
	c := salesCollection(t)

	require.NoError(t, c.Rename(Path{"q1", "sales"}, "revenue"))
	keys, err := c.ListKeys(Path{"q1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue", "costs"}, keys, "position is kept")

	assert.ErrorIs(t, c.Rename(Path{"q1", "revenue"}, "costs"), ErrKeyCollision)
	assert.ErrorIs(t, c.Rename(Path{"q1", "revenue"}, "a.b"), ErrInvalidKey)
	assert.NoError(t, c.Rename(Path{"q1", "revenue"}, "revenue"))
}

func TestCollection_Move(t *testing.T) {
	c := salesCollection(t)

	require.NoError(t, c.Move(Path{"q1", "costs"}, Path{"archive", "costs"}, false))
	keys, _ := c.ListKeys(Path{"q1"})
	assert.Equal(t, []string{"sales"}, keys)
	got, err := c.Get(Path{"archive", "costs"})
	require.NoError(t, err)
	assert.True(t, got.Leaf().Equal(MustPayload([]any{1, 2})))

	assert.ErrorIs(t, c.Move(Path{"q1"}, Path{"q1", "sub"}, false), ErrPathConflict)
	assert.ErrorIs(t, c.Move(Path{"q1", "sales"}, Path{"q1"}, false), ErrPathConflict)
	assert.ErrorIs(t, c.Move(Path{"q1"}, Path{"q2"}, false), ErrShapeConflict)

	require.NoError(t, c.Move(Path{"q1"}, Path{"q2"}, true))
	keys, _ = c.ListKeys(Path{})
	assert.Equal(t, []string{"q2", "archive"}, keys)
	keys, _ = c.ListKeys(Path{"q2"})
	assert.Equal(t, []string{"sales"}, keys)
}

func TestCollection_Merge(t *testing.T) {
	c := salesCollection(t)
	other := NewCollection("other", DefaultRules())
	require.NoError(t, other.Put(Path{"q2", "units"}, MustPayload([]any{5}), false))
	require.NoError(t, other.Put(Path{"q4"}, MustPayload([]any{7}), false))

	calls := 0
	c.SetMutationHook(func() error { calls++; return nil })
	require.NoError(t, c.Merge(other))
	assert.Equal(t, 1, calls)

	keys, _ := c.ListKeys(Path{})
	assert.Equal(t, []string{"q1", "q2", "q4"}, keys)
	keys, _ = c.ListKeys(Path{"q2"})
	assert.Equal(t, []string{"units"}, keys, "later collection overrides")

	// The merged bricks are copies.
	require.NoError(t, other.Remove(Path{"q4"}))
	_, err := c.Get(Path{"q4"})
	assert.NoError(t, err)
}

func TestCollection_SnapshotIsIndependent(t *testing.T) {
	c := salesCollection(t)
	snap := c.Snapshot()

	require.NoError(t, c.Remove(Path{"q1"}))
	require.NoError(t, c.Put(Path{"q2"}, MustPayload([]any{"changed"}), false))

	old := NewCollection("old", DefaultRules())
	old.Restore(snap)
	assert.Equal(t, 2, old.Len())
	got, err := old.Get(Path{"q2"})
	require.NoError(t, err)
	assert.True(t, got.Leaf().Equal(MustPayload([]any{"n/a"})))

	// Restoring twice from one snapshot yields equal, unshared states.
	again := NewCollection("again", DefaultRules())
	again.Restore(snap)
	require.NoError(t, old.Clear())
	assert.Equal(t, 2, again.Len())
}

func TestCollection_BrickIsDetached(t *testing.T) {
	c := salesCollection(t)
	br, err := c.Brick(Path{"q1"})
	require.NoError(t, err)
	require.NoError(t, br.Delete(Path{"sales"}))

	keys, _ := c.ListKeys(Path{"q1"})
	assert.Equal(t, []string{"sales", "costs"}, keys)
}

func TestCollection_RecordsRoundTrip(t *testing.T) {
	c := salesCollection(t)
	require.NoError(t, c.PutBrick(Path{"blank"}, mustBrick(t, "ignored", nil), false))

	records := c.Records()
	require.Len(t, records, 5)
	assert.Equal(t, NodeID(0), records[0].Parent)
	assert.Equal(t, "q1", records[0].Key)

	// Order of records does not matter.
	slices.Reverse(records)
	back, err := CollectionFromRecords("book", DefaultRules(), records)
	require.NoError(t, err)
	assert.True(t, back.Equal(c))

	blank, err := back.Brick(Path{"blank"})
	require.NoError(t, err)
	assert.Equal(t, KindEmpty, blank.Kind())
}

func TestCollectionFromRecords_Invalid(t *testing.T) {
	leaf := MustPayload([]any{1})
	tests := []struct {
		name    string
		records []BrickRecord
	}{
		{"orphan", []BrickRecord{{ID: 1, Parent: 9, Key: "a", Kind: KindLeaf, Payload: leaf}}},
		{"leaf without payload", []BrickRecord{{ID: 1, Key: "a", Kind: KindLeaf}}},
		{"duplicate key", []BrickRecord{
			{ID: 1, Key: "a", Kind: KindLeaf, Payload: leaf},
			{ID: 2, Key: "a", Ordinal: 1, Kind: KindLeaf, Payload: leaf},
		}},
		{"child of a leaf", []BrickRecord{
			{ID: 1, Key: "a", Kind: KindLeaf, Payload: leaf},
			{ID: 2, Parent: 1, Key: "b", Kind: KindLeaf, Payload: leaf},
		}},
		{"zero id", []BrickRecord{{ID: 0, Key: "a", Kind: KindEmpty}}},
		{"bad key", []BrickRecord{{ID: 1, Key: "a.b", Kind: KindEmpty}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CollectionFromRecords("c", DefaultRules(), tt.records)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}
