package bridge

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/xlbricks/internal/frontstack"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

func newBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	return New(frontstack.New(frontstack.Options{Capacity: 10, Rules: types.DefaultRules()}), opts...)
}

func retrieveJSON(t *testing.T, b *Bridge, front, path string, subpath ...string) string {
	t.Helper()
	n, err := b.Retrieve(context.Background(), front, path, subpath...)
	require.NoError(t, err)
	out, err := json.Marshal(n)
	require.NoError(t, err)
	return string(out)
}

func store(t *testing.T, b *Bridge, front, path string, rows ...[]any) Ack {
	t.Helper()
	a, err := b.Store(context.Background(), front, path, types.MustGrid(rows...), DefaultStoreOptions())
	require.NoError(t, err)
	return a
}

// memStore keeps saved collections in memory.
type memStore struct {
	saved map[string]*types.Collection
	saves int
}

func newMemStore() *memStore { return &memStore{saved: make(map[string]*types.Collection)} }

func (m *memStore) Attach(types.Config) error { return nil }
func (m *memStore) Detach() error             { return nil }

func (m *memStore) SaveCollection(c *types.Collection) error {
	cp := types.NewCollection(c.Name(), c.Rules())
	if err := cp.Replace(c); err != nil {
		return err
	}
	m.saved[c.Name()] = cp
	m.saves++
	return nil
}

func (m *memStore) LoadCollection(name string) (*types.Collection, error) {
	c, ok := m.saved[name]
	if !ok {
		return nil, types.ErrCollectionNotFound
	}
	cp := types.NewCollection(name, c.Rules())
	if err := cp.Replace(c); err != nil {
		return nil, err
	}
	return cp, nil
}

func (m *memStore) DeleteCollection(name string) error {
	if _, ok := m.saved[name]; !ok {
		return types.ErrCollectionNotFound
	}
	delete(m.saved, name)
	return nil
}

func (m *memStore) ListCollections() ([]types.CollectionInfo, error) {
	var out []types.CollectionInfo
	for name, c := range m.saved {
		out = append(out, types.CollectionInfo{Name: name, Bricks: c.Len(), UpdatedAt: time.Now()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func TestSalesScenario(t *testing.T) {
	b := newBridge(t)
	a := store(t, b, "sales", "q1", []any{1, 2}, []any{3, 4})
	assert.Equal(t, Ack{Front: "sales", Ref: "sales:1", Path: "q1", UndoDepth: 1}, a)
	store(t, b, "sales", "q2", []any{5, 6}, []any{7, 8})

	assert.Equal(t, `{"q1":[[1,2],[3,4]],"q2":[[5,6],[7,8]]}`, retrieveJSON(t, b, "sales", ""))
	assert.Equal(t, `[[5,6],[7,8]]`, retrieveJSON(t, b, "sales", "q2"))
}

func TestUndoFirstStore(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "book", "a", []any{1})

	a, err := b.Undo(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, 0, a.UndoDepth)
	assert.Equal(t, 1, a.RedoDepth)

	_, err = b.Retrieve(ctx, "book", "a")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
	assert.Equal(t, "KeyNotFound", types.Code(err))

	_, err = b.Undo(ctx, "book")
	assert.True(t, IsCalm(err))

	_, err = b.Redo(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, `[[1]]`, retrieveJSON(t, b, "book", "a"))
}

func TestIrregularShapeLeavesFrontUnchanged(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "sales", "q1", []any{1, 2})
	f, ok := b.Stack().Get("sales")
	require.True(t, ok)
	before := retrieveJSON(t, b, "sales", "")
	version := f.Version()

	bad := types.Grid{
		{types.Number(1), types.Number(2)},
		{types.Number(3)},
	}
	_, err := b.Store(ctx, "sales", "q2", bad, DefaultStoreOptions())
	assert.ErrorIs(t, err, types.ErrIrregularShape)
	assert.Equal(t, "IrregularShape", types.Code(err))

	assert.Equal(t, before, retrieveJSON(t, b, "sales", ""))
	assert.Equal(t, version, f.Version())
	assert.Equal(t, 1, f.UndoDepth())

	_, err = b.Store(ctx, "other", "x", bad, DefaultStoreOptions())
	require.Error(t, err)
	assert.Equal(t, []string{"sales"}, b.Stack().Names(), "a rejected store creates no front")
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		path string
		grid types.Grid
		opts StoreOptions
		want error
	}{
		{"empty grid", "a", types.Grid{}, DefaultStoreOptions(), types.ErrEmptyPayload},
		{"empty path", "", types.MustGrid([]any{1}), DefaultStoreOptions(), types.ErrInvalidPath},
		{"bad segment", "a..b", types.MustGrid([]any{1}), DefaultStoreOptions(), types.ErrInvalidPath},
		{"not a number", "a", types.MustGrid([]any{"abc"}), StoreOptions{Persist: true, DType: types.DTypeNumber}, types.ErrTypeMismatch},
		{"all empty after crop", "a", types.MustGrid([]any{nil, nil}), StoreOptions{Persist: true, Crop: true}, types.ErrEmptyPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBridge(t)
			_, err := b.Store(ctx, "book", tt.path, tt.grid, tt.opts)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, b.Stack().Len())
		})
	}
}

func TestStoreOptions(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)

	grid := types.MustGrid(
		[]any{nil, nil, nil},
		[]any{nil, "a", "b"},
		[]any{nil, 1, 2},
	)
	_, err := b.Store(ctx, "book", "t", grid, StoreOptions{Persist: true, Crop: true, Headers: HeadersColumns})
	require.NoError(t, err)
	assert.Equal(t, `[["a","b"],[1,2]]`, retrieveJSON(t, b, "book", "t"))

	_, err = b.Store(ctx, "book", "n", types.MustGrid([]any{"1.5", true}), StoreOptions{Persist: true, DType: types.DTypeNumber})
	require.NoError(t, err)
	assert.Equal(t, `[[1.5,1]]`, retrieveJSON(t, b, "book", "n"))

	f, ok := b.Stack().Get("book")
	require.True(t, ok)
	depth := f.UndoDepth()
	_, err = b.Store(ctx, "book", "tmp", types.MustGrid([]any{1}), StoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, depth, f.UndoDepth(), "scratch store keeps no undo state")
}

func TestStoreStructuralRules(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "book", "a.b", []any{1})

	_, err := b.Store(ctx, "book", "a", types.MustGrid([]any{2}), DefaultStoreOptions())
	assert.ErrorIs(t, err, types.ErrShapeConflict, "leaf over internal needs force")

	_, err = b.Store(ctx, "book", "a.b.c", types.MustGrid([]any{2}), DefaultStoreOptions())
	assert.ErrorIs(t, err, types.ErrPathConflict, "leaf mid-path needs force")

	store(t, b, "book", "a.b", []any{3})
	assert.Equal(t, `[[3]]`, retrieveJSON(t, b, "book", "a.b"), "leaf over leaf is allowed")

	opts := DefaultStoreOptions()
	opts.Force = true
	_, err = b.Store(ctx, "book", "a", types.MustGrid([]any{4}), opts)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[[4]]}`, retrieveJSON(t, b, "book", ""))
}

func TestStoreGrid(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	grid := types.MustGrid(
		[]any{nil, "ignored", nil},
		[]any{"q1", 1, 2},
		[]any{nil, 3, 4},
		[]any{"q2", 5, 6},
	)
	a, err := b.StoreGrid(ctx, "book", "sales", grid, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, a.UndoDepth, "the whole grid is one change")
	assert.Equal(t, `{"q1":[[1,2],[3,4]],"q2":[[5,6]]}`, retrieveJSON(t, b, "book", "sales"))

	dup := types.MustGrid([]any{"k", 1}, []any{"k", 2})
	_, err = b.StoreGrid(ctx, "book", "dup", dup, DefaultStoreOptions())
	assert.ErrorIs(t, err, types.ErrKeyCollision)

	_, err = b.StoreGrid(ctx, "book", "none", types.MustGrid([]any{nil, 1}), DefaultStoreOptions())
	assert.ErrorIs(t, err, types.ErrEmptyPayload)
}

func TestStoreList(t *testing.T) {
	b := newBridge(t)
	_, err := b.StoreList(context.Background(), "book", "l", types.MustGrid([]any{1, 2}, []any{3, 4}), DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, `[[1],[2],[3],[4]]`, retrieveJSON(t, b, "book", "l"))
}

func TestStoreNested(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	var n types.Nested
	require.NoError(t, json.Unmarshal([]byte(`{"z":[[1]],"a":{"c":[[2,3]]},"e":{}}`), &n))

	_, err := b.StoreNested(ctx, "book", "x", &n, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, `{"z":[[1]],"a":{"c":[[2,3]]},"e":{}}`, retrieveJSON(t, b, "book", "x"))
	assert.Equal(t, `[[2,3]]`, retrieveJSON(t, b, "book", "x", "a", "c"))

	var leaf types.Nested
	require.NoError(t, json.Unmarshal([]byte(`[["t"]]`), &leaf))
	_, err = b.StoreNested(ctx, "book", "y", &leaf, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, `[["t"]]`, retrieveJSON(t, b, "book", "y"))

	_, err = b.StoreNested(ctx, "book", "nil", types.NestedNull(), DefaultStoreOptions())
	assert.ErrorIs(t, err, types.ErrEmptyPayload)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "src", "regions.north", []any{1})
	store(t, b, "src", "regions.south", []any{2})

	_, err := b.Lookup(ctx, "src", "regions", "dst")
	require.NoError(t, err)
	assert.Equal(t, `{"north":[[1]],"south":[[2]]}`, retrieveJSON(t, b, "dst", ""))

	_, err = b.Lookup(ctx, "src", "regions.north", "one")
	require.NoError(t, err)
	assert.Equal(t, `{"north":[[1]]}`, retrieveJSON(t, b, "one", ""))

	_, err = b.Lookup(ctx, "src", "missing", "dst")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
	_, err = b.Lookup(ctx, "nowhere", "regions", "dst")
	assert.ErrorIs(t, err, types.ErrFrontNotFound)
}

func TestMergeAndAlias(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "a", "x", []any{1})
	store(t, b, "a", "y", []any{2})
	store(t, b, "b", "y", []any{3})
	store(t, b, "b", "z", []any{4})

	ack, err := b.Merge(ctx, "all", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, ack.UndoDepth)
	assert.Equal(t, `{"x":[[1]],"y":[[3]],"z":[[4]]}`, retrieveJSON(t, b, "all", ""))

	_, err = b.Merge(ctx, "all")
	assert.ErrorIs(t, err, types.ErrBadRequest)

	_, err = b.Alias(ctx, "a", "copy")
	require.NoError(t, err)
	store(t, b, "copy", "x", []any{9})
	assert.Equal(t, `[[1]]`, retrieveJSON(t, b, "a", "x"), "alias is a copy")
}

func TestRenameMoveKeys(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "book", "q1", []any{1})
	store(t, b, "book", "q2", []any{2})

	a, err := b.Rename(ctx, "book", "q1", "first")
	require.NoError(t, err)
	assert.Equal(t, "first", a.Path)

	_, err = b.Move(ctx, "book", "q2", "archive.q2", false)
	require.NoError(t, err)

	keys, err := b.Keys(ctx, "book", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "archive"}, keys)

	_, err = b.Keys(ctx, "book", "first")
	assert.ErrorIs(t, err, types.ErrNotATraversable)

	_, err = b.Undo(ctx, "book")
	require.NoError(t, err)
	keys, err = b.Keys(ctx, "book", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "q2"}, keys)
}

func TestFrontsAndRemove(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "a", "x", []any{1})
	store(t, b, "b", "x", []any{1})
	store(t, b, "b", "y", []any{1})

	fronts, err := b.Fronts(ctx)
	require.NoError(t, err)
	require.Len(t, fronts, 2)
	assert.Equal(t, FrontInfo{Name: "a", Loaded: true, Ref: "a:1", Bricks: 1, UndoDepth: 1}, fronts[0])
	assert.Equal(t, FrontInfo{Name: "b", Active: true, Loaded: true, Ref: "b:2", Bricks: 2, UndoDepth: 2}, fronts[1])

	assert.ErrorIs(t, b.RemoveFront(ctx, "b", false), types.ErrActiveFrontRemoval)
	require.NoError(t, b.RemoveFront(ctx, "a:1", false))
	assert.ErrorIs(t, b.RemoveFront(ctx, "a", false), types.ErrFrontNotFound)

	require.NoError(t, b.Clear(ctx, false))
	assert.Zero(t, b.Stack().Len())
}

func TestStorePersistence(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	b := newBridge(t, WithStore(ms))

	store(t, b, "sales", "q1", []any{1, 2})
	assert.Equal(t, 1, ms.saves)
	_, err := b.Undo(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, 2, ms.saves)
	assert.Equal(t, 0, ms.saved["sales"].Len())

	_, err = b.Store(ctx, "sales", "bad", types.Grid{}, DefaultStoreOptions())
	require.Error(t, err)
	assert.Equal(t, 2, ms.saves, "failed writes are not saved")

	_, err = b.Redo(ctx, "sales")
	require.NoError(t, err)

	// A second process sees the saved state.
	other := newBridge(t, WithStore(ms))
	assert.Equal(t, `{"q1":[[1,2]]}`, retrieveJSON(t, other, "sales", ""))
	_, err = other.Retrieve(ctx, "unknown", "")
	assert.ErrorIs(t, err, types.ErrFrontNotFound)

	dump, err := other.Dump(ctx)
	require.NoError(t, err)
	out, err := json.Marshal(dump)
	require.NoError(t, err)
	assert.Equal(t, `{"sales":{"q1":[[1,2]]}}`, string(out))

	store(t, other, "costs", "c", []any{1})
	require.NoError(t, other.RemoveFront(ctx, "sales", true))
	assert.NotContains(t, ms.saved, "sales")
	assert.ErrorIs(t, other.RemoveFront(ctx, "ghost", true), types.ErrFrontNotFound)

	require.NoError(t, other.Clear(ctx, true))
	assert.Empty(t, ms.saved)
}

func TestFrontsIncludesStored(t *testing.T) {
	ms := newMemStore()
	first := newBridge(t, WithStore(ms))
	store(t, first, "saved", "x", []any{1})

	second := newBridge(t, WithStore(ms))
	store(t, second, "live", "x", []any{1})
	fronts, err := second.Fronts(context.Background())
	require.NoError(t, err)
	require.Len(t, fronts, 2)
	assert.Equal(t, "live", fronts[0].Name)
	assert.Equal(t, FrontInfo{Name: "saved", Bricks: 1}, fronts[1])
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newBridge(t)
	_, err := b.Store(ctx, "book", "a", types.MustGrid([]any{1}), DefaultStoreOptions())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = b.Retrieve(ctx, "book", "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.Stack().Len())
}

func TestDisplay(t *testing.T) {
	b := newBridge(t)
	_, err := b.Retrieve(context.Background(), "nope", "")
	msg := Display(err)
	assert.True(t, strings.HasPrefix(msg, ErrorPrefix+"FrontNotFound: "), msg)
}

func TestSupplementsUseConfiguredRules(t *testing.T) {
	ctx := context.Background()
	rules := types.Rules{Separator: "/", MaxKeyLength: 400}
	b := New(frontstack.New(frontstack.Options{Capacity: 10, Rules: rules}))

	var n types.Nested
	require.NoError(t, json.Unmarshal([]byte(`{"v1.2":[[1]]}`), &n))
	a, err := b.StoreNested(ctx, "book", "nested", &n, DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, "nested", a.Path)
	assert.Equal(t, `[[1]]`, retrieveJSON(t, b, "book", "nested/v1.2"))

	a, err = b.StoreGrid(ctx, "book", "grid/v2.0", types.MustGrid([]any{"a", 1}, []any{"b", 2}), DefaultStoreOptions())
	require.NoError(t, err)
	assert.Equal(t, "grid/v2.0", a.Path)
	keys, err := b.Keys(ctx, "book", "grid/v2.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	long := strings.Repeat("k", 300)
	_, err = b.StoreGrid(ctx, "book", "wide", types.MustGrid([]any{long, 1}), DefaultStoreOptions())
	require.NoError(t, err)
	_, err = b.Store(ctx, "book", long, types.MustGrid([]any{1}), DefaultStoreOptions())
	require.NoError(t, err)

	_, err = b.StoreGrid(ctx, "book", "wider", types.MustGrid([]any{strings.Repeat("k", 401), 1}), DefaultStoreOptions())
	assert.ErrorIs(t, err, types.ErrInvalidKey)

	_, err = b.Retrieve(ctx, "book", "grid/v2.0/zz")
	require.ErrorIs(t, err, types.ErrKeyNotFound)
	assert.Contains(t, err.Error(), `"grid/v2.0/zz"`)
}

func TestFailedChangesCreateNoFront(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)
	store(t, b, "book", "q1", []any{1})

	_, err := b.Erase(ctx, "ghost", "x")
	assert.ErrorIs(t, err, types.ErrFrontNotFound)
	_, err = b.Rename(ctx, "ghost", "x", "y")
	assert.ErrorIs(t, err, types.ErrFrontNotFound)
	_, err = b.Move(ctx, "ghost", "x", "y", false)
	assert.ErrorIs(t, err, types.ErrFrontNotFound)

	_, err = b.Undo(ctx, "ghost")
	assert.ErrorIs(t, err, types.ErrNothingToUndo)
	assert.True(t, IsCalm(err))
	_, err = b.Redo(ctx, "ghost")
	assert.ErrorIs(t, err, types.ErrNothingToRedo)

	assert.Equal(t, []string{"book"}, b.Stack().Names())
	active, err := b.Stack().Active()
	require.NoError(t, err)
	assert.Equal(t, "book", active.Name())
}

func TestStoreHeaderOnlyRange(t *testing.T) {
	ctx := context.Background()
	header := types.MustGrid([]any{"region", "total"})
	opts := DefaultStoreOptions()
	opts.Headers = HeadersColumns

	_, err := newBridge(t).Store(ctx, "book", "h", header, opts)
	assert.ErrorIs(t, err, types.ErrEmptyPayload)

	rules := types.DefaultRules()
	rules.AllowEmpty = true
	b := New(frontstack.New(frontstack.Options{Capacity: 10, Rules: rules}))
	_, err = b.Store(ctx, "book", "h", header, opts)
	require.NoError(t, err)

	n, err := b.Retrieve(ctx, "book", "h")
	require.NoError(t, err)
	require.True(t, n.IsLeaf())
	rows, cols := n.Leaf().Shape()
	assert.Equal(t, 0, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []string{"region", "total"}, n.Leaf().ColumnHeaders())
}
