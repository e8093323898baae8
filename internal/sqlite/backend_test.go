package sqlite

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

func testConfig(dir string) types.Config {
	cfg := types.DefaultConfig()
	cfg.DataDir = dir
	return cfg
}

func attach(t *testing.T, cfg types.Config) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(cfg))
	t.Cleanup(func() { _ = b.Detach() })
	return b
}

func salesCollection(t *testing.T) *types.Collection {
	t.Helper()
	c := types.NewCollection("sales", types.DefaultRules())
	require.NoError(t, c.Put(types.Path{"q1"}, types.MustPayload([]any{1, 2}, []any{3, 4}), false))
	require.NoError(t, c.Put(types.Path{"regions", "north"}, types.MustPayload([]any{"n", true}), false))
	p, err := types.MustPayload([]any{5, 6}).WithHeaders([]string{"a", "b"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(types.Path{"regions", "south"}, p, false))
	return c
}

func nestedJSON(t *testing.T, c *types.Collection) string {
	t.Helper()
	b, err := json.Marshal(c.ToNested())
	require.NoError(t, err)
	return string(b)
}

func TestAttachCreatesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	attach(t, testConfig(dir))

	for _, name := range []string{collectionsJSONL, bricksJSONL} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Zero(t, info.Size(), name)
	}
	_, err := os.Stat(filepath.Join(dir, dbFile))
	assert.NoError(t, err)
}

func TestAttachLifecycle(t *testing.T) {
	cfg := testConfig(t.TempDir())
	b := NewBackend()

	_, err := b.ListCollections()
	assert.ErrorIs(t, err, types.ErrBackendDetached)

	require.NoError(t, b.Attach(cfg))
	assert.ErrorIs(t, b.Attach(cfg), types.ErrAlreadyAttached)

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "detach is idempotent")

	assert.ErrorIs(t, b.SaveCollection(salesCollection(t)), types.ErrBackendDetached)
	_, err = b.LoadCollection("sales")
	assert.ErrorIs(t, err, types.ErrBackendDetached)
	assert.ErrorIs(t, b.DeleteCollection("sales"), types.ErrBackendDetached)
}

func TestAttachRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.SyncStrategy = "sometimes"
	err := NewBackend().Attach(cfg)
	assert.ErrorIs(t, err, types.ErrSyncStrategyUnknown)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := attach(t, testConfig(t.TempDir()))
	want := salesCollection(t)
	require.NoError(t, b.SaveCollection(want))

	got, err := b.LoadCollection("sales")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
	assert.Equal(t, nestedJSON(t, want), nestedJSON(t, got))

	_, err = b.LoadCollection("missing")
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
}

func TestSaveReplacesState(t *testing.T) {
	b := attach(t, testConfig(t.TempDir()))
	c := salesCollection(t)
	require.NoError(t, b.SaveCollection(c))
	before, err := b.ListCollections()
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, c.Remove(types.Path{"regions"}))
	require.NoError(t, b.SaveCollection(c))

	got, err := b.LoadCollection("sales")
	require.NoError(t, err)
	assert.Equal(t, `{"q1":[[1,2],[3,4]]}`, nestedJSON(t, got))

	after, err := b.ListCollections()
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID, "id survives saves")
	assert.Equal(t, 1, after[0].Bricks)
	assert.False(t, after[0].UpdatedAt.Before(before[0].UpdatedAt))
}

func TestListAndDelete(t *testing.T) {
	b := attach(t, testConfig(t.TempDir()))
	require.NoError(t, b.SaveCollection(salesCollection(t)))
	empty := types.NewCollection("archive", types.DefaultRules())
	require.NoError(t, b.SaveCollection(empty))

	infos, err := b.ListCollections()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "archive", infos[0].Name)
	assert.Equal(t, 0, infos[0].Bricks)
	assert.Equal(t, "sales", infos[1].Name)
	assert.Equal(t, 2, infos[1].Bricks)
	id, err := uuid.Parse(infos[1].ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	require.NoError(t, b.DeleteCollection("sales"))
	assert.ErrorIs(t, b.DeleteCollection("sales"), types.ErrCollectionNotFound)

	infos, err = b.ListCollections()
	require.NoError(t, err)
	require.Len(t, infos, 1)

	data, err := os.ReadFile(filepath.Join(b.dataDir, bricksJSONL))
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(data)), "bricks of deleted collections leave the file")
}

func TestReattachRebuildsFromJSONL(t *testing.T) {
	dir := t.TempDir()
	want := salesCollection(t)

	first := NewBackend()
	require.NoError(t, first.Attach(testConfig(dir)))
	require.NoError(t, first.SaveCollection(want))
	require.NoError(t, first.Detach())

	// The database is derived state; only JSONL carries data across.
	require.NoError(t, os.Remove(filepath.Join(dir, dbFile)))

	second := attach(t, testConfig(dir))
	got, err := second.LoadCollection("sales")
	require.NoError(t, err)
	assert.Equal(t, nestedJSON(t, want), nestedJSON(t, got))
}

func TestJSONLFormat(t *testing.T) {
	dir := t.TempDir()
	b := attach(t, testConfig(dir))
	require.NoError(t, b.SaveCollection(salesCollection(t)))

	records, err := readJSONL(filepath.Join(dir, collectionsJSONL))
	require.NoError(t, err)
	require.Len(t, records, 1)
	var coll collectionRecord
	require.NoError(t, json.Unmarshal(records[0], &coll))
	assert.Equal(t, "sales", coll.Name)

	records, err = readJSONL(filepath.Join(dir, bricksJSONL))
	require.NoError(t, err)
	require.Len(t, records, 4, "q1, regions, north, south")

	kinds := map[string]string{}
	for _, rec := range records {
		var row brickRow
		require.NoError(t, json.Unmarshal(rec, &row))
		assert.Equal(t, coll.CollectionID, row.CollectionID)
		kinds[row.Key] = row.Kind
		if row.Kind == "internal" {
			assert.Empty(t, row.Payload)
		}
	}
	assert.Equal(t, map[string]string{"q1": "leaf", "regions": "internal", "north": "leaf", "south": "leaf"}, kinds)
}

func TestSyncOnClose(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.SyncStrategy = types.SyncOnClose

	b := NewBackend()
	require.NoError(t, b.Attach(cfg))
	require.NoError(t, b.SaveCollection(salesCollection(t)))
	require.NoError(t, b.SaveCollection(types.NewCollection("other", types.DefaultRules())))
	assert.Len(t, b.pendingWrites, 2, "one pending write per file")

	info, err := os.Stat(filepath.Join(dir, bricksJSONL))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "nothing written before detach")

	require.NoError(t, b.Detach())
	records, err := readJSONL(filepath.Join(dir, bricksJSONL))
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	colls := `{"collection_id":"c-1","name":"book","created_at":"2026-01-02T03:04:05Z","updated_at":"2026-01-02T03:04:05Z","future_field":1}
not json at all
`
	bricks := `{"collection_id":"c-1","brick_id":1,"parent_id":0,"key":"a","ordinal":0,"kind":"leaf","payload":{"shape":[1,2],"data":[[1,"x"]]},"created_at":"2026-01-02T03:04:05Z"}
{"collection_id":"c-1","brick_id":1,"parent_id":0,"key":"dup","ordinal":1,"kind":"leaf","created_at":"2026-01-02T03:04:05Z"}
{"collection_id":"c-1","brick_id":2,"parent_id":0,"key":"b","ordinal":1,"kind":"internal","created_at":"2026-01-02T03:04:05Z"}
{broken
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, collectionsJSONL), []byte(colls), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bricksJSONL), []byte(bricks), 0o644))

	b := attach(t, testConfig(dir))
	got, err := b.LoadCollection("book")
	require.NoError(t, err)
	assert.Equal(t, `{"a":[[1,"x"]],"b":{}}`, nestedJSON(t, got))
}

func TestLoadRejectsBrokenTree(t *testing.T) {
	dir := t.TempDir()
	colls := `{"collection_id":"c-1","name":"book","created_at":"2026-01-02T03:04:05Z","updated_at":"2026-01-02T03:04:05Z"}
`
	// Brick 2 hangs below a parent that does not exist.
	bricks := `{"collection_id":"c-1","brick_id":2,"parent_id":9,"key":"orphan","ordinal":0,"kind":"leaf","payload":{"shape":[1,1],"data":[[1]]},"created_at":"2026-01-02T03:04:05Z"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, collectionsJSONL), []byte(colls), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bricksJSONL), []byte(bricks), 0o644))

	b := attach(t, testConfig(dir))
	_, err := b.LoadCollection("book")
	assert.ErrorIs(t, err, types.ErrInvalidRecord)
}
