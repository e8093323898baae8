package sqlite

// Schema DDL. The database is a query cache rebuilt from JSONL on every
// Attach, so there are no migrations.
const (
	createCollections = `CREATE TABLE collections (
    collection_id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createBricks = `CREATE TABLE bricks (
    collection_id TEXT NOT NULL,
    brick_id INTEGER NOT NULL,
    parent_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT,
    tag TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (collection_id, brick_id),
    FOREIGN KEY (collection_id) REFERENCES collections(collection_id) ON DELETE CASCADE
);`
)

const (
	idxBricksParent = `CREATE INDEX idx_bricks_parent ON bricks(collection_id, parent_id, ordinal);`
	idxBricksKey    = `CREATE UNIQUE INDEX idx_bricks_key ON bricks(collection_id, parent_id, key);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createCollections,
	createBricks,
}

var indexDDL = []string{
	idxBricksParent,
	idxBricksKey,
}
