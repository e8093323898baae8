package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// collectionRecord is the JSONL form of a row of the collections table.
type collectionRecord struct {
	CollectionID string `json:"collection_id"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// brickRow is the JSONL form of a row of the bricks table. Payload is kept
// as raw JSON so that it round-trips without reinterpretation.
type brickRow struct {
	CollectionID string          `json:"collection_id"`
	BrickID      int64           `json:"brick_id"`
	ParentID     int64           `json:"parent_id"`
	Key          string          `json:"key"`
	Ordinal      int             `json:"ordinal"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Tag          string          `json:"tag,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

func (b *Backend) checkAttached() error {
	if !b.attached {
		return types.ErrBackendDetached
	}
	return nil
}

// SaveCollection replaces the stored state of c.Name() with c in one
// transaction. The collection keeps its id and creation time across saves.
func (b *Backend) SaveCollection(c *types.Collection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAttached(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	id, err := collectionID(tx, c.Name())
	switch {
	case errors.Is(err, types.ErrCollectionNotFound):
		id = generateUUID()
		if _, err := tx.Exec(
			`INSERT INTO collections (collection_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			id, c.Name(), now, now); err != nil {
			return fmt.Errorf("inserting collection: %w", err)
		}
	case err != nil:
		return err
	default:
		if _, err := tx.Exec(`UPDATE collections SET updated_at = ? WHERE collection_id = ?`, now, id); err != nil {
			return fmt.Errorf("updating collection: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM bricks WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("clearing bricks: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO bricks
		(collection_id, brick_id, parent_id, key, ordinal, kind, payload, tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing brick insert: %w", err)
	}
	defer stmt.Close()

	records := c.Records()
	for _, r := range records {
		var payload any
		if r.Payload != nil {
			raw, err := r.Payload.MarshalJSON()
			if err != nil {
				return fmt.Errorf("encoding payload of %q: %w", r.Key, err)
			}
			payload = string(raw)
		}
		var tag any
		if r.Tag != "" {
			tag = r.Tag
		}
		if _, err := stmt.Exec(id, int64(r.ID), int64(r.Parent), r.Key, r.Ordinal, r.Kind.String(),
			payload, tag, r.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting brick %q: %w", r.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}

	b.log.Debug("saved collection", "name", c.Name(), "bricks", len(records))
	return b.persist(collectionsJSONL, bricksJSONL)
}

func collectionID(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, name string) (string, error) {
	var id string
	err := q.QueryRow(`SELECT collection_id FROM collections WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", types.ErrCollectionNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("looking up collection %q: %w", name, err)
	}
	return id, nil
}

// LoadCollection rebuilds the stored collection name with the rules of the
// attached configuration.
func (b *Backend) LoadCollection(name string) (*types.Collection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	id, err := collectionID(b.db, name)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.Query(`SELECT brick_id, parent_id, key, ordinal, kind, payload, tag, created_at
		FROM bricks WHERE collection_id = ? ORDER BY parent_id, ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("reading bricks of %q: %w", name, err)
	}
	defer rows.Close()

	var records []types.BrickRecord
	for rows.Next() {
		var (
			r                 types.BrickRecord
			brickID, parentID int64
			kind, createdAt   string
			payload, tag      sql.NullString
		)
		if err := rows.Scan(&brickID, &parentID, &r.Key, &r.Ordinal, &kind, &payload, &tag, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning brick: %w", err)
		}
		r.ID = types.NodeID(brickID)
		r.Parent = types.NodeID(parentID)
		if err := r.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, fmt.Errorf("brick %d of %q: %w", brickID, name, err)
		}
		if payload.Valid {
			r.Payload = new(types.Payload)
			if err := r.Payload.UnmarshalJSON([]byte(payload.String)); err != nil {
				return nil, fmt.Errorf("brick %d of %q: %w", brickID, name, err)
			}
		}
		r.Tag = tag.String
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types.CollectionFromRecords(name, b.config.Rules(), records)
}

// DeleteCollection removes the stored collection and its bricks.
func (b *Backend) DeleteCollection(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkAttached(); err != nil {
		return err
	}

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	id, err := collectionID(tx, name)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM bricks WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("deleting bricks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM collections WHERE collection_id = ?`, id); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	b.log.Debug("deleted collection", "name", name)
	return b.persist(collectionsJSONL, bricksJSONL)
}

// ListCollections describes every stored collection ordered by name.
// Bricks counts root bricks.
func (b *Backend) ListCollections() ([]types.CollectionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkAttached(); err != nil {
		return nil, err
	}

	rows, err := b.db.Query(`SELECT c.collection_id, c.name, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM bricks WHERE bricks.collection_id = c.collection_id AND parent_id = 0)
		FROM collections c ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []types.CollectionInfo
	for rows.Next() {
		var info types.CollectionInfo
		var createdAt, updatedAt string
		if err := rows.Scan(&info.ID, &info.Name, &createdAt, &updatedAt, &info.Bricks); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (b *Backend) persistCollectionsJSONL() error {
	rows, err := b.db.Query(`SELECT collection_id, name, created_at, updated_at FROM collections ORDER BY name`)
	if err != nil {
		return fmt.Errorf("reading collections for JSONL: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var c collectionRecord
		if err := rows.Scan(&c.CollectionID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return fmt.Errorf("scanning collection for JSONL: %w", err)
		}
		rec, err := json.Marshal(c)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, collectionsJSONL), records)
}

func (b *Backend) persistBricksJSONL() error {
	rows, err := b.db.Query(`SELECT collection_id, brick_id, parent_id, key, ordinal, kind, payload, tag, created_at
		FROM bricks ORDER BY collection_id, parent_id, ordinal`)
	if err != nil {
		return fmt.Errorf("reading bricks for JSONL: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var r brickRow
		var payload, tag sql.NullString
		if err := rows.Scan(&r.CollectionID, &r.BrickID, &r.ParentID, &r.Key, &r.Ordinal, &r.Kind,
			&payload, &tag, &r.CreatedAt); err != nil {
			return fmt.Errorf("scanning brick for JSONL: %w", err)
		}
		if payload.Valid {
			r.Payload = json.RawMessage(payload.String)
		}
		r.Tag = tag.String
		rec, err := json.Marshal(r)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, bricksJSONL), records)
}
