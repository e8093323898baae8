// Package sqlite implements the SQLite store for brick collections. SQLite
// is the query engine; the JSONL files in the data directory are the
// source of truth and the database is rebuilt from them on every Attach.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/xlbricks/internal/logger"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// dbFile is the database file inside the data directory.
const dbFile = "xlbricks.db"

// Backend implements types.Store using SQLite as the query engine and JSONL
// files as the source of truth.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sql.DB
	log      *log.Logger

	syncStrategy  string
	pendingWrites []pendingWrite // queued JSONL writes for on_close
	pendingMu     sync.Mutex
}

// pendingWrite is a deferred JSONL write. Each one rewrites a whole file
// from the database, so one pending write per file suffices.
type pendingWrite struct {
	file    string
	persist func() error
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{log: logger.New("sqlite")}
}

// Attach initializes the backend with the given configuration. It creates
// DataDir if needed, builds a fresh schema, and loads the JSONL files.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is derived state; start from an empty file.
	dbPath := filepath.Join(dataDir, dbFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}
	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir
	b.syncStrategy = config.SyncStrategy
	b.pendingWrites = nil
	b.attached = true
	b.log.Debug("attached", "data_dir", dataDir, "sync", b.syncStrategy)
	return nil
}

// Detach releases all resources held by the backend. Pending on_close
// writes are flushed first. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if err := b.flushPendingWrites(); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	b.log.Debug("detached", "data_dir", b.dataDir)
	return nil
}

// generateUUID generates a new UUID v7 for collection ids.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (b *Backend) shouldPersistImmediately() bool {
	return b.syncStrategy == types.SyncImmediate || b.syncStrategy == ""
}

// persist writes the named JSONL files now or queues them until Detach,
// depending on the sync strategy.
func (b *Backend) persist(files ...string) error {
	for _, file := range files {
		fn := b.persistFunc(file)
		if b.shouldPersistImmediately() {
			if err := fn(); err != nil {
				return err
			}
			continue
		}
		b.queueWrite(file, fn)
	}
	return nil
}

func (b *Backend) persistFunc(file string) func() error {
	switch file {
	case collectionsJSONL:
		return b.persistCollectionsJSONL
	default:
		return b.persistBricksJSONL
	}
}

func (b *Backend) queueWrite(file string, persist func() error) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for _, pw := range b.pendingWrites {
		if pw.file == file {
			return
		}
	}
	b.pendingWrites = append(b.pendingWrites, pendingWrite{file: file, persist: persist})
}

// flushPendingWrites runs every queued write. The caller must hold b.mu.
func (b *Backend) flushPendingWrites() error {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	for _, pw := range b.pendingWrites {
		if err := pw.persist(); err != nil {
			return fmt.Errorf("flush %s: %w", pw.file, err)
		}
	}
	b.pendingWrites = nil
	return nil
}
