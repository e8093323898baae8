// Package sqlite provides the public constructor for the SQLite store,
// keeping the implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/xlbricks/internal/sqlite"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// NewBackend creates a new SQLite store. The store is not attached; call
// Attach with a Config to initialize.
//
// Example:
//
//	store := sqlite.NewBackend()
//	err := store.Attach(types.Config{
//	    Backend:      types.BackendSQLite,
//	    DataDir:      ".xlbricks",
//	    SyncStrategy: types.SyncImmediate,
//	    MaxKeyLength: types.DefaultMaxKeyLength,
//	    Separator:    types.DefaultSeparator,
//	})
//	defer store.Detach()
func NewBackend() types.Store {
	return sqlite.NewBackend()
}
