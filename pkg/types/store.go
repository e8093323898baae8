package types

import (
	"errors"
	"time"
)

// Store persists the current state of collections between processes.
// Callers attach to a backend, save and load collections by name, and
// detach when done. Undo history is never stored.
type Store interface {
	// Attach connects the Store to the backend described by config.
	// Creates the DataDir if it does not exist. Returns ErrAlreadyAttached
	// if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, every other method returns ErrBackendDetached.
	Detach() error

	// SaveCollection replaces the stored state of c.Name() with c.
	SaveCollection(c *Collection) error

	// LoadCollection returns the stored collection, validated with the
	// rules of the attached config. Returns ErrCollectionNotFound if no
	// collection has that name.
	LoadCollection(name string) (*Collection, error)

	// DeleteCollection removes the stored collection. Returns
	// ErrCollectionNotFound if no collection has that name.
	DeleteCollection(name string) error

	// ListCollections describes every stored collection, ordered by name.
	ListCollections() ([]CollectionInfo, error)
}

// CollectionInfo summarizes one stored collection.
type CollectionInfo struct {
	ID        string    `json:"collection_id"`
	Name      string    `json:"name"`
	Bricks    int       `json:"bricks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store lifecycle errors.
var (
	ErrBackendDetached    = errors.New("backend is detached")
	ErrAlreadyAttached    = errors.New("backend is already attached")
	ErrCollectionNotFound = errors.New("collection not found")
)
