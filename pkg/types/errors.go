package types

import (
	"errors"
	"fmt"
)

// Structural errors raised by Brick and Collection operations.
var (
	ErrShapeConflict   = errors.New("shape conflict")
	ErrPathConflict    = errors.New("path conflict")
	ErrKeyNotFound     = errors.New("key not found")
	ErrNotATraversable = errors.New("not a traversable brick")
	ErrKeyCollision    = errors.New("key collision")
	ErrInvalidRecord   = errors.New("invalid brick record")
)

// Validation errors raised before a payload or path reaches a Brick.
var (
	ErrInvalidKey     = errors.New("invalid key")
	ErrInvalidPath    = errors.New("invalid path")
	ErrEmptyPayload   = errors.New("empty payload")
	ErrIrregularShape = errors.New("irregular shape")
	ErrTypeMismatch   = errors.New("type mismatch")
)

// Front history and registry errors.
var (
	ErrNothingToUndo      = errors.New("nothing to undo")
	ErrNothingToRedo      = errors.New("nothing to redo")
	ErrActiveFrontRemoval = errors.New("cannot remove the active front")
	ErrFrontNotFound      = errors.New("front not found")
	ErrNoActiveFront      = errors.New("no active front")
)

// ErrBadRequest is returned by host adapters for malformed requests:
// unknown operations, options or missing arguments.
var ErrBadRequest = errors.New("bad request")

// PathError records the operation and path that failed. Sep is the
// separator used to render Path; empty means DefaultSeparator.
type PathError struct {
	Op   string
	Path Path
	Sep  string
	Err  error
}

func (e *PathError) Error() string {
	sep := e.Sep
	if sep == "" {
		sep = DefaultSeparator
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path.Join(sep), e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// CellError names the cell that failed validation or coercion.
// Row and Col are zero-based; Error reports them one-based, the way a
// spreadsheet user counts.
type CellError struct {
	Row int
	Col int
	Err error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell (row %d, column %d): %v", e.Row+1, e.Col+1, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

// errorCodes maps sentinels to the taxonomy names exchanged with hosts.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrShapeConflict, "ShapeConflict"},
	{ErrPathConflict, "PathConflict"},
	{ErrKeyNotFound, "KeyNotFound"},
	{ErrNotATraversable, "NotATraversable"},
	{ErrKeyCollision, "KeyCollision"},
	{ErrInvalidKey, "InvalidKey"},
	{ErrInvalidPath, "InvalidPath"},
	{ErrEmptyPayload, "EmptyPayload"},
	{ErrIrregularShape, "IrregularShape"},
	{ErrTypeMismatch, "TypeMismatch"},
	{ErrNothingToUndo, "NothingToUndo"},
	{ErrNothingToRedo, "NothingToRedo"},
	{ErrActiveFrontRemoval, "ActiveFrontRemoval"},
	{ErrFrontNotFound, "FrontNotFound"},
	{ErrNoActiveFront, "NoActiveFront"},
	{ErrInvalidRecord, "InvalidRecord"},
	{ErrCollectionNotFound, "CollectionNotFound"},
	{ErrBadRequest, "BadRequest"},
}

// CodeInternal is reported for errors outside the taxonomy.
const CodeInternal = "Internal"

// Code returns the taxonomy name of err, or CodeInternal when err does not
// wrap any known sentinel. A nil error has no code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	// InvalidPath wraps the InvalidKey that caused it; report the outer kind.
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			if ec.err == ErrInvalidKey && errors.Is(err, ErrInvalidPath) {
				return "InvalidPath"
			}
			return ec.code
		}
	}
	return CodeInternal
}

// IsHistoryExhausted reports whether err is the expected undo or redo
// exhaustion condition rather than a structural failure.
func IsHistoryExhausted(err error) bool {
	return errors.Is(err, ErrNothingToUndo) || errors.Is(err, ErrNothingToRedo)
}
