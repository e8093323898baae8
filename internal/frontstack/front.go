package frontstack

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// Front is a named collection with its own undo and redo history. All
// access to the collection goes through the front's lock.
type Front struct {
	mu       sync.Mutex
	name     string
	id       string
	created  time.Time
	coll     *types.Collection
	undo     []*types.Snapshot // oldest first
	redo     []*types.Snapshot // oldest first
	capacity int
	version  uint64
	scratch  bool
	log      *log.Logger
}

func newFront(name string, coll *types.Collection, capacity int, l *log.Logger) *Front {
	f := &Front{
		name:     name,
		id:       generateUUID(),
		created:  time.Now(),
		coll:     coll,
		capacity: capacity,
		log:      l,
	}
	coll.SetMutationHook(f.snapshotBeforeMutation)
	return f
}

// generateUUID generates a new UUID v7 for front instances.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Name returns the front name.
func (f *Front) Name() string { return f.name }

// ID returns the instance id assigned when the front was created.
func (f *Front) ID() string { return f.id }

// CreatedAt returns when the front was created.
func (f *Front) CreatedAt() time.Time { return f.created }

// Version counts the changes made to the front, including undo and redo.
func (f *Front) Version() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// Ref returns the reference string name:version handed back to hosts.
func (f *Front) Ref() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refLocked()
}

func (f *Front) refLocked() string {
	return fmt.Sprintf("%s:%d", f.name, f.version)
}

// UndoDepth returns the number of states that Undo can restore.
func (f *Front) UndoDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.undo)
}

// RedoDepth returns the number of states that Redo can restore.
func (f *Front) RedoDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.redo)
}

// Do runs fn with exclusive access to the collection. Every successful
// mutation inside fn pushes an undo snapshot and clears the redo history.
func (f *Front) Do(fn func(c *types.Collection) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f.coll)
}

// Scratch is Do without undo retention: mutations still clear the redo
// history but leave no state to return to.
func (f *Front) Scratch(fn func(c *types.Collection) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scratch = true
	defer func() { f.scratch = false }()
	return fn(f.coll)
}

// View runs fn with the collection for reading. fn must not mutate it.
func (f *Front) View(fn func(c *types.Collection) error) error {
	return f.Do(fn)
}

// snapshotBeforeMutation runs under f.mu from inside a collection
// mutation, after the mutation has been validated.
func (f *Front) snapshotBeforeMutation() error {
	if !f.scratch {
		f.undo = push(f.undo, f.coll.Snapshot(), f.capacity)
	}
	f.redo = nil
	f.version++
	return nil
}

// Undo restores the state before the most recent change. It fails with
// ErrNothingToUndo when the history is empty.
func (f *Front) Undo() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.undo) == 0 {
		return fmt.Errorf("%w: front %q", types.ErrNothingToUndo, f.name)
	}
	snap := f.undo[len(f.undo)-1]
	f.undo = f.undo[:len(f.undo)-1]
	f.redo = push(f.redo, f.coll.Snapshot(), f.capacity)
	f.coll.Restore(snap)
	f.version++
	f.log.Debug("undo", "front", f.name, "depth", len(f.undo), "ref", f.refLocked())
	return nil
}

// Redo reapplies the most recently undone change. It fails with
// ErrNothingToRedo when nothing has been undone since the last write.
func (f *Front) Redo() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.redo) == 0 {
		return fmt.Errorf("%w: front %q", types.ErrNothingToRedo, f.name)
	}
	snap := f.redo[len(f.redo)-1]
	f.redo = f.redo[:len(f.redo)-1]
	f.undo = push(f.undo, f.coll.Snapshot(), f.capacity)
	f.coll.Restore(snap)
	f.version++
	f.log.Debug("redo", "front", f.name, "depth", len(f.redo), "ref", f.refLocked())
	return nil
}

// push appends s and drops the oldest entries beyond capacity.
func push(stack []*types.Snapshot, s *types.Snapshot, capacity int) []*types.Snapshot {
	if capacity <= 0 {
		return stack[:0]
	}
	stack = append(stack, s)
	if over := len(stack) - capacity; over > 0 {
		clear(stack[:over])
		stack = stack[over:]
	}
	return stack
}
