// Package frontstack manages named brick collections ("fronts"), each with
// a bounded undo and redo history, and tracks which front is active.
package frontstack

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/xlbricks/internal/logger"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// Options configure every front of a Stack.
type Options struct {
	Capacity int         // undo and redo depth per front; 0 keeps no history
	Rules    types.Rules // validation rules for new collections
}

// OptionsFrom derives stack options from the process configuration.
func OptionsFrom(cfg types.Config) Options {
	return Options{Capacity: cfg.StackCapacity, Rules: cfg.Rules()}
}

// Loader returns the stored state of a front that is not registered yet.
// It returns an error wrapping types.ErrCollectionNotFound when nothing is
// stored under name.
type Loader func(name string) (*types.Collection, error)

// Stack is a registry of fronts in registration order plus the name of the
// active front. Stacks are created explicitly and passed by reference.
type Stack struct {
	mu     sync.Mutex
	opts   Options
	fronts map[string]*Front
	order  []string
	active string
	loader Loader
	log    *log.Logger
}

// New returns an empty stack.
func New(opts Options) *Stack {
	return &Stack{
		opts:   opts,
		fronts: make(map[string]*Front),
		log:    logger.New("frontstack"),
	}
}

// SetLoader installs fn to supply the initial state of fronts activated
// for the first time.
func (s *Stack) SetLoader(fn Loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loader = fn
}

// Options returns the options the stack was created with.
func (s *Stack) Options() Options { return s.opts }

// Activate makes name the active front, creating it with an empty history
// when absent. Activating the active front again changes nothing.
func (s *Stack) Activate(name string) (*Front, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.fronts[name]; ok {
		s.active = name
		return f, nil
	}
	if err := s.opts.Rules.CheckKey(name); err != nil {
		return nil, fmt.Errorf("front name: %w", err)
	}

	coll := types.NewCollection(name, s.opts.Rules)
	if s.loader != nil {
		loaded, err := s.loader(name)
		switch {
		case err == nil:
			coll = loaded
		case !errors.Is(err, types.ErrCollectionNotFound):
			return nil, fmt.Errorf("loading front %q: %w", name, err)
		}
	}
	f := s.registerLocked(name, coll)
	s.active = name
	s.log.Debug("activated", "front", name, "bricks", coll.Len())
	return f, nil
}

// Open returns the front registered under name, loading it when a loader
// is installed and has it stored. Unlike Activate it never creates an
// empty front and never changes the active front; unknown names fail with
// ErrFrontNotFound.
func (s *Stack) Open(name string) (*Front, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.fronts[name]; ok {
		return f, nil
	}
	if s.loader == nil {
		return nil, fmt.Errorf("%w: %q", types.ErrFrontNotFound, name)
	}
	loaded, err := s.loader(name)
	if errors.Is(err, types.ErrCollectionNotFound) {
		return nil, fmt.Errorf("%w: %q", types.ErrFrontNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading front %q: %w", name, err)
	}
	s.log.Debug("opened", "front", name, "bricks", loaded.Len())
	return s.registerLocked(name, loaded), nil
}

func (s *Stack) registerLocked(name string, coll *types.Collection) *Front {
	f := newFront(name, coll, s.opts.Capacity, s.log)
	if _, exists := s.fronts[name]; !exists {
		s.order = append(s.order, name)
	}
	s.fronts[name] = f
	return f
}

// Active returns the active front or ErrNoActiveFront.
func (s *Stack) Active() (*Front, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return nil, types.ErrNoActiveFront
	}
	return s.fronts[s.active], nil
}

// Get returns the front registered under name.
func (s *Stack) Get(name string) (*Front, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fronts[name]
	return f, ok
}

// Names returns the front names in registration order.
func (s *Stack) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Len returns the number of registered fronts.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Remove deletes a front and its history. The active front cannot be
// removed.
func (s *Stack) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fronts[name]; !ok {
		return fmt.Errorf("%w: %q", types.ErrFrontNotFound, name)
	}
	if name == s.active {
		return fmt.Errorf("%w: %q", types.ErrActiveFrontRemoval, name)
	}
	delete(s.fronts, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	s.log.Debug("removed", "front", name)
	return nil
}

// Clear removes every front and resets the active front.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.fronts)
	s.order = nil
	s.active = ""
}

// Close drops every front. The stack is usable again afterwards.
func (s *Stack) Close() error {
	n := s.Len()
	s.Clear()
	s.log.Debug("closed", "fronts", n)
	return nil
}

// Undo undoes the last change of the active front.
func (s *Stack) Undo() error {
	f, err := s.Active()
	if err != nil {
		return err
	}
	return f.Undo()
}

// Redo redoes the last undone change of the active front.
func (s *Stack) Redo() error {
	f, err := s.Active()
	if err != nil {
		return err
	}
	return f.Redo()
}

// Dump returns every front as a mapping from front name to its collection,
// in registration order.
func (s *Stack) Dump() *types.Nested {
	s.mu.Lock()
	fronts := make([]*Front, 0, len(s.order))
	for _, name := range s.order {
		fronts = append(fronts, s.fronts[name])
	}
	s.mu.Unlock()

	out := types.NestedMap()
	for _, f := range fronts {
		_ = f.View(func(c *types.Collection) error {
			out.Set(f.Name(), c.ToNested())
			return nil
		})
	}
	return out
}
