// Package bridge translates host calls into operations on fronts. It
// applies the validation rules at the boundary, routes writes through the
// front stack so that history is kept, and saves changed fronts to the
// attached store.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/xlbricks/internal/frontstack"
	"github.com/mesh-intelligence/xlbricks/internal/logger"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// ErrorPrefix starts every error message shown inside a spreadsheet cell.
const ErrorPrefix = "#XLB ERROR: "

// Display renders err for a spreadsheet cell: the prefix, the taxonomy
// code and the message.
func Display(err error) string {
	return fmt.Sprintf("%s%s: %v", ErrorPrefix, types.Code(err), err)
}

// Bridge is the boundary between hosts and the front stack.
type Bridge struct {
	stack *frontstack.Stack
	store types.Store
	dtype types.DType
	log   *log.Logger

	maxLine int
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithStore saves every changed front to s and loads fronts from it on
// first reference.
func WithStore(s types.Store) Option {
	return func(b *Bridge) { b.store = s }
}

// WithDType sets the dtype applied to stored payloads when a call does not
// name one.
func WithDType(dt types.DType) Option {
	return func(b *Bridge) { b.dtype = dt }
}

// New returns a Bridge over stack.
func New(stack *frontstack.Stack, opts ...Option) *Bridge {
	b := &Bridge{
		stack:   stack,
		dtype:   types.DTypeAny,
		log:     logger.New("bridge"),
		maxLine: DefaultMaxLine,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.store != nil {
		stack.SetLoader(b.store.LoadCollection)
	}
	return b
}

// Stack returns the front stack the bridge operates on.
func (b *Bridge) Stack() *frontstack.Stack { return b.stack }

func (b *Bridge) rules() types.Rules { return b.stack.Options().Rules }

// Ack acknowledges a change. Ref changes with every change of the front so
// that hosts can tell stale references from current ones.
type Ack struct {
	Front     string `json:"front" yaml:"front"`
	Ref       string `json:"ref" yaml:"ref"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	UndoDepth int    `json:"undo" yaml:"undo"`
	RedoDepth int    `json:"redo" yaml:"redo"`
}

func (b *Bridge) ack(f *frontstack.Front, path types.Path) Ack {
	return Ack{
		Front:     f.Name(),
		Ref:       f.Ref(),
		Path:      b.rules().Join(path),
		UndoDepth: f.UndoDepth(),
		RedoDepth: f.RedoDepth(),
	}
}

// StoreOptions control a store call. The zero value is a scratch write;
// use DefaultStoreOptions for an ordinary one.
type StoreOptions struct {
	Persist bool        // keep an undo snapshot of the previous state
	Force   bool        // overwrite leaves met mid-path and opposite-kind terminals
	DType   types.DType // coercion target; empty means the bridge default
	Crop    bool        // trim empty edges before validation
	Headers HeaderMode  // labels to split off before validation
}

// DefaultStoreOptions returns options for a write that keeps history.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{Persist: true}
}

func (b *Bridge) pathError(op string, p types.Path, err error) error {
	return &types.PathError{Op: op, Path: p, Sep: b.rules().Separator, Err: err}
}

func (b *Bridge) parsePath(s string) (types.Path, error) {
	p, err := b.rules().ParsePath(s)
	if err != nil {
		return nil, &types.PathError{Op: "parse", Path: types.Path{s}, Err: err}
	}
	return p, nil
}

func (b *Bridge) target(s string) (types.Path, error) {
	p, err := b.parsePath(s)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, b.pathError("parse", p, fmt.Errorf("%w: path is empty", types.ErrInvalidPath))
	}
	return p, nil
}

// payload runs the boundary checks on a host grid: crop, shape, headers,
// coercion. Nothing is activated or written.
func (b *Bridge) payload(g types.Grid, opts StoreOptions) (*types.Payload, error) {
	rules := b.rules()
	if opts.Crop {
		g = CropGrid(g)
	}
	if err := rules.CheckShape(g); err != nil {
		return nil, err
	}
	data, cols, rows := splitHeaders(g, opts.Headers)
	if err := rules.CheckShape(data); err != nil {
		return nil, err
	}
	width := data.Width()
	if len(data) == 0 && cols != nil {
		// Only headers: keep their width.
		width = len(cols)
	}
	p, err := types.NewPayloadWidth(data, width)
	if err != nil {
		return nil, err
	}
	if cols != nil || rows != nil {
		if p, err = p.WithHeaders(cols, rows); err != nil {
			return nil, err
		}
	}
	dt := opts.DType
	if dt == "" {
		dt = b.dtype
	}
	return types.CoerceTypes(p, dt)
}

// write activates name and runs fn on its collection, with or without undo
// retention, then saves the front.
func (b *Bridge) write(name string, persist bool, fn func(c *types.Collection) error) (*frontstack.Front, error) {
	f, err := b.stack.Activate(ParseRef(name).Name)
	if err != nil {
		return nil, err
	}
	run := f.Do
	if !persist {
		run = f.Scratch
	}
	if err := run(fn); err != nil {
		return nil, err
	}
	return f, b.save(f)
}

// change is write for operations on a front that must already exist. An
// unknown name fails with ErrFrontNotFound and creates nothing.
func (b *Bridge) change(name string, fn func(c *types.Collection) error) (*frontstack.Front, error) {
	if _, err := b.open(name); err != nil {
		return nil, err
	}
	return b.write(name, true, fn)
}

func (b *Bridge) save(f *frontstack.Front) error {
	if b.store == nil {
		return nil
	}
	start := time.Now()
	err := f.View(func(c *types.Collection) error {
		return b.store.SaveCollection(c)
	})
	if err != nil {
		b.log.Error("save failed", "front", f.Name(), "error", err)
		return fmt.Errorf("saving front %q: %w", f.Name(), err)
	}
	b.log.Debug("saved", "front", f.Name(), "ref", f.Ref(), "took", time.Since(start))
	return nil
}

func (b *Bridge) open(name string) (*frontstack.Front, error) {
	return b.stack.Open(ParseRef(name).Name)
}

// Store validates grid and writes it as a leaf at path of front name,
// creating the front when needed. Validation happens before the front is
// touched, so a rejected grid leaves both the collection and its history
// unchanged.
func (b *Bridge) Store(ctx context.Context, name, path string, grid types.Grid, opts StoreOptions) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p, err := b.target(path)
	if err != nil {
		return Ack{}, err
	}
	payload, err := b.payload(grid, opts)
	if err != nil {
		return Ack{}, b.pathError("store", p, err)
	}
	f, err := b.write(name, opts.Persist, func(c *types.Collection) error {
		return c.Put(p, payload, opts.Force)
	})
	if err != nil {
		return Ack{}, err
	}
	b.log.Debug("store", "front", f.Name(), "path", b.rules().Join(p), "ref", f.Ref())
	return b.ack(f, p), nil
}

// Retrieve returns the leaf payload or the nested structure at path
// followed by subpath. An empty path returns the whole front.
func (b *Bridge) Retrieve(ctx context.Context, name, path string, subpath ...string) (*types.Nested, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := b.parsePath(path)
	if err != nil {
		return nil, err
	}
	f, err := b.open(name)
	if err != nil {
		return nil, err
	}
	var out *types.Nested
	err = f.View(func(c *types.Collection) error {
		out, err = c.Get(p, subpath...)
		return err
	})
	return out, err
}

// Erase removes the brick at path with its subtree.
func (b *Bridge) Erase(ctx context.Context, name, path string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p, err := b.target(path)
	if err != nil {
		return Ack{}, err
	}
	f, err := b.change(name, func(c *types.Collection) error {
		return c.Remove(p)
	})
	if err != nil {
		return Ack{}, err
	}
	b.log.Debug("erase", "front", f.Name(), "path", b.rules().Join(p), "ref", f.Ref())
	return b.ack(f, p), nil
}

// Undo restores front name to its state before the last change. An
// exhausted history fails with an error for which
// types.IsHistoryExhausted reports true.
func (b *Bridge) Undo(ctx context.Context, name string) (Ack, error) {
	return b.history(ctx, name, types.ErrNothingToUndo, (*frontstack.Front).Undo)
}

// Redo reapplies the last undone change of front name.
func (b *Bridge) Redo(ctx context.Context, name string) (Ack, error) {
	return b.history(ctx, name, types.ErrNothingToRedo, (*frontstack.Front).Redo)
}

// history runs step on an existing front. A front that was never written
// has no history, so an unknown name reports exhausted without creating a
// front.
func (b *Bridge) history(ctx context.Context, name string, exhausted error, step func(*frontstack.Front) error) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	name = ParseRef(name).Name
	if _, err := b.open(name); err != nil {
		if errors.Is(err, types.ErrFrontNotFound) {
			return Ack{}, fmt.Errorf("%w: front %q", exhausted, name)
		}
		return Ack{}, err
	}
	f, err := b.stack.Activate(name)
	if err != nil {
		return Ack{}, err
	}
	if err := step(f); err != nil {
		if types.IsHistoryExhausted(err) {
			b.log.Debug("history exhausted", "front", f.Name(), "error", err)
		}
		return Ack{}, err
	}
	if err := b.save(f); err != nil {
		return Ack{}, err
	}
	return b.ack(f, nil), nil
}

// IsCalm reports whether err is an expected condition that hosts should
// show as a notice rather than a failure.
func IsCalm(err error) bool {
	return types.IsHistoryExhausted(err) && !errors.Is(err, context.Canceled)
}
