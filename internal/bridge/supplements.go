package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// StoreGrid stores a grid whose first column holds keys as an internal
// brick at path: every keyed block becomes a leaf child named by its key.
// The whole grid is one change of the front.
func (b *Bridge) StoreGrid(ctx context.Context, name, path string, grid types.Grid, opts StoreOptions) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p, err := b.target(path)
	if err != nil {
		return Ack{}, err
	}
	if opts.Crop {
		grid = CropGrid(grid)
	}
	blocks := SplitGrid(grid)
	if len(blocks) == 0 {
		return Ack{}, b.pathError("store", p, fmt.Errorf("%w: no keyed rows", types.ErrEmptyPayload))
	}

	sub, err := types.NewInternalWith(b.rules(), p[len(p)-1])
	if err != nil {
		return Ack{}, b.pathError("store", p, err)
	}
	blockOpts := opts
	blockOpts.Crop = false
	for _, blk := range blocks {
		at := p.Append(blk.Key)
		if err := b.rules().CheckKey(blk.Key); err != nil {
			return Ack{}, b.pathError("store", at, err)
		}
		if _, dup := sub.Child(blk.Key); dup {
			return Ack{}, b.pathError("store", at, fmt.Errorf("%w: %q appears twice", types.ErrKeyCollision, blk.Key))
		}
		payload, err := b.payload(blk.Data, blockOpts)
		if err != nil {
			return Ack{}, b.pathError("store", at, err)
		}
		if err := sub.Set(types.Path{blk.Key}, payload, false); err != nil {
			return Ack{}, err
		}
	}

	f, err := b.write(name, opts.Persist, func(c *types.Collection) error {
		return c.PutBrick(p, sub, opts.Force)
	})
	if err != nil {
		return Ack{}, err
	}
	b.log.Debug("store grid", "front", f.Name(), "path", b.rules().Join(p), "blocks", len(blocks))
	return b.ack(f, p), nil
}

// StoreList stores every cell of grid as a single column at path.
func (b *Bridge) StoreList(ctx context.Context, name, path string, grid types.Grid, opts StoreOptions) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p, err := b.target(path)
	if err != nil {
		return Ack{}, err
	}
	opts.Headers = HeadersNone
	payload, err := b.payload(grid, opts)
	if err != nil {
		return Ack{}, b.pathError("store", p, err)
	}
	flat := payload.Flatten()
	f, err := b.write(name, opts.Persist, func(c *types.Collection) error {
		return c.Put(p, flat, opts.Force)
	})
	if err != nil {
		return Ack{}, err
	}
	return b.ack(f, p), nil
}

// StoreNested stores a nested structure at path. Mappings become internal
// bricks and arrays leaves. Every leaf passes the same shape checks and
// coercion as Store.
func (b *Bridge) StoreNested(ctx context.Context, name, path string, n *types.Nested, opts StoreOptions) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p, err := b.target(path)
	if err != nil {
		return Ack{}, err
	}
	sub, err := b.brickFrom(p, n, opts)
	if err != nil {
		return Ack{}, err
	}
	f, err := b.write(name, opts.Persist, func(c *types.Collection) error {
		return c.PutBrick(p, sub, opts.Force)
	})
	if err != nil {
		return Ack{}, err
	}
	return b.ack(f, p), nil
}

// brickFrom rebuilds n leaf by leaf through the boundary checks.
func (b *Bridge) brickFrom(p types.Path, n *types.Nested, opts StoreOptions) (*types.Brick, error) {
	fail := func(at types.Path, err error) error { return b.pathError("store", at, err) }
	raw, err := types.FromNestedWith(b.rules(), p[len(p)-1], n)
	if err != nil {
		return nil, fail(p, err)
	}
	if raw.Kind() == types.KindEmpty {
		return nil, fail(p, fmt.Errorf("%w: null", types.ErrEmptyPayload))
	}
	opts.Crop = false
	opts.Headers = HeadersNone
	if leaf, ok := raw.Payload(); ok {
		payload, err := b.payload(leaf.Grid(), opts)
		if err != nil {
			return nil, fail(p, err)
		}
		return types.NewBrickWith(b.rules(), p[len(p)-1], payload)
	}
	out, err := types.NewInternalWith(b.rules(), p[len(p)-1])
	if err != nil {
		return nil, fail(p, err)
	}
	err = raw.Walk(func(at types.Path, br *types.Brick) error {
		if len(at) == 0 {
			return nil
		}
		if err := b.rules().CheckKey(br.Key()); err != nil {
			return fail(p.Append(at...), err)
		}
		leaf, ok := br.Payload()
		if !ok {
			if br.Kind() == types.KindInternal {
				if br.Len() > 0 {
					return nil
				}
				empty, err := types.NewInternalWith(b.rules(), br.Key())
				if err != nil {
					return fail(p.Append(at...), err)
				}
				return out.Graft(at, empty, false)
			}
			return fail(p.Append(at...), fmt.Errorf("%w: null", types.ErrEmptyPayload))
		}
		payload, err := b.payload(leaf.Grid(), opts)
		if err != nil {
			return fail(p.Append(at...), err)
		}
		return out.Set(at, payload, false)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup copies the brick at path of front source into front target. An
// internal brick contributes its children as the target's root bricks; a
// leaf is stored under its own key. The target's previous content is
// replaced in one change.
func (b *Bridge) Lookup(ctx context.Context, source, path, target string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p, err := b.target(path)
	if err != nil {
		return Ack{}, err
	}
	src, err := b.open(source)
	if err != nil {
		return Ack{}, err
	}
	var br *types.Brick
	if err := src.View(func(c *types.Collection) error {
		br, err = c.Brick(p)
		return err
	}); err != nil {
		return Ack{}, err
	}

	tmp := types.NewCollection(ParseRef(target).Name, b.rules())
	switch br.Kind() {
	case types.KindInternal:
		for _, key := range br.Keys() {
			child, _ := br.Child(key)
			if err := tmp.PutBrick(types.Path{key}, child, true); err != nil {
				return Ack{}, err
			}
		}
	default:
		if err := tmp.PutBrick(types.Path{br.Key()}, br, true); err != nil {
			return Ack{}, err
		}
	}

	f, err := b.write(target, true, func(c *types.Collection) error {
		return c.Replace(tmp)
	})
	if err != nil {
		return Ack{}, err
	}
	b.log.Debug("lookup", "source", source, "path", b.rules().Join(p), "target", f.Name())
	return b.ack(f, nil), nil
}

// copyOf returns a detached copy of the collection of front name.
func (b *Bridge) copyOf(name string) (*types.Collection, error) {
	f, err := b.open(name)
	if err != nil {
		return nil, err
	}
	out := types.NewCollection(f.Name(), b.rules())
	err = f.View(func(c *types.Collection) error {
		return out.Replace(c)
	})
	return out, err
}

// Merge copies the root bricks of every source front into target, in
// order. A later source wins over an earlier one and over the target for
// keys they share. The merge is one change of the target.
func (b *Bridge) Merge(ctx context.Context, target string, sources ...string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if len(sources) == 0 {
		return Ack{}, fmt.Errorf("%w: merge needs at least one source", types.ErrBadRequest)
	}
	combined := types.NewCollection(ParseRef(target).Name, b.rules())
	for _, name := range sources {
		src, err := b.copyOf(name)
		if err != nil {
			return Ack{}, err
		}
		if err := combined.Merge(src); err != nil {
			return Ack{}, err
		}
	}
	f, err := b.write(target, true, func(c *types.Collection) error {
		return c.Merge(combined)
	})
	if err != nil {
		return Ack{}, err
	}
	b.log.Debug("merge", "target", f.Name(), "sources", len(sources))
	return b.ack(f, nil), nil
}

// Alias makes front to a copy of front from. Later changes to either are
// independent.
func (b *Bridge) Alias(ctx context.Context, from, to string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	src, err := b.copyOf(from)
	if err != nil {
		return Ack{}, err
	}
	f, err := b.write(to, true, func(c *types.Collection) error {
		return c.Replace(src)
	})
	if err != nil {
		return Ack{}, err
	}
	return b.ack(f, nil), nil
}

// Keys lists the child keys of the internal brick at path.
func (b *Bridge) Keys(ctx context.Context, name, path string) ([]string, error) {
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
	var keys []string
	err = f.View(func(c *types.Collection) error {
		keys, err = c.ListKeys(p)
		return err
	})
	return keys, err
}

// Rename changes the key of the brick at path.
func (b *Bridge) Rename(ctx context.Context, name, path, newKey string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	p, err := b.target(path)
	if err != nil {
		return Ack{}, err
	}
	f, err := b.change(name, func(c *types.Collection) error {
		return c.Rename(p, newKey)
	})
	if err != nil {
		return Ack{}, err
	}
	return b.ack(f, p[:len(p)-1].Append(newKey)), nil
}

// Move re-parents the brick at from to the path to.
func (b *Bridge) Move(ctx context.Context, name, from, to string, force bool) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	src, err := b.target(from)
	if err != nil {
		return Ack{}, err
	}
	dst, err := b.target(to)
	if err != nil {
		return Ack{}, err
	}
	f, err := b.change(name, func(c *types.Collection) error {
		return c.Move(src, dst, force)
	})
	if err != nil {
		return Ack{}, err
	}
	return b.ack(f, dst), nil
}

// FrontInfo describes one front known to the bridge.
type FrontInfo struct {
	Name      string `json:"name" yaml:"name"`
	Active    bool   `json:"active" yaml:"active"`
	Loaded    bool   `json:"loaded" yaml:"loaded"`
	Ref       string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Bricks    int    `json:"bricks" yaml:"bricks"`
	UndoDepth int    `json:"undo" yaml:"undo"`
	RedoDepth int    `json:"redo" yaml:"redo"`
}

// Fronts lists the registered fronts in registration order followed by
// fronts that are only stored, ordered by name.
func (b *Bridge) Fronts(ctx context.Context) ([]FrontInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	active := ""
	if f, err := b.stack.Active(); err == nil {
		active = f.Name()
	}
	var out []FrontInfo
	for _, name := range b.stack.Names() {
		f, ok := b.stack.Get(name)
		if !ok {
			continue
		}
		info := FrontInfo{
			Name:      name,
			Active:    name == active,
			Loaded:    true,
			Ref:       f.Ref(),
			UndoDepth: f.UndoDepth(),
			RedoDepth: f.RedoDepth(),
		}
		_ = f.View(func(c *types.Collection) error {
			info.Bricks = c.Len()
			return nil
		})
		out = append(out, info)
	}
	if b.store == nil {
		return out, nil
	}
	stored, err := b.store.ListCollections()
	if err != nil {
		return nil, err
	}
	for _, ci := range stored {
		if slices.ContainsFunc(out, func(fi FrontInfo) bool { return fi.Name == ci.Name }) {
			continue
		}
		out = append(out, FrontInfo{Name: ci.Name, Bricks: ci.Bricks})
	}
	return out, nil
}

// RemoveFront drops a front and its history. With purge the stored state
// is deleted as well. The active front cannot be removed.
func (b *Bridge) RemoveFront(ctx context.Context, name string, purge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = ParseRef(name).Name
	err := b.stack.Remove(name)
	stored := purge && b.store != nil
	switch {
	case err == nil:
	case errors.Is(err, types.ErrFrontNotFound) && stored:
		// Only stored; the purge below decides whether it exists.
	default:
		return err
	}
	if !stored {
		return nil
	}
	if derr := b.store.DeleteCollection(name); derr != nil {
		if errors.Is(derr, types.ErrCollectionNotFound) && err == nil {
			return nil
		}
		if errors.Is(derr, types.ErrCollectionNotFound) {
			return fmt.Errorf("%w: %q", types.ErrFrontNotFound, name)
		}
		return derr
	}
	b.log.Debug("purged", "front", name)
	return nil
}

// Clear drops every front. With purge every stored collection is deleted
// too.
func (b *Bridge) Clear(ctx context.Context, purge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.stack.Clear()
	if !purge || b.store == nil {
		return nil
	}
	stored, err := b.store.ListCollections()
	if err != nil {
		return err
	}
	for _, ci := range stored {
		if err := b.store.DeleteCollection(ci.Name); err != nil && !errors.Is(err, types.ErrCollectionNotFound) {
			return err
		}
	}
	b.log.Debug("cleared", "purged", len(stored))
	return nil
}

// Dump returns every front as a mapping from front name to collection.
// Stored fronts are loaded first so that the dump covers them too.
func (b *Bridge) Dump(ctx context.Context) (*types.Nested, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.store != nil {
		stored, err := b.store.ListCollections()
		if err != nil {
			return nil, err
		}
		for _, ci := range stored {
			if _, err := b.stack.Open(ci.Name); err != nil {
				return nil, err
			}
		}
	}
	return b.stack.Dump(), nil
}
