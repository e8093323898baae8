package types

import (
	"fmt"
	"iter"
	"slices"
	"time"
)

// Collection is a named, ordered mapping of root bricks. All bricks of a
// collection live in one arena under a hidden internal root node.
//
// A Collection is not safe for concurrent use; frontstack.Front serializes
// access to the collections it owns.
type Collection struct {
	name string
	root *Brick
	hook func() error
}

// NewCollection returns an empty collection that validates keys with rules.
func NewCollection(name string, rules Rules) *Collection {
	root := newDetached("", rules)
	root.a.makeInternal(root.id)
	return &Collection{name: name, root: root}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Rules returns the rules the collection validates with.
func (c *Collection) Rules() Rules { return c.root.a.rules }

// Len returns the number of root bricks.
func (c *Collection) Len() int { return c.root.Len() }

// SetMutationHook installs fn to run after a mutation has been validated
// and before it is applied. An error from fn aborts the mutation.
func (c *Collection) SetMutationHook(fn func() error) { c.hook = fn }

// Put stores payload at path. See Brick.Set for the structural rules.
func (c *Collection) Put(path Path, payload *Payload, force bool) error {
	if err := c.Rules().checkPayload(payload); err != nil {
		return &PathError{Op: "put", Path: path, Sep: c.Rules().separator(), Err: err}
	}
	return c.root.mutate("put", path, force, payload, nil, c.hook)
}

// PutBrick stores a copy of br at path. The brick's own key is ignored;
// the last path segment names it.
func (c *Collection) PutBrick(path Path, br *Brick, force bool) error {
	if br == nil {
		return &PathError{Op: "put", Path: path, Sep: c.Rules().separator(), Err: fmt.Errorf("%w: no brick", ErrEmptyPayload)}
	}
	if p, ok := br.Payload(); ok {
		if err := c.Rules().checkPayload(p); err != nil {
			return &PathError{Op: "put", Path: path, Sep: c.Rules().separator(), Err: err}
		}
	}
	return c.root.mutate("put", path, force, nil, br, c.hook)
}

// Get returns the wire form of the brick at path followed by subpath. The
// empty path returns the whole collection as a mapping.
func (c *Collection) Get(path Path, subpath ...string) (*Nested, error) {
	full := path.Append(subpath...)
	br, err := c.root.Get(full)
	if err != nil {
		return nil, err
	}
	return br.ToNested(), nil
}

// Brick returns a detached deep copy of the brick at path.
func (c *Collection) Brick(path Path) (*Brick, error) {
	br, err := c.root.Get(path)
	if err != nil {
		return nil, err
	}
	return br.Clone(), nil
}

// ToNested returns the whole collection as an ordered mapping.
func (c *Collection) ToNested() *Nested { return c.root.ToNested() }

// Remove deletes the brick at path with its subtree.
func (c *Collection) Remove(path Path) error {
	return c.root.remove(path, c.hook)
}

// Keys yields the child keys of the brick at path in insertion order. The
// sequence is empty when path does not address an internal brick. Each
// iteration reads the current state of the collection.
func (c *Collection) Keys(path Path) iter.Seq[string] {
	return func(yield func(string) bool) {
		id, err := c.root.a.resolve(c.root.id, path)
		if err != nil {
			return
		}
		for _, child := range slices.Clone(c.root.a.nodes[id].children) {
			n, ok := c.root.a.nodes[child]
			if !ok {
				return
			}
			if !yield(n.key) {
				return
			}
		}
	}
}

// ListKeys returns the child keys of the brick at path. It fails with
// ErrNotATraversable when path addresses a leaf or empty brick.
func (c *Collection) ListKeys(path Path) ([]string, error) {
	br, err := c.root.Get(path)
	if err != nil {
		return nil, err
	}
	if br.Kind() != KindInternal {
		return nil, &PathError{Op: "keys", Path: path, Sep: c.Rules().separator(), Err: ErrNotATraversable}
	}
	return br.Keys(), nil
}

// Rename changes the key of the brick at path, keeping its position among
// its siblings. It fails with ErrKeyCollision when a sibling already uses
// newKey.
func (c *Collection) Rename(path Path, newKey string) error {
	fail := func(err error) error { return &PathError{Op: "rename", Path: path, Sep: c.Rules().separator(), Err: err} }
	if len(path) == 0 {
		return fail(ErrInvalidPath)
	}
	a := c.root.a
	id, err := a.resolve(c.root.id, path)
	if err != nil {
		return fail(err)
	}
	if err := a.rules.CheckKey(newKey); err != nil {
		return fail(err)
	}
	n := a.nodes[id]
	if n.key == newKey {
		return nil
	}
	parent := a.nodes[n.parent]
	if _, taken := parent.index[newKey]; taken {
		return fail(fmt.Errorf("%w: %q", ErrKeyCollision, newKey))
	}
	if err := c.runHook(); err != nil {
		return err
	}
	delete(parent.index, n.key)
	parent.index[newKey] = id
	n.key = newKey
	return nil
}

// Move re-parents the brick at from so that it is addressed by to. The
// structural rules of Put apply at the destination. Moving a brick into
// its own subtree, or onto one of its ancestors, fails with
// ErrPathConflict.
func (c *Collection) Move(from, to Path, force bool) error {
	fail := func(err error) error { return &PathError{Op: "move", Path: from, Sep: c.Rules().separator(), Err: err} }
	if len(from) == 0 || len(to) == 0 {
		return fail(ErrInvalidPath)
	}
	a := c.root.a
	id, err := a.resolve(c.root.id, from)
	if err != nil {
		return fail(err)
	}
	if err := a.rules.CheckPath(to); err != nil {
		return fail(err)
	}
	if to.HasPrefix(from) || from.HasPrefix(to) {
		return fail(fmt.Errorf("%w: cannot move %q to %q", ErrPathConflict, a.rules.Join(from), a.rules.Join(to)))
	}
	if err := a.preflight(c.root.id, to, a.nodes[id].kind, force); err != nil {
		return fail(err)
	}
	if err := c.runHook(); err != nil {
		return err
	}
	a.unlink(id)
	last := to[len(to)-1]
	parent := a.place(c.root.id, to[:len(to)-1])
	a.makeInternal(parent)
	p := a.nodes[parent]
	old, ok := p.index[last]
	if !ok {
		a.attach(parent, id, last)
		return nil
	}
	// A replaced brick keeps its position among its siblings.
	p.children[slices.Index(p.children, old)] = id
	p.index[last] = id
	a.free(old)
	n := a.nodes[id]
	n.key = last
	n.parent = parent
	return nil
}

// Merge copies every root brick of other into c. Bricks of other replace
// bricks of c with the same key; new keys are appended. The mutation hook
// runs once for the whole merge.
func (c *Collection) Merge(other *Collection) error {
	if other == nil || other.Len() == 0 {
		return nil
	}
	rules := c.Rules()
	err := other.root.Walk(func(p Path, br *Brick) error {
		if len(p) == 0 {
			return nil
		}
		if err := rules.CheckKey(br.Key()); err != nil {
			return &PathError{Op: "merge", Path: p, Sep: c.Rules().separator(), Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.runHook(); err != nil {
		return err
	}
	a := c.root.a
	for _, key := range other.root.Keys() {
		src, _ := other.root.Child(key)
		dst := a.childOrAlloc(c.root.id, key)
		a.copyContent(dst, src.a, src.id)
	}
	return nil
}

// Replace makes c a copy of other. The mutation hook runs once.
func (c *Collection) Replace(other *Collection) error {
	if err := c.runHook(); err != nil {
		return err
	}
	a := other.root.a.clone()
	a.rules = c.root.a.rules
	c.root = &Brick{a: a, id: other.root.id}
	return nil
}

// Clear removes every root brick.
func (c *Collection) Clear() error {
	if c.Len() == 0 {
		return nil
	}
	if err := c.runHook(); err != nil {
		return err
	}
	c.root.a.clearContent(c.root.id)
	c.root.a.makeInternal(c.root.id)
	return nil
}

func (c *Collection) runHook() error {
	if c.hook == nil {
		return nil
	}
	return c.hook()
}

// Snapshot is an immutable copy of a collection's state. Payloads are
// shared with the live collection.
type Snapshot struct {
	a     *arena
	root  NodeID
	taken time.Time
}

// TakenAt returns when the snapshot was taken.
func (s *Snapshot) TakenAt() time.Time { return s.taken }

// Snapshot captures the current state.
func (c *Collection) Snapshot() *Snapshot {
	return &Snapshot{a: c.root.a.clone(), root: c.root.id, taken: time.Now()}
}

// Restore replaces the current state with s. The snapshot stays usable.
func (c *Collection) Restore(s *Snapshot) {
	c.root = &Brick{a: s.a.clone(), id: s.root}
}

// Equal reports whether two collections hold equal bricks in the same
// order. Names are not compared.
func (c *Collection) Equal(o *Collection) bool {
	return c.root.sameContent(o.root)
}

// Records flattens the collection in pre-order for persistence.
func (c *Collection) Records() []BrickRecord {
	return c.root.a.records(c.root.id)
}

// CollectionFromRecords rebuilds a collection from the form produced by
// Records. Records may arrive in any order; siblings are ordered by
// Ordinal. Orphans, duplicate keys and leaves without payload fail with
// ErrInvalidRecord.
func CollectionFromRecords(name string, rules Rules, records []BrickRecord) (*Collection, error) {
	c := NewCollection(name, rules)
	byParent := make(map[NodeID][]BrickRecord)
	seen := make(map[NodeID]bool, len(records))
	for _, r := range records {
		if r.ID == 0 || seen[r.ID] {
			return nil, fmt.Errorf("%w: missing or repeated id %d", ErrInvalidRecord, r.ID)
		}
		seen[r.ID] = true
		byParent[r.Parent] = append(byParent[r.Parent], r)
	}
	for _, group := range byParent {
		slices.SortStableFunc(group, func(x, y BrickRecord) int { return x.Ordinal - y.Ordinal })
	}
	a := c.root.a
	placed := 0
	var build func(parentOld, parentNew NodeID) error
	build = func(parentOld, parentNew NodeID) error {
		for _, r := range byParent[parentOld] {
			if err := rules.CheckKey(r.Key); err != nil {
				return fmt.Errorf("%w: record %d: %w", ErrInvalidRecord, r.ID, err)
			}
			p := a.nodes[parentNew]
			if p.kind != KindInternal {
				return fmt.Errorf("%w: record %d has a non-internal parent", ErrInvalidRecord, r.ID)
			}
			if _, dup := p.index[r.Key]; dup {
				return fmt.Errorf("%w: duplicate key %q under record %d", ErrInvalidRecord, r.Key, parentOld)
			}
			id := a.alloc(r.Key, parentNew)
			a.attach(parentNew, id, r.Key)
			n := a.nodes[id]
			n.tag = r.Tag
			if !r.CreatedAt.IsZero() {
				n.created = r.CreatedAt
			}
			placed++
			switch r.Kind {
			case KindLeaf:
				if r.Payload == nil {
					return fmt.Errorf("%w: leaf record %d has no payload", ErrInvalidRecord, r.ID)
				}
				n.kind = KindLeaf
				n.payload = r.Payload
			case KindInternal:
				a.makeInternal(id)
				if err := build(r.ID, id); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := build(0, c.root.id); err != nil {
		return nil, err
	}
	if placed != len(records) {
		return nil, fmt.Errorf("%w: %d records are not reachable from the root", ErrInvalidRecord, len(records)-placed)
	}
	return c, nil
}
