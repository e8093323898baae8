package types

import (
	"fmt"
	"slices"
	"time"
)

// Brick is a handle to one node of a brick tree. A brick is Empty, a Leaf
// holding a Payload, or Internal holding ordered children; never both.
//
// Bricks returned by NewBrick, FromNested, Clone and Collection.Brick are
// detached: they own their tree and changing them never affects a
// Collection.
type Brick struct {
	a  *arena
	id NodeID
}

// NewBrick creates a detached brick. It fails with ErrShapeConflict when
// both a payload and children are supplied. With neither the brick is
// Empty. Children are copied; the arguments stay independent of the
// result.
func NewBrick(key string, payload *Payload, children ...*Brick) (*Brick, error) {
	return NewBrickWith(DefaultRules(), key, payload, children...)
}

// NewBrickWith is NewBrick with keys checked against rules. The brick
// keeps rules for later Set and Graft calls.
func NewBrickWith(rules Rules, key string, payload *Payload, children ...*Brick) (*Brick, error) {
	if err := rules.CheckKey(key); err != nil {
		return nil, err
	}
	if payload != nil && len(children) > 0 {
		return nil, fmt.Errorf("%w: brick %q given both a payload and %d children", ErrShapeConflict, key, len(children))
	}
	b := newDetached(key, rules)
	n := b.node()
	switch {
	case payload != nil:
		n.kind = KindLeaf
		n.payload = payload
	case len(children) > 0:
		b.a.makeInternal(b.id)
		for _, child := range children {
			ck := child.Key()
			if _, dup := n.index[ck]; dup {
				return nil, fmt.Errorf("%w: duplicate child key %q", ErrKeyCollision, ck)
			}
			if err := rules.CheckKey(ck); err != nil {
				return nil, err
			}
			id := b.a.alloc(ck, b.id)
			b.a.attach(b.id, id, ck)
			b.a.copyContent(id, child.a, child.id)
		}
	}
	return b, nil
}

// NewInternal creates a detached internal brick with no children.
func NewInternal(key string) (*Brick, error) {
	return NewInternalWith(DefaultRules(), key)
}

// NewInternalWith is NewInternal under rules.
func NewInternalWith(rules Rules, key string) (*Brick, error) {
	b, err := NewBrickWith(rules, key, nil)
	if err != nil {
		return nil, err
	}
	b.a.makeInternal(b.id)
	return b, nil
}

func newDetached(key string, rules Rules) *Brick {
	a := newArena(rules)
	id := a.alloc(key, 0)
	return &Brick{a: a, id: id}
}

func (b *Brick) node() *node { return b.a.nodes[b.id] }

// Key returns the brick's key. Unnamed detached roots have an empty key.
func (b *Brick) Key() string { return b.node().key }

// Kind returns the brick's variant.
func (b *Brick) Kind() Kind { return b.node().kind }

// Payload returns the payload of a leaf brick.
func (b *Brick) Payload() (*Payload, bool) {
	n := b.node()
	return n.payload, n.kind == KindLeaf
}

// Keys returns the child keys in insertion order.
func (b *Brick) Keys() []string {
	n := b.node()
	keys := make([]string, len(n.children))
	for i, id := range n.children {
		keys[i] = b.a.nodes[id].key
	}
	return keys
}

// Len returns the number of children.
func (b *Brick) Len() int { return len(b.node().children) }

// Child returns the child under key.
func (b *Brick) Child(key string) (*Brick, bool) {
	id, ok := b.node().index[key]
	if !ok {
		return nil, false
	}
	return &Brick{a: b.a, id: id}, true
}

// Tag returns the free-form tag.
func (b *Brick) Tag() string { return b.node().tag }

// SetTag replaces the free-form tag. Tags do not take part in equality.
func (b *Brick) SetTag(tag string) { b.node().tag = tag }

// CreatedAt returns the creation time of the node.
func (b *Brick) CreatedAt() time.Time { return b.node().created }

// Get resolves path below b. It fails with ErrKeyNotFound when a segment is
// absent and ErrNotATraversable when a leaf or empty brick is met before
// the path is exhausted. The result shares b's tree.
func (b *Brick) Get(path Path) (*Brick, error) {
	id, err := b.a.resolve(b.id, path)
	if err != nil {
		return nil, &PathError{Op: "get", Path: path, Sep: b.a.rules.separator(), Err: err}
	}
	return &Brick{a: b.a, id: id}, nil
}

// Set writes payload at path below b, creating intermediate internal
// bricks as needed. A leaf met mid-path fails with ErrPathConflict and an
// internal brick at the terminal fails with ErrShapeConflict, unless force
// is set, in which case they are overwritten. Replacing a leaf with a leaf
// is always allowed.
func (b *Brick) Set(path Path, payload *Payload, force bool) error {
	return b.mutate("set", path, force, payload, nil, nil)
}

// Graft places a copy of sub at path below b, following the same rules as
// Set with sub's kind as the incoming kind.
func (b *Brick) Graft(path Path, sub *Brick, force bool) error {
	return b.mutate("graft", path, force, nil, sub, nil)
}

// Delete removes the brick at path and its whole subtree.
func (b *Brick) Delete(path Path) error {
	return b.remove(path, nil)
}

// mutate is shared by Brick and Collection writes. Every failure is
// detected before hook runs and before the tree changes.
func (b *Brick) mutate(op string, path Path, force bool, payload *Payload, sub *Brick, hook func() error) error {
	fail := func(err error) error { return &PathError{Op: op, Path: path, Sep: b.a.rules.separator(), Err: err} }
	if len(path) == 0 {
		return fail(ErrInvalidPath)
	}
	if err := b.a.rules.CheckPath(path); err != nil {
		return fail(err)
	}
	incoming := KindLeaf
	if sub != nil {
		incoming = sub.Kind()
		// A copy keeps the source intact even when it lives in this tree.
		sub = sub.Clone()
		err := sub.Walk(func(p Path, br *Brick) error {
			if len(p) == 0 {
				return nil
			}
			return b.a.rules.CheckKey(br.Key())
		})
		if err != nil {
			return fail(err)
		}
	} else if payload == nil {
		return fail(fmt.Errorf("%w: no payload", ErrEmptyPayload))
	}
	if err := b.a.preflight(b.id, path, incoming, force); err != nil {
		return fail(err)
	}
	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}
	id := b.a.place(b.id, path)
	if sub != nil {
		b.a.copyContent(id, sub.a, sub.id)
		return nil
	}
	b.a.clearContent(id)
	n := b.a.nodes[id]
	n.kind = KindLeaf
	n.payload = payload
	return nil
}

func (b *Brick) remove(path Path, hook func() error) error {
	fail := func(err error) error { return &PathError{Op: "delete", Path: path, Sep: b.a.rules.separator(), Err: err} }
	if len(path) == 0 {
		return fail(ErrInvalidPath)
	}
	id, err := b.a.resolve(b.id, path)
	if err != nil {
		return fail(err)
	}
	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}
	b.a.unlink(id)
	b.a.free(id)
	return nil
}

// Clone returns a detached deep copy of b. The copy keeps b's key.
func (b *Brick) Clone() *Brick {
	out := newDetached(b.Key(), b.a.rules)
	out.node().created = b.CreatedAt()
	out.a.copyContent(out.id, b.a, b.id)
	return out
}

// Equal reports whether two bricks have the same key, kind, payloads and
// children in the same order. Tags and timestamps are ignored.
func (b *Brick) Equal(o *Brick) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.Key() != o.Key() {
		return false
	}
	return b.sameContent(o)
}

func (b *Brick) sameContent(o *Brick) bool {
	bn, on := b.node(), o.node()
	if bn.kind != on.kind {
		return false
	}
	switch bn.kind {
	case KindLeaf:
		return bn.payload.Equal(on.payload)
	case KindInternal:
		if !slices.Equal(b.Keys(), o.Keys()) {
			return false
		}
		for _, id := range bn.children {
			bc := &Brick{a: b.a, id: id}
			oc, _ := o.Child(bc.Key())
			if !bc.sameContent(oc) {
				return false
			}
		}
	}
	return true
}

// Walk calls fn for b and every descendant in pre-order with the path
// relative to b. Returning an error stops the walk.
func (b *Brick) Walk(fn func(path Path, br *Brick) error) error {
	var walk func(path Path, id NodeID) error
	walk = func(path Path, id NodeID) error {
		br := &Brick{a: b.a, id: id}
		if err := fn(path, br); err != nil {
			return err
		}
		for _, child := range b.a.nodes[id].children {
			if err := walk(path.Append(b.a.nodes[child].key), child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(Path{}, b.id)
}

// ToNested converts the brick into the wire form: internal bricks become
// ordered mappings, leaves their payload with headers reattached, and
// empty bricks null.
func (b *Brick) ToNested() *Nested {
	n := b.node()
	switch n.kind {
	case KindLeaf:
		return NestedLeaf(n.payload)
	case KindInternal:
		out := NestedMap()
		for _, id := range n.children {
			child := &Brick{a: b.a, id: id}
			out.Set(child.Key(), child.ToNested())
		}
		return out
	default:
		return NestedNull()
	}
}

// FromNested builds a detached brick named key from the wire form.
// Mappings become internal bricks, arrays leaves, and null an empty brick.
// An empty key leaves the root unnamed.
func FromNested(key string, n *Nested) (*Brick, error) {
	return FromNestedWith(DefaultRules(), key, n)
}

// FromNestedWith is FromNested with keys checked against rules.
func FromNestedWith(rules Rules, key string, n *Nested) (*Brick, error) {
	if key != "" {
		if err := rules.CheckKey(key); err != nil {
			return nil, err
		}
	}
	b := newDetached(key, rules)
	if err := b.fill(n); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Brick) fill(n *Nested) error {
	switch {
	case n == nil || n.IsNull():
		return nil
	case n.IsLeaf():
		nd := b.node()
		nd.kind = KindLeaf
		nd.payload = n.Leaf()
		return nil
	}
	b.a.makeInternal(b.id)
	for _, key := range n.Keys() {
		if err := b.a.rules.CheckKey(key); err != nil {
			return err
		}
		id := b.a.alloc(key, b.id)
		b.a.attach(b.id, id, key)
		child := &Brick{a: b.a, id: id}
		if err := child.fill(n.Child(key)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Brick) String() string {
	return fmt.Sprintf("Brick(%q, %s, %d children)", b.Key(), b.Kind(), b.Len())
}
