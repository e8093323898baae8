package types

import (
	"maps"
	"slices"
	"time"
)

// NodeID identifies a node within one arena. IDs are never reused while
// the arena lives; 0 is never allocated.
type NodeID uint64

// Kind is the tagged variant of a Brick.
type Kind uint8

// Brick kinds. An Empty brick holds neither a payload nor children.
const (
	KindEmpty Kind = iota
	KindLeaf
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	default:
		return "empty"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "empty", "":
		*k = KindEmpty
	case "leaf":
		*k = KindLeaf
	case "internal":
		*k = KindInternal
	default:
		return ErrInvalidRecord
	}
	return nil
}

type node struct {
	key      string
	parent   NodeID
	kind     Kind
	payload  *Payload
	children []NodeID          // insertion order
	index    map[string]NodeID // key -> child; nil unless internal
	tag      string
	created  time.Time
}

// arena owns every node of one tree. Edges are stored as NodeIDs so a
// subtree has exactly one parent and nothing is shared between arenas
// except immutable payloads.
type arena struct {
	nodes map[NodeID]*node
	next  NodeID
	rules Rules
}

func newArena(rules Rules) *arena {
	return &arena{nodes: make(map[NodeID]*node), next: 1, rules: rules}
}

func (a *arena) alloc(key string, parent NodeID) NodeID {
	id := a.next
	a.next++
	a.nodes[id] = &node{key: key, parent: parent, created: time.Now()}
	return id
}

// clone copies the node table. Payloads are shared; they are immutable.
func (a *arena) clone() *arena {
	out := &arena{nodes: make(map[NodeID]*node, len(a.nodes)), next: a.next, rules: a.rules}
	for id, n := range a.nodes {
		cp := *n
		cp.children = slices.Clone(n.children)
		if n.index != nil {
			cp.index = maps.Clone(n.index)
		}
		out.nodes[id] = &cp
	}
	return out
}

// resolve walks path from the node from.
func (a *arena) resolve(from NodeID, path Path) (NodeID, error) {
	cur := from
	for _, key := range path {
		n := a.nodes[cur]
		if n.kind != KindInternal {
			return 0, ErrNotATraversable
		}
		child, ok := n.index[key]
		if !ok {
			return 0, ErrKeyNotFound
		}
		cur = child
	}
	return cur, nil
}

// makeInternal turns an empty or leaf node into an internal node with no
// children. Internal nodes are left alone.
func (a *arena) makeInternal(id NodeID) {
	n := a.nodes[id]
	if n.kind == KindInternal {
		return
	}
	n.kind = KindInternal
	n.payload = nil
	n.index = make(map[string]NodeID)
}

// clearContent drops the payload and frees every child of id.
func (a *arena) clearContent(id NodeID) {
	n := a.nodes[id]
	for _, child := range n.children {
		a.free(child)
	}
	n.children = nil
	n.index = nil
	n.payload = nil
	n.kind = KindEmpty
}

// free removes id and its whole subtree from the node table. It does not
// unlink id from its parent.
func (a *arena) free(id NodeID) {
	n, ok := a.nodes[id]
	if !ok {
		return
	}
	for _, child := range n.children {
		a.free(child)
	}
	delete(a.nodes, id)
}

// attach appends child under parent with the given key.
func (a *arena) attach(parent, child NodeID, key string) {
	p := a.nodes[parent]
	c := a.nodes[child]
	c.key = key
	c.parent = parent
	p.children = append(p.children, child)
	p.index[key] = child
}

// unlink removes child from its parent's edges but keeps the subtree.
func (a *arena) unlink(child NodeID) {
	c := a.nodes[child]
	p := a.nodes[c.parent]
	p.children = slices.DeleteFunc(p.children, func(id NodeID) bool { return id == child })
	delete(p.index, c.key)
	c.parent = 0
}

// childOrAlloc returns the child under key, creating an empty one.
func (a *arena) childOrAlloc(parent NodeID, key string) NodeID {
	if id, ok := a.nodes[parent].index[key]; ok {
		return id
	}
	id := a.alloc(key, parent)
	a.attach(parent, id, key)
	return id
}

// copyContent replaces the content of dst with a deep copy of the content
// of src (which may live in another arena). Key, position and creation
// time of dst are kept; the tag is copied.
func (a *arena) copyContent(dst NodeID, src *arena, srcID NodeID) {
	a.clearContent(dst)
	s := src.nodes[srcID]
	d := a.nodes[dst]
	d.kind = s.kind
	d.payload = s.payload
	d.tag = s.tag
	if s.kind != KindInternal {
		return
	}
	d.index = make(map[string]NodeID, len(s.children))
	for _, sc := range s.children {
		key := src.nodes[sc].key
		id := a.alloc(key, dst)
		a.attach(dst, id, key)
		a.nodes[id].created = src.nodes[sc].created
		a.copyContent(id, src, sc)
	}
}

// preflight checks whether an item of kind incoming can be placed at path
// below from without touching the arena. It mirrors place exactly so that
// a mutation either fully applies or leaves the tree unchanged.
func (a *arena) preflight(from NodeID, path Path, incoming Kind, force bool) error {
	if len(path) == 0 {
		return ErrInvalidPath
	}
	cur := from
	for i, key := range path {
		n := a.nodes[cur]
		if n.kind == KindLeaf {
			if !force {
				return ErrPathConflict
			}
			// Forced: the leaf becomes internal and the rest is created fresh.
			return nil
		}
		if n.kind == KindEmpty {
			return nil
		}
		child, ok := n.index[key]
		if !ok {
			return nil
		}
		if i < len(path)-1 {
			cur = child
			continue
		}
		existing := a.nodes[child].kind
		if !force && conflicts(existing, incoming) {
			return ErrShapeConflict
		}
	}
	return nil
}

// conflicts reports whether placing incoming over existing swaps a leaf
// for an internal node or the reverse.
func conflicts(existing, incoming Kind) bool {
	return (existing == KindLeaf && incoming == KindInternal) ||
		(existing == KindInternal && incoming == KindLeaf)
}

// place walks path below from, auto-vivifying internal nodes, and returns
// the terminal node, created empty when absent. Callers run preflight
// first; place assumes the walk is permitted.
func (a *arena) place(from NodeID, path Path) NodeID {
	cur := from
	for _, key := range path {
		a.makeInternal(cur)
		cur = a.childOrAlloc(cur, key)
	}
	return cur
}

// records flattens the subtree below root in pre-order. Nodes directly
// under root report parent 0.
func (a *arena) records(root NodeID) []BrickRecord {
	var out []BrickRecord
	var walk func(id NodeID)
	walk = func(id NodeID) {
		for ordinal, child := range a.nodes[id].children {
			n := a.nodes[child]
			parent := id
			if id == root {
				parent = 0
			}
			out = append(out, BrickRecord{
				ID:        child,
				Parent:    parent,
				Key:       n.key,
				Ordinal:   ordinal,
				Kind:      n.kind,
				Payload:   n.payload,
				Tag:       n.tag,
				CreatedAt: n.created,
			})
			walk(child)
		}
	}
	walk(root)
	return out
}

// BrickRecord is the flat, NodeID-addressed form of one brick, used by
// persistence backends. Root bricks have Parent 0.
type BrickRecord struct {
	ID        NodeID    `json:"id"`
	Parent    NodeID    `json:"parent"`
	Key       string    `json:"key"`
	Ordinal   int       `json:"ordinal"`
	Kind      Kind      `json:"kind"`
	Payload   *Payload  `json:"payload,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
