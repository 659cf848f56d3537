package mst

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Visitor is called once per entry during an in-order Walk: for a subtree
// pointer, before recursing into it, with key == nil; for a leaf, with key
// pointing at that leaf's key. level is the layer the entry occupies.
type Visitor func(level int, key *string) error

// Walk performs an in-order traversal of the tree, invoking visitor for
// every entry. It loads subtrees as it descends. A non-nil error from
// visitor stops the walk and is returned.
func (m *MST) Walk(ctx context.Context, visitor Visitor) error {
	for _, e := range m.entries {
		if e.isSubtree() {
			if err := visitor(m.layer, nil); err != nil {
				return err
			}
			child, err := m.loadChild(ctx, e.subtree, m.layer-1)
			if err != nil {
				return err
			}
			if err := child.Walk(ctx, visitor); err != nil {
				return err
			}
			continue
		}

		key := e.key
		if err := visitor(m.layer, &key); err != nil {
			return err
		}
	}
	return nil
}

// walkLeaves is an internal convenience over Walk that yields each leaf's
// key and value directly, sparing callers (e.g. Diff) a redundant Get per
// leaf. It is not part of the public surface because Visitor carries no
// value parameter.
func (m *MST) walkLeaves(ctx context.Context, fn func(key string, value cid.Cid) error) error {
	for _, e := range m.entries {
		if e.isSubtree() {
			child, err := m.loadChild(ctx, e.subtree, m.layer-1)
			if err != nil {
				return err
			}
			if err := child.walkLeaves(ctx, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

// StructureNode is the nested, debug-friendly representation returned by
// Structure: a single node's layer and its ordered entries, with subtree
// pointers expanded in place.
type StructureNode struct {
	Layer  int             `json:"layer"`
	CID    string          `json:"cid,omitempty"`
	Leaves []StructureLeaf `json:"leaves,omitempty"`
}

// StructureLeaf is either a plain leaf (Key/Value set, Subtree nil) or an
// inline expansion of the subtree pointer that sits to its right.
type StructureLeaf struct {
	Key     string         `json:"key,omitempty"`
	Value   string         `json:"value,omitempty"`
	Subtree *StructureNode `json:"subtree,omitempty"`
}

// Structure returns a nested representation of the tree suitable for
// debugging and golden-file tests.
func (m *MST) Structure(ctx context.Context) (*StructureNode, error) {
	out := &StructureNode{Layer: m.layer}
	if m.cid.Defined() {
		out.CID = m.cid.String()
	}

	i := 0
	if len(m.entries) > 0 && m.entries[0].isSubtree() {
		sub, err := m.structureChild(ctx, m.entries[0].subtree)
		if err != nil {
			return nil, err
		}
		out.Leaves = append(out.Leaves, StructureLeaf{Subtree: sub})
		i++
	}

	for i < len(m.entries) {
		e := m.entries[i]
		i++
		sl := StructureLeaf{Key: e.key, Value: e.value.String()}

		if i < len(m.entries) && m.entries[i].isSubtree() {
			sub, err := m.structureChild(ctx, m.entries[i].subtree)
			if err != nil {
				return nil, err
			}
			out.Leaves = append(out.Leaves, sl, StructureLeaf{Subtree: sub})
			i++
			continue
		}

		out.Leaves = append(out.Leaves, sl)
	}

	return out, nil
}

func (m *MST) structureChild(ctx context.Context, c cid.Cid) (*StructureNode, error) {
	child, err := m.loadChild(ctx, c, m.layer-1)
	if err != nil {
		return nil, err
	}
	return child.Structure(ctx)
}
