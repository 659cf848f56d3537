// Package mst implements a content-addressed Merkle Search Tree: an
// immutable, persistent key/value index whose shape is deterministic given
// its contents, because each key's depth is derived from a hash rather
// than from insertion order.
//
// The tree consumes two injected capabilities — a BlockStore and a Hasher
// — and is otherwise pure. Every mutating method leaves the receiver
// pointed at the freshly persisted node and returns its CID; there is no
// destroy step, garbage collection of unreferenced blocks is the block
// store's concern.
package mst

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// MST is an in-memory handle onto one persisted node: the layer it lives
// at, and the ordered sequence of leaves/subtree-pointers it holds. It has
// no back-pointer to a parent, matching the immutable, bottom-up
// re-persistence model — every mutation walks down, then persists back up.
type MST struct {
	bs     BlockStore
	hasher Hasher

	layer   int
	entries []entry
	cid     cid.Cid
}

// Create returns an empty handle at the given layer. A fresh tree always
// starts at layer 0; deeper empty layers only arise as scratch children
// created mid-Add (see addBelow below).
func Create(bs BlockStore, hasher Hasher, layer int) *MST {
	if hasher == nil {
		hasher = DefaultHasher
	}
	return &MST{bs: bs, hasher: hasher, layer: layer, entries: nil}
}

// Load fetches the node at c and decodes it into a handle. If layer is
// nil, the layer is inferred from the first leaf; a node with no leaves
// and no hint returns ErrLayerUnknown.
func Load(ctx context.Context, bs BlockStore, hasher Hasher, c cid.Cid, layer *int) (*MST, error) {
	if hasher == nil {
		hasher = DefaultHasher
	}

	var nd NodeData
	if err := bs.Get(ctx, c, &nd); err != nil {
		return nil, err
	}

	entries, firstLeafKey, err := decodeNodeData(&nd)
	if err != nil {
		return nil, err
	}

	var z int
	switch {
	case layer != nil:
		z = *layer
	case firstLeafKey != nil:
		z = leadingZerosOnHash(hasher, *firstLeafKey)
	default:
		return nil, ErrLayerUnknown
	}

	if err := checkNoAdjacentSubtrees(entries); err != nil {
		return nil, err
	}

	return &MST{bs: bs, hasher: hasher, layer: z, entries: entries, cid: c}, nil
}

// fromData persists entries as a node at layer and returns the resulting
// handle.
func fromData(ctx context.Context, bs BlockStore, hasher Hasher, entries []entry, layer int) (*MST, error) {
	m := &MST{bs: bs, hasher: hasher, layer: layer, entries: entries}
	if _, err := m.Put(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Put serializes the current node, replaces the handle's CID with the
// result, and returns it. Every mutating method calls this before
// returning, so a handle's CID is always the root of its current entries.
func (m *MST) Put(ctx context.Context) (cid.Cid, error) {
	if err := checkNoAdjacentSubtrees(m.entries); err != nil {
		return cid.Undef, err
	}
	nd, err := encodeNodeData(m.entries)
	if err != nil {
		return cid.Undef, err
	}
	c, err := m.bs.Put(ctx, nd)
	if err != nil {
		return cid.Undef, err
	}
	m.cid = c
	return c, nil
}

// CID returns the handle's current root CID without re-persisting.
func (m *MST) CID() cid.Cid { return m.cid }

// Layer returns the layer this node's leaves (if any) live at.
func (m *MST) Layer() int { return m.layer }

func (m *MST) loadChild(ctx context.Context, c cid.Cid, layer int) (*MST, error) {
	return Load(ctx, m.bs, m.hasher, c, &layer)
}

func (m *MST) newEmptyChild() *MST {
	return Create(m.bs, m.hasher, m.layer-1)
}

// findGtOrEqualLeafIndex returns the index of the first leaf entry whose
// key is >= key, or len(entries) if none exists. Subtree pointers occupy
// positions in the sequence but are skipped by the comparison.
func findGtOrEqualLeafIndex(entries []entry, key string) int {
	for i, e := range entries {
		if e.isLeaf() && e.key >= key {
			return i
		}
	}
	return len(entries)
}

// at returns the entry at ix, or (zero entry, false) if ix is out of
// range, treating an out-of-range lookup as "absent" rather than an error.
func at(entries []entry, ix int) (entry, bool) {
	if ix < 0 || ix >= len(entries) {
		return entry{}, false
	}
	return entries[ix], true
}

// Add inserts a new leaf (key, value) and returns the new root CID. It
// fails with ErrKeyExists if key is already present at the layer it
// naturally belongs to.
func (m *MST) Add(ctx context.Context, key string, value cid.Cid) (cid.Cid, error) {
	kz := leadingZerosOnHash(m.hasher, key)
	z := m.layer

	switch {
	case kz == z:
		return m.addHere(ctx, key, value)
	case kz < z:
		return m.addBelow(ctx, key, value)
	default:
		return m.addAbove(ctx, key, value, kz)
	}
}

// addHere handles the case where the key belongs at this node's layer.
func (m *MST) addHere(ctx context.Context, key string, value cid.Cid) (cid.Cid, error) {
	i := findGtOrEqualLeafIndex(m.entries, key)

	if found, ok := at(m.entries, i); ok && found.isLeaf() && found.key == key {
		return cid.Undef, ErrKeyExists
	}

	prev, ok := at(m.entries, i-1)
	if !ok || prev.isLeaf() {
		return m.spliceIn(ctx, leaf(key, value), i)
	}

	// prev is a subtree pointer straddling the insertion point: split it
	// around key, then splice the new leaf between the two halves.
	child, err := m.loadChild(ctx, prev.subtree, m.layer-1)
	if err != nil {
		return cid.Undef, err
	}
	leftCid, rightCid, err := child.splitAround(ctx, key)
	if err != nil {
		return cid.Undef, err
	}

	var replacement []entry
	if leftCid != nil {
		replacement = append(replacement, subtree(*leftCid))
	}
	replacement = append(replacement, leaf(key, value))
	if rightCid != nil {
		replacement = append(replacement, subtree(*rightCid))
	}

	return m.replaceRange(ctx, i-1, i, replacement)
}

// addBelow handles the case where the key belongs in a subtree beneath
// this node.
func (m *MST) addBelow(ctx context.Context, key string, value cid.Cid) (cid.Cid, error) {
	i := findGtOrEqualLeafIndex(m.entries, key)

	prev, ok := at(m.entries, i-1)
	if ok && prev.isSubtree() {
		child, err := m.loadChild(ctx, prev.subtree, m.layer-1)
		if err != nil {
			return cid.Undef, err
		}
		newChildCid, err := child.Add(ctx, key, value)
		if err != nil {
			return cid.Undef, err
		}
		return m.replaceRange(ctx, i-1, i, []entry{subtree(newChildCid)})
	}

	child := m.newEmptyChild()
	newChildCid, err := child.Add(ctx, key, value)
	if err != nil {
		return cid.Undef, err
	}
	return m.spliceIn(ctx, subtree(newChildCid), i)
}

// addAbove handles the case where the key's natural layer is above the
// current root, so the whole tree is pushed down beneath a new top node.
func (m *MST) addAbove(ctx context.Context, key string, value cid.Cid, kz int) (cid.Cid, error) {
	leftCid, rightCid, err := m.splitAround(ctx, key)
	if err != nil {
		return cid.Undef, err
	}

	var left, right *MST
	if leftCid != nil {
		left, err = m.loadChild(ctx, *leftCid, m.layer)
		if err != nil {
			return cid.Undef, err
		}
	}
	if rightCid != nil {
		right, err = m.loadChild(ctx, *rightCid, m.layer)
		if err != nil {
			return cid.Undef, err
		}
	}

	for l := m.layer + 1; l < kz; l++ {
		if left != nil {
			wrapped, err := fromData(ctx, m.bs, m.hasher, []entry{subtree(left.cid)}, l)
			if err != nil {
				return cid.Undef, err
			}
			left = wrapped
		}
		if right != nil {
			wrapped, err := fromData(ctx, m.bs, m.hasher, []entry{subtree(right.cid)}, l)
			if err != nil {
				return cid.Undef, err
			}
			right = wrapped
		}
	}

	var top []entry
	if left != nil {
		top = append(top, subtree(left.cid))
	}
	top = append(top, leaf(key, value))
	if right != nil {
		top = append(top, subtree(right.cid))
	}

	newRoot, err := fromData(ctx, m.bs, m.hasher, top, kz)
	if err != nil {
		return cid.Undef, err
	}

	m.layer = kz
	m.entries = newRoot.entries
	m.cid = newRoot.cid
	return m.cid, nil
}

// Get returns the value stored at key, or (cid.Undef, false) if absent.
func (m *MST) Get(ctx context.Context, key string) (cid.Cid, bool, error) {
	i := findGtOrEqualLeafIndex(m.entries, key)

	if found, ok := at(m.entries, i); ok && found.isLeaf() && found.key == key {
		return found.value, true, nil
	}

	if prev, ok := at(m.entries, i-1); ok && prev.isSubtree() {
		child, err := m.loadChild(ctx, prev.subtree, m.layer-1)
		if err != nil {
			return cid.Undef, false, err
		}
		return child.Get(ctx, key)
	}

	return cid.Undef, false, nil
}

// Edit overwrites the value stored at key and returns the new root CID.
// It fails with ErrKeyNotFound if key is absent. The key's layer and the
// rest of the tree's shape are untouched — only the leaf's value changes.
func (m *MST) Edit(ctx context.Context, key string, value cid.Cid) (cid.Cid, error) {
	i := findGtOrEqualLeafIndex(m.entries, key)

	if found, ok := at(m.entries, i); ok && found.isLeaf() && found.key == key {
		return m.replaceRange(ctx, i, i+1, []entry{leaf(key, value)})
	}

	if prev, ok := at(m.entries, i-1); ok && prev.isSubtree() {
		child, err := m.loadChild(ctx, prev.subtree, m.layer-1)
		if err != nil {
			return cid.Undef, err
		}
		newChildCid, err := child.Edit(ctx, key, value)
		if err != nil {
			return cid.Undef, err
		}
		return m.replaceRange(ctx, i-1, i, []entry{subtree(newChildCid)})
	}

	return cid.Undef, ErrKeyNotFound
}

// splitAround partitions the tree into two persisted trees holding,
// respectively, all entries strictly less than and strictly greater than
// key. Either side may be nil if empty.
func (m *MST) splitAround(ctx context.Context, key string) (leftCid, rightCid *cid.Cid, err error) {
	i := findGtOrEqualLeafIndex(m.entries, key)

	leftEntries := append([]entry(nil), m.entries[:i]...)
	rightEntries := append([]entry(nil), m.entries[i:]...)

	if len(leftEntries) > 0 && leftEntries[len(leftEntries)-1].isSubtree() {
		straddling := leftEntries[len(leftEntries)-1]
		leftEntries = leftEntries[:len(leftEntries)-1]

		child, loadErr := m.loadChild(ctx, straddling.subtree, m.layer-1)
		if loadErr != nil {
			return nil, nil, loadErr
		}
		pl, pr, splitErr := child.splitAround(ctx, key)
		if splitErr != nil {
			return nil, nil, splitErr
		}

		// Replace the straddling pointer with its split halves (pl on the
		// left, pr on the right) rather than the original, un-split
		// pointer, so neither side ever holds an entry that spans key.
		if pl != nil {
			leftEntries = append(leftEntries, subtree(*pl))
		}
		if pr != nil {
			rightEntries = append([]entry{subtree(*pr)}, rightEntries...)
		}
	}

	left, err := m.persistSide(ctx, leftEntries)
	if err != nil {
		return nil, nil, err
	}
	right, err := m.persistSide(ctx, rightEntries)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (m *MST) persistSide(ctx context.Context, entries []entry) (*cid.Cid, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	side, err := fromData(ctx, m.bs, m.hasher, entries, m.layer)
	if err != nil {
		return nil, err
	}
	c := side.cid
	return &c, nil
}

// spliceIn inserts entry e at position i and persists the result.
func (m *MST) spliceIn(ctx context.Context, e entry, i int) (cid.Cid, error) {
	entries := make([]entry, 0, len(m.entries)+1)
	entries = append(entries, m.entries[:i]...)
	entries = append(entries, e)
	entries = append(entries, m.entries[i:]...)
	return m.commit(ctx, entries)
}

// replaceRange replaces entries[from:to) with replacement and persists the
// result.
func (m *MST) replaceRange(ctx context.Context, from, to int, replacement []entry) (cid.Cid, error) {
	entries := make([]entry, 0, len(m.entries)-(to-from)+len(replacement))
	entries = append(entries, m.entries[:from]...)
	entries = append(entries, replacement...)
	entries = append(entries, m.entries[to:]...)
	return m.commit(ctx, entries)
}

func (m *MST) commit(ctx context.Context, entries []entry) (cid.Cid, error) {
	if err := checkNoAdjacentSubtrees(entries); err != nil {
		return cid.Undef, err
	}
	m.entries = entries
	return m.Put(ctx)
}

// MergeIn merges other — which must be at the same layer — into m,
// in-place, with other's values winning on key conflicts.
func (m *MST) MergeIn(ctx context.Context, other *MST) (cid.Cid, error) {
	if other.layer != m.layer {
		return cid.Undef, fmt.Errorf("mst: mergeIn requires matching layers (got %d and %d)", m.layer, other.layer)
	}

	entries := append([]entry(nil), m.entries...)
	i := 0

	for _, oe := range other.entries {
		switch {
		case oe.isLeaf():
			i = findGtOrEqualLeafIndex(entries, oe.key)
			if cur, ok := at(entries, i); ok && cur.isLeaf() && cur.key == oe.key {
				entries[i] = oe
			} else {
				next := make([]entry, 0, len(entries)+1)
				next = append(next, entries[:i]...)
				next = append(next, oe)
				next = append(next, entries[i:]...)
				entries = next
			}
			i++

		case oe.isSubtree():
			cur, ok := at(entries, i)
			switch {
			case !ok || !cur.isSubtree():
				next := make([]entry, 0, len(entries)+1)
				next = append(next, entries[:i]...)
				next = append(next, oe)
				next = append(next, entries[i:]...)
				entries = next
				i++
			case cur.subtree.Equals(oe.subtree):
				i++
			default:
				leftChild, err := m.loadChild(ctx, cur.subtree, m.layer-1)
				if err != nil {
					return cid.Undef, err
				}
				rightChild, err := m.loadChild(ctx, oe.subtree, m.layer-1)
				if err != nil {
					return cid.Undef, err
				}
				mergedCid, err := leftChild.MergeIn(ctx, rightChild)
				if err != nil {
					return cid.Undef, err
				}
				entries[i] = subtree(mergedCid)
				i++
			}
		}
	}

	return m.commit(ctx, entries)
}
