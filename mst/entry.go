package mst

import "github.com/ipfs/go-cid"

// entryKind discriminates the two shapes an entry can take.
type entryKind int

const (
	leafEntry entryKind = iota
	subtreeEntry
)

// entry is the tagged union {Leaf, SubtreePointer} that a node's sequence
// is built from. A subtree entry holds only the CID of the node one layer
// below; it is loaded on demand, never eagerly, so walking past a subtree
// pointer that is never descended into costs nothing.
type entry struct {
	kind entryKind

	// valid when kind == leafEntry
	key   string
	value cid.Cid

	// valid when kind == subtreeEntry
	subtree cid.Cid
}

func leaf(key string, value cid.Cid) entry {
	return entry{kind: leafEntry, key: key, value: value}
}

func subtree(c cid.Cid) entry {
	return entry{kind: subtreeEntry, subtree: c}
}

func (e entry) isLeaf() bool    { return e.kind == leafEntry }
func (e entry) isSubtree() bool { return e.kind == subtreeEntry }

// checkNoAdjacentSubtrees enforces that two subtree pointers never sit
// next to each other in a persisted node.
func checkNoAdjacentSubtrees(entries []entry) error {
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].isSubtree() && entries[i+1].isSubtree() {
			return ErrInvalidTree
		}
	}
	return nil
}
