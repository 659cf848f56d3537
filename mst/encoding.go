package mst

import "fmt"

// decodeNodeData turns a wire NodeData into the handle's entry sequence,
// reversing the prefix-compression applied by encodeNodeData. It also
// returns the first leaf key encountered, for layer inference. It rejects
// a PrefixLen that doesn't fit within the previous key rather than
// indexing blindly into it — a block that fails this check is corrupt or
// adversarial, not just differently shaped, since prefix lengths are only
// ever produced by encodeNodeData against a real predecessor key.
func decodeNodeData(nd *NodeData) (entries []entry, firstLeafKey *string, err error) {
	if nd.Left != nil {
		entries = append(entries, subtree(*nd.Left))
	}

	var lastKey string
	for _, e := range nd.Entries {
		if e.PrefixLen < 0 || int(e.PrefixLen) > len(lastKey) {
			return nil, nil, fmt.Errorf("%w: prefix length %d exceeds previous key length %d", ErrDecode, e.PrefixLen, len(lastKey))
		}
		key := lastKey[:e.PrefixLen] + e.KeySuffix
		entries = append(entries, leaf(key, e.Value))
		if firstLeafKey == nil {
			k := key
			firstLeafKey = &k
		}
		if e.Right != nil {
			entries = append(entries, subtree(*e.Right))
		}
		lastKey = key
	}

	return entries, firstLeafKey, nil
}

// encodeNodeData turns an in-memory entry sequence into the wire shape,
// prefix-compressing each leaf key against its predecessor. It fails with
// ErrInvalidTree if two subtree pointers are adjacent.
func encodeNodeData(entries []entry) (*NodeData, error) {
	var nd NodeData

	i := 0
	if len(entries) > 0 && entries[0].isSubtree() {
		c := entries[0].subtree
		nd.Left = &c
		i++
	}

	var lastKey string
	for i < len(entries) {
		e := entries[i]
		if !e.isLeaf() {
			return nil, fmt.Errorf("%w: two subtree pointers adjacent at index %d", ErrInvalidTree, i)
		}
		i++

		prefixLen := commonPrefixLen(lastKey, e.key)
		te := TreeEntry{
			PrefixLen: int64(prefixLen),
			KeySuffix: e.key[prefixLen:],
			Value:     e.value,
		}

		if i < len(entries) && entries[i].isSubtree() {
			c := entries[i].subtree
			te.Right = &c
			i++
		}

		nd.Entries = append(nd.Entries, te)
		lastKey = e.key
	}

	return &nd, nil
}

// commonPrefixLen returns how many leading bytes a and b share.
func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
