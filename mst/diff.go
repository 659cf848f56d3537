package mst

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// DiffOp is one structural difference between two tree roots, reported by
// Diff. Rpath is the affected key; OldValue/NewValue are set according to
// Op ("add" only sets NewValue, "del" only sets OldValue, "mut" sets both).
type DiffOp struct {
	Op       string
	Rpath    string
	OldValue cid.Cid
	NewValue cid.Cid
}

// Diff reports the key-level differences between the tree rooted at from
// and the tree rooted at to. If from is the zero CID, every leaf reachable
// from to is reported as an "add".
//
// This is a read-only comparison of two already-built roots; it does not
// mutate either tree or touch the block store beyond reading.
func Diff(ctx context.Context, bs BlockStore, hasher Hasher, from, to cid.Cid) ([]DiffOp, error) {
	if !from.Defined() {
		return identityDiff(ctx, bs, hasher, to)
	}

	ft, err := Load(ctx, bs, hasher, from, nil)
	if err != nil {
		return nil, err
	}
	tt, err := Load(ctx, bs, hasher, to, nil)
	if err != nil {
		return nil, err
	}

	return diffEntries(ctx, ft, ft.entries, tt, tt.entries)
}

func diffEntries(ctx context.Context, ft *MST, fents []entry, tt *MST, tents []entry) ([]DiffOp, error) {
	var out []DiffOp
	ixf, ixt := 0, 0

	for ixf < len(fents) && ixt < len(tents) {
		ef, et := fents[ixf], tents[ixt]

		if entriesEqual(ef, et) {
			ixf++
			ixt++
			continue
		}

		switch {
		case ef.isLeaf() && et.isLeaf():
			if ef.key == et.key {
				out = append(out, DiffOp{Op: "mut", Rpath: ef.key, OldValue: ef.value, NewValue: et.value})
				ixf++
				ixt++
				continue
			}
			// Differing keys at the same cursor position: the one that
			// sorts later is "ahead", so the earlier one is the side
			// that changed at this position.
			if ef.key > et.key {
				out = append(out, DiffOp{Op: "add", Rpath: et.key, NewValue: et.value})
				ixt++
			} else {
				out = append(out, DiffOp{Op: "del", Rpath: ef.key, OldValue: ef.value})
				ixf++
			}

		case ef.isSubtree():
			child, err := ft.loadChild(ctx, ef.subtree, ft.layer-1)
			if err != nil {
				return nil, err
			}
			fents = append(append([]entry(nil), child.entries...), fents[ixf+1:]...)
			ixf = 0

		case et.isSubtree():
			child, err := tt.loadChild(ctx, et.subtree, tt.layer-1)
			if err != nil {
				return nil, err
			}
			tents = append(append([]entry(nil), child.entries...), tents[ixt+1:]...)
			ixt = 0

		default:
			return nil, fmt.Errorf("mst: diff: unreachable entry pairing")
		}
	}

	for ; ixf < len(fents); ixf++ {
		if err := emitLeaves(ctx, ft, fents[ixf], "del", &out); err != nil {
			return nil, err
		}
	}
	for ; ixt < len(tents); ixt++ {
		if err := emitLeaves(ctx, tt, tents[ixt], "add", &out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func emitLeaves(ctx context.Context, m *MST, e entry, op string, out *[]DiffOp) error {
	if e.isLeaf() {
		switch op {
		case "del":
			*out = append(*out, DiffOp{Op: op, Rpath: e.key, OldValue: e.value})
		default:
			*out = append(*out, DiffOp{Op: op, Rpath: e.key, NewValue: e.value})
		}
		return nil
	}

	child, err := m.loadChild(ctx, e.subtree, m.layer-1)
	if err != nil {
		return err
	}
	return child.walkLeaves(ctx, func(key string, value cid.Cid) error {
		if op == "del" {
			*out = append(*out, DiffOp{Op: op, Rpath: key, OldValue: value})
		} else {
			*out = append(*out, DiffOp{Op: op, Rpath: key, NewValue: value})
		}
		return nil
	})
}

func entriesEqual(a, b entry) bool {
	if a.isLeaf() && b.isLeaf() {
		return a.key == b.key && a.value.Equals(b.value)
	}
	if a.isSubtree() && b.isSubtree() {
		return a.subtree.Equals(b.subtree)
	}
	return false
}

func identityDiff(ctx context.Context, bs BlockStore, hasher Hasher, root cid.Cid) ([]DiffOp, error) {
	tt, err := Load(ctx, bs, hasher, root, nil)
	if err != nil {
		return nil, err
	}

	var out []DiffOp
	err = tt.walkLeaves(ctx, func(key string, value cid.Cid) error {
		out = append(out, DiffOp{Op: "add", Rpath: key, NewValue: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
