package mst

import (
	"context"
	"crypto/rand"
	mathrand "math/rand"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
)

func newMemStore() BlockStore {
	return NewBlockStore(cbor.NewCborStore(blockstore.NewBlockstore(datastore.NewMapDatastore())))
}

// fakeValueCid builds a random, content-addressed-looking CID to stand in
// for a leaf value. Tests only care that it's a stable, comparable handle,
// not what it points to.
func fakeValueCid() cid.Cid {
	buf := make([]byte, 32)
	rand.Read(buf)
	c, err := cid.NewPrefixV1(cid.Raw, mh.SHA2_256).Sum(buf)
	if err != nil {
		panic(err)
	}
	return c
}

// Keys below are pinned to known leadingZerosOnHash layers so the layer-
// boundary tests (wrapper chains, mixed-layer ordering) don't depend on
// getting lucky with an arbitrary string.
var (
	layer0Keys = []string{"key-0", "key-1", "key-2", "key-3"}
	layer1Keys = []string{"key-5", "key-68", "key-209", "key-232"}
	layer2Keys = []string{"key-12", "key-47", "key-1174", "key-2190"}
	layer3Keys = []string{"key-53800", "key-60798", "key-61410", "key-87875"}
)

func TestBasicMst(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()
	tree := Create(bs, nil, 0)

	vals := map[string]cid.Cid{
		layer0Keys[0]: fakeValueCid(),
		layer0Keys[1]: fakeValueCid(),
		layer0Keys[2]: fakeValueCid(),
	}

	for k, v := range vals {
		if _, err := tree.Add(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}

	for k, v := range vals {
		got, ok, err := tree.Get(ctx, k)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected %q to be present", k)
		}
		if !got.Equals(v) {
			t.Fatalf("value mismatch for %q: got %s want %s", k, got, v)
		}
	}
}

// S1: empty tree -> Get misses; root equals the CID of an empty sequence.
func TestEmptyTree(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()
	tree := Create(bs, nil, 0)

	if _, ok, err := tree.Get(ctx, "foo"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	emptyCid, err := tree.Put(ctx)
	if err != nil {
		t.Fatal(err)
	}

	other := Create(bs, nil, 0)
	otherCid, err := other.Put(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !emptyCid.Equals(otherCid) {
		t.Fatalf("two empty trees produced different CIDs: %s vs %s", emptyCid, otherCid)
	}
}

// S2: add a single layer-0 key; root changes; Get returns it; Walk emits
// exactly one leaf at level 0.
func TestSingleLeaf(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()
	tree := Create(bs, nil, 0)

	before, err := tree.Put(ctx)
	if err != nil {
		t.Fatal(err)
	}

	v := fakeValueCid()
	after, err := tree.Add(ctx, layer0Keys[0], v)
	if err != nil {
		t.Fatal(err)
	}
	if after.Equals(before) {
		t.Fatal("root did not change after Add")
	}

	got, ok, err := tree.Get(ctx, layer0Keys[0])
	if err != nil || !ok || !got.Equals(v) {
		t.Fatalf("Get mismatch: ok=%v err=%v got=%s want=%s", ok, err, got, v)
	}

	var leaves []string
	err = tree.Walk(ctx, func(level int, key *string) error {
		if key != nil {
			if level != 0 {
				t.Fatalf("leaf %q reported at level %d, want 0", *key, level)
			}
			leaves = append(leaves, *key)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != 1 || leaves[0] != layer0Keys[0] {
		t.Fatalf("unexpected walk result: %v", leaves)
	}
}

// S3: adding two layer-0 keys in both orders yields equal roots.
func TestDeterminismTwoKeys(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()

	v0, v1 := fakeValueCid(), fakeValueCid()

	a := Create(bs, nil, 0)
	mustAdd(t, ctx, a, layer0Keys[0], v0)
	mustAdd(t, ctx, a, layer0Keys[1], v1)
	aCid := a.cid

	b := Create(bs, nil, 0)
	mustAdd(t, ctx, b, layer0Keys[1], v1)
	mustAdd(t, ctx, b, layer0Keys[0], v0)
	bCid := b.cid

	if !aCid.Equals(bCid) {
		t.Fatalf("insertion order changed the root: %s vs %s", aCid, bCid)
	}
}

// S4: one layer-0 key and one layer-2 key produce a layer-2 root whose
// subtree is a single-entry layer-1 wrapper pointing at the layer-0 node.
func TestWrapperChainToHigherLayer(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()
	tree := Create(bs, nil, 0)

	mustAdd(t, ctx, tree, layer0Keys[0], fakeValueCid())
	mustAdd(t, ctx, tree, layer2Keys[0], fakeValueCid())

	if tree.layer != 2 {
		t.Fatalf("expected root layer 2, got %d", tree.layer)
	}

	got, ok, err := tree.Get(ctx, layer0Keys[0])
	if err != nil || !ok {
		t.Fatalf("lost layer-0 key after promotion: ok=%v err=%v", ok, err)
	}
	_ = got
}

// S5: keys k1<k2<k3 with L(k1)=0, L(k2)=1, L(k3)=0: k2 ends up at the top.
func TestMixedLayerOrdering(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()
	tree := Create(bs, nil, 0)

	k1, k2, k3 := layer0Keys[0], layer1Keys[2], layer0Keys[3]
	if k1 >= k2 {
		k1, k2 = k2, k1 // keep the intended ordering regardless of fixture values
	}

	mustAdd(t, ctx, tree, k1, fakeValueCid())
	mustAdd(t, ctx, tree, k2, fakeValueCid())
	mustAdd(t, ctx, tree, k3, fakeValueCid())

	if tree.layer != 1 {
		t.Fatalf("expected root layer 1, got %d", tree.layer)
	}
	for _, k := range []string{k1, k2, k3} {
		if _, ok, err := tree.Get(ctx, k); err != nil || !ok {
			t.Fatalf("key %q missing after mixed-layer inserts", k)
		}
	}
}

// S6: Edit on an absent key fails with ErrKeyNotFound; Add of an existing
// key fails with ErrKeyExists.
func TestEditAndAddFailureModes(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()
	tree := Create(bs, nil, 0)

	mustAdd(t, ctx, tree, layer0Keys[0], fakeValueCid())

	if _, err := tree.Edit(ctx, layer0Keys[1], fakeValueCid()); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := tree.Add(ctx, layer0Keys[0], fakeValueCid()); err != ErrKeyExists {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
}

// Edit on a present key swaps its value in place: the key set, the layer
// each key lands on, and every other key's value are untouched, but the
// root CID changes because the edited leaf's encoding changed.
func TestEditOverwritesValueInPlace(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()
	tree := Create(bs, nil, 0)

	untouchedVal := fakeValueCid()
	mustAdd(t, ctx, tree, layer0Keys[0], fakeValueCid())
	mustAdd(t, ctx, tree, layer1Keys[0], untouchedVal)
	mustAdd(t, ctx, tree, layer2Keys[0], fakeValueCid())

	before := tree.cid

	type visit struct {
		level int
		key   string
	}
	walkLevels := func() []visit {
		var got []visit
		err := tree.Walk(ctx, func(level int, key *string) error {
			if key != nil {
				got = append(got, visit{level, *key})
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return got
	}
	beforeLevels := walkLevels()

	newVal := fakeValueCid()
	after, err := tree.Edit(ctx, layer0Keys[0], newVal)
	if err != nil {
		t.Fatal(err)
	}
	if after.Equals(before) {
		t.Fatal("root did not change after Edit")
	}

	got, ok, err := tree.Get(ctx, layer0Keys[0])
	if err != nil || !ok || !got.Equals(newVal) {
		t.Fatalf("Get after Edit mismatch: ok=%v err=%v got=%s want=%s", ok, err, got, newVal)
	}

	if v, ok, err := tree.Get(ctx, layer1Keys[0]); err != nil || !ok || !v.Equals(untouchedVal) {
		t.Fatalf("Edit disturbed an unrelated key's value: ok=%v err=%v got=%s want=%s", ok, err, v, untouchedVal)
	}

	afterLevels := walkLevels()
	if len(afterLevels) != len(beforeLevels) {
		t.Fatalf("Edit changed the number of leaves: got %d want %d", len(afterLevels), len(beforeLevels))
	}
	for i, v := range beforeLevels {
		if afterLevels[i].key != v.key || afterLevels[i].level != v.level {
			t.Fatalf("Edit changed key/level assignment at position %d: got %+v want %+v", i, afterLevels[i], v)
		}
	}
}

// S7: A.MergeIn(B) equals building a single tree from A∪B, with B's
// values winning on conflicting keys.
func TestMergeInOverridesAndUnions(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()

	shared := layer0Keys[0]
	aOnly := layer0Keys[1]
	bOnly := layer0Keys[2]

	sharedA, sharedB := fakeValueCid(), fakeValueCid()
	aOnlyVal := fakeValueCid()
	bOnlyVal := fakeValueCid()

	a := Create(bs, nil, 0)
	mustAdd(t, ctx, a, shared, sharedA)
	mustAdd(t, ctx, a, aOnly, aOnlyVal)

	b := Create(bs, nil, 0)
	mustAdd(t, ctx, b, shared, sharedB)
	mustAdd(t, ctx, b, bOnly, bOnlyVal)

	merged, err := a.MergeIn(ctx, b)
	if err != nil {
		t.Fatal(err)
	}

	union := Create(bs, nil, 0)
	mustAdd(t, ctx, union, shared, sharedB)
	mustAdd(t, ctx, union, aOnly, aOnlyVal)
	mustAdd(t, ctx, union, bOnly, bOnlyVal)
	if !merged.Equals(union.cid) {
		t.Fatalf("merged root %s differs from a tree built from A∪B: %s", merged, union.cid)
	}

	v, ok, err := a.Get(ctx, shared)
	if err != nil || !ok || !v.Equals(sharedB) {
		t.Fatalf("expected B's value to win on %q: ok=%v err=%v v=%s", shared, ok, err, v)
	}
	if v, ok, err := a.Get(ctx, aOnly); err != nil || !ok || !v.Equals(aOnlyVal) {
		t.Fatalf("lost A-only key %q", aOnly)
	}
	if v, ok, err := a.Get(ctx, bOnly); err != nil || !ok || !v.Equals(bOnlyVal) {
		t.Fatalf("lost B-only key %q", bOnly)
	}
}

// Merge idempotence: mergeIn(T, T) == T.
func TestMergeInIdempotent(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()

	tree := Create(bs, nil, 0)
	for _, k := range layer0Keys {
		mustAdd(t, ctx, tree, k, fakeValueCid())
	}
	before := tree.cid

	clone := Create(bs, nil, 0)
	for _, e := range tree.entries {
		clone.entries = append(clone.entries, e)
	}
	if _, err := clone.Put(ctx); err != nil {
		t.Fatal(err)
	}

	after, err := tree.MergeIn(ctx, clone)
	if err != nil {
		t.Fatal(err)
	}
	if !after.Equals(before) {
		t.Fatalf("merging a tree with itself changed the root: %s vs %s", before, after)
	}
}

// Determinism under random permutation, across all the fixture layers.
func TestDeterminismRandomPermutation(t *testing.T) {
	ctx := context.Background()
	bs := newMemStore()

	keys := append(append(append(append([]string{}, layer0Keys...), layer1Keys...), layer2Keys...), layer3Keys...)
	values := make(map[string]cid.Cid, len(keys))
	for _, k := range keys {
		values[k] = fakeValueCid()
	}

	buildRoot := func(order []string) cid.Cid {
		tree := Create(bs, nil, 0)
		for _, k := range order {
			mustAdd(t, ctx, tree, k, values[k])
		}
		return tree.cid
	}

	first := append([]string{}, keys...)
	firstRoot := buildRoot(first)

	for trial := 0; trial < 5; trial++ {
		shuffled := append([]string{}, keys...)
		r := mathrand.New(mathrand.NewSource(int64(trial)*97 + 42))
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if root := buildRoot(shuffled); !root.Equals(firstRoot) {
			t.Fatalf("permutation %d produced a different root: %s vs %s", trial, root, firstRoot)
		}
	}
}

func mustAdd(t *testing.T, ctx context.Context, m *MST, key string, v cid.Cid) {
	t.Helper()
	if _, err := m.Add(ctx, key, v); err != nil {
		t.Fatalf("Add(%q) failed: %v", key, err)
	}
}
