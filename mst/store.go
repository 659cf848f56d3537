package mst

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	ipld "github.com/ipfs/go-ipld-format"
	sha256simd "github.com/minio/sha256-simd"
)

// BlockStore is the block store capability the core consumes. It is
// deliberately narrow: put a node, get a node back by its CID.
// Serialization to canonical bytes and CID computation are the store's
// concern, not the tree's.
type BlockStore interface {
	Put(ctx context.Context, node *NodeData) (cid.Cid, error)
	Get(ctx context.Context, c cid.Cid, node *NodeData) error
}

// NodeData is the wire shape of a persisted MST node: an optional pointer
// to the leftmost subtree, followed by an ordered run of leaf entries each
// optionally carrying the subtree pointer that follows it. Keys are
// delta-encoded against the previous leaf's key (prefix length + suffix),
// which keeps sibling leaves — which usually share a long common prefix —
// cheap to encode.
//
// cborgen tags mark this struct for canonical, single-character-keyed
// DAG-CBOR encoding; it is handed directly to a cbor.IpldStore, which
// encodes/decodes it via reflection without any generated marshal code.
// That reflection path needs the types registered (see init below) and
// keys each map by Go field name; the cborgen tags are not read by it.
type NodeData struct {
	Left    *cid.Cid    `cborgen:"l"`
	Entries []TreeEntry `cborgen:"e"`
}

// TreeEntry is one delta-encoded leaf, plus the subtree pointer (if any)
// that sits immediately to its right.
type TreeEntry struct {
	PrefixLen int64    `cborgen:"p"`
	KeySuffix string   `cborgen:"k"`
	Value     cid.Cid  `cborgen:"v"`
	Right     *cid.Cid `cborgen:"t"`
}

func init() {
	cbor.RegisterCborType(NodeData{})
	cbor.RegisterCborType(TreeEntry{})
}

// cborStore adapts a cbor.IpldStore (itself backed by any
// github.com/ipfs/go-ipfs-blockstore) to BlockStore.
type cborStore struct {
	cst cbor.IpldStore
}

// NewBlockStore wraps an IPLD CBOR store as the MST's block store
// capability. Build cst with cbor.NewCborStore(blockstore.NewBlockstore(ds)).
func NewBlockStore(cst cbor.IpldStore) BlockStore {
	return &cborStore{cst: cst}
}

func (s *cborStore) Put(ctx context.Context, node *NodeData) (cid.Cid, error) {
	return s.cst.Put(ctx, node)
}

// Get distinguishes a genuine block store miss (ErrBlockNotFound, safe to
// retry against a different store) from a block that was fetched but
// failed to decode as a NodeData (ErrDecode, a corrupt or adversarial
// block that will never succeed on retry) — the underlying store reports
// a miss as ipld.ErrNotFound, and anything else as a decode failure.
func (s *cborStore) Get(ctx context.Context, c cid.Cid, node *NodeData) error {
	err := s.cst.Get(ctx, c, node)
	if err == nil {
		return nil
	}
	if errors.Is(err, ipld.ErrNotFound{}) {
		return wrapBlockNotFound(err)
	}
	return wrapDecode(err)
}

// sha256simdHasher is the default Hash capability, backed by
// github.com/minio/sha256-simd for hardware-accelerated digests. It is a
// drop-in replacement for crypto/sha256 with an identical output.
type sha256simdHasher struct{}

func (sha256simdHasher) Sum256(data []byte) [32]byte {
	return sha256simd.Sum256(data)
}

// DefaultHasher is the Hash capability used when a caller does not inject
// one.
var DefaultHasher Hasher = sha256simdHasher{}
