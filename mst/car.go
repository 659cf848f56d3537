package mst

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	cbor "github.com/ipfs/go-ipld-cbor"
	car "github.com/ipld/go-car"
)

// WriteCAR writes every block reachable from root — walking subtree
// pointers recursively — to w as a CARv1 file with root as its single
// root CID.
func WriteCAR(ctx context.Context, bs blockstore.Blockstore, hasher Hasher, root cid.Cid, w io.Writer) error {
	if _, err := writeCarHeader(w, root); err != nil {
		return fmt.Errorf("writing CAR header: %w", err)
	}

	seen := make(map[cid.Cid]bool)
	return writeReachableBlocks(ctx, bs, hasher, root, w, seen)
}

func writeReachableBlocks(ctx context.Context, bs blockstore.Blockstore, hasher Hasher, c cid.Cid, w io.Writer, seen map[cid.Cid]bool) error {
	if seen[c] {
		return nil
	}
	seen[c] = true

	blk, err := bs.Get(ctx, c)
	if err != nil {
		return wrapBlockNotFound(err)
	}
	if _, err := writeLengthPrefixedFrame(w, c.Bytes(), blk.RawData()); err != nil {
		return fmt.Errorf("writing block %s: %w", c, err)
	}

	cst := NewBlockStore(cbor.NewCborStore(bs))
	node, err := Load(ctx, cst, hasher, c, nil)
	if err != nil {
		if !isLayerUnknown(err) {
			return err
		}
		// all-subtree node; still need to recurse, so decode raw.
		var nd NodeData
		if err := cst.Get(ctx, c, &nd); err != nil {
			return err
		}
		entries, _, err := decodeNodeData(&nd)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.isSubtree() {
				if err := writeReachableBlocks(ctx, bs, hasher, e.subtree, w, seen); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, e := range node.entries {
		if e.isSubtree() {
			if err := writeReachableBlocks(ctx, bs, hasher, e.subtree, w, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func isLayerUnknown(err error) bool {
	return errors.Is(err, ErrLayerUnknown)
}

// ReadCAR reads a CARv1 file into a fresh in-memory blockstore, returning
// that store along with the file's (single) root CID.
func ReadCAR(ctx context.Context, r io.Reader) (blockstore.Blockstore, cid.Cid, error) {
	bs := blockstore.NewBlockstore(datastore.NewMapDatastore())

	br, err := car.NewCarReader(r)
	if err != nil {
		return nil, cid.Undef, fmt.Errorf("opening CAR: %w", err)
	}

	for {
		blk, err := br.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, cid.Undef, fmt.Errorf("reading CAR block: %w", err)
		}
		if err := bs.Put(ctx, blk); err != nil {
			return nil, cid.Undef, err
		}
	}

	if len(br.Header.Roots) < 1 {
		return nil, cid.Undef, fmt.Errorf("CAR file has no root CID")
	}

	return bs, br.Header.Roots[0], nil
}

func writeCarHeader(w io.Writer, root cid.Cid) (int64, error) {
	header, err := cbor.DumpObject(&car.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	})
	if err != nil {
		return 0, err
	}
	return writeLengthPrefixedFrame(w, header)
}

// writeLengthPrefixedFrame writes a varint prefix holding the combined
// byte length of parts, then each part in order — the length-delimited
// framing CARv1 uses between blocks so a reader can split the stream back
// into frames without a trailing delimiter.
func writeLengthPrefixedFrame(w io.Writer, parts ...[]byte) (int64, error) {
	var frameLen uint64
	for _, p := range parts {
		frameLen += uint64(len(p))
	}

	prefix := make([]byte, binary.MaxVarintLen64)
	prefixLen := binary.PutUvarint(prefix, frameLen)

	written, err := w.Write(prefix[:prefixLen])
	if err != nil {
		return 0, err
	}

	total := written
	for _, p := range parts {
		n, err := w.Write(p)
		total += n
		if err != nil {
			return int64(total), err
		}
	}
	return int64(total), nil
}
