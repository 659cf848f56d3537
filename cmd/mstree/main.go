package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ferozsalam/atmst/internal/svcutil"
	"github.com/ferozsalam/atmst/mst"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "mstree",
		Usage: "informal debugging CLI tool for the content-addressed Merkle Search Tree",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, or error",
				Value: "info",
			},
		},
		Before: func(cctx *cli.Context) error {
			svcutil.ConfigLogger(cctx, os.Stderr)
			return nil
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "put",
			Usage:     "add one leaf to a tree loaded from (or start fresh without) a CAR file, writing the result back out",
			ArgsUsage: "KEY VALUE_BYTES",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "car", Usage: "path to the CAR file to load from and write back to", Required: true},
			},
			Action: runPut,
		},
		{
			Name:      "get",
			Usage:     "resolve a key against a root loaded from a CAR file",
			ArgsUsage: "KEY",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "car", Usage: "path to the CAR file to load from", Required: true},
			},
			Action: runGet,
		},
		{
			Name:  "walk",
			Usage: "print the nested structure() debug tree for a CAR file's root",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "car", Usage: "path to the CAR file to load from", Required: true},
			},
			Action: runWalk,
		},
		{
			Name:      "diff",
			Usage:     "print the key-level differences between two CAR files' roots",
			ArgsUsage: "FROM_CAR TO_CAR",
			Action:    runDiff,
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("mstree failed", "err", err)
		os.Exit(1)
	}
}

func openCAR(path string) (blockstore.Blockstore, cid.Cid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cid.Undef, fmt.Errorf("opening CAR file %s: %w", path, err)
	}
	defer f.Close()
	return mst.ReadCAR(context.Background(), f)
}

func writeCAR(path string, bs blockstore.Blockstore, root cid.Cid) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating CAR file %s: %w", path, err)
	}
	defer f.Close()
	return mst.WriteCAR(context.Background(), bs, mst.DefaultHasher, root, f)
}

func runPut(cctx *cli.Context) error {
	ctx := cctx.Context
	key := cctx.Args().Get(0)
	val := cctx.Args().Get(1)
	if key == "" || val == "" {
		return fmt.Errorf("need KEY and VALUE_BYTES arguments")
	}

	path := cctx.String("car")
	var bs blockstore.Blockstore
	var tree *mst.MST

	if _, err := os.Stat(path); err == nil {
		var root cid.Cid
		bs, root, err = openCAR(path)
		if err != nil {
			return err
		}
		cst := mst.NewBlockStore(cbor.NewCborStore(bs))
		tree, err = mst.Load(ctx, cst, mst.DefaultHasher, root, nil)
		if err != nil {
			return err
		}
	} else {
		bs = blockstore.NewBlockstore(datastore.NewMapDatastore())
		tree = mst.Create(mst.NewBlockStore(cbor.NewCborStore(bs)), mst.DefaultHasher, 0)
	}

	valCid, err := cid.NewPrefixV1(cid.Raw, mh.SHA2_256).Sum([]byte(val))
	if err != nil {
		return fmt.Errorf("building value CID: %w", err)
	}

	root, err := tree.Add(ctx, key, valCid)
	if err != nil {
		return err
	}

	if err := writeCAR(path, bs, root); err != nil {
		return err
	}

	fmt.Println(root.String())
	return nil
}

func runGet(cctx *cli.Context) error {
	ctx := cctx.Context
	key := cctx.Args().Get(0)
	if key == "" {
		return fmt.Errorf("need KEY argument")
	}

	bs, root, err := openCAR(cctx.String("car"))
	if err != nil {
		return err
	}
	cst := mst.NewBlockStore(cbor.NewCborStore(bs))
	tree, err := mst.Load(ctx, cst, mst.DefaultHasher, root, nil)
	if err != nil {
		return err
	}

	v, ok, err := tree.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not found")
		return nil
	}
	fmt.Println(v.String())
	return nil
}

func runWalk(cctx *cli.Context) error {
	ctx := cctx.Context

	bs, root, err := openCAR(cctx.String("car"))
	if err != nil {
		return err
	}
	cst := mst.NewBlockStore(cbor.NewCborStore(bs))
	tree, err := mst.Load(ctx, cst, mst.DefaultHasher, root, nil)
	if err != nil {
		return err
	}

	structure, err := tree.Structure(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(structure)
}

func runDiff(cctx *cli.Context) error {
	ctx := cctx.Context
	fromPath := cctx.Args().Get(0)
	toPath := cctx.Args().Get(1)
	if fromPath == "" || toPath == "" {
		return fmt.Errorf("need FROM_CAR and TO_CAR arguments")
	}

	fromBs, fromRoot, err := openCAR(fromPath)
	if err != nil {
		return err
	}
	toBs, toRoot, err := openCAR(toPath)
	if err != nil {
		return err
	}

	// mst.Diff reads both roots through a single block store, so the
	// blocks of both CAR files are copied into one store here.
	merged := blockstore.NewBlockstore(datastore.NewMapDatastore())
	if err := copyBlocks(ctx, fromBs, merged); err != nil {
		return err
	}
	if err := copyBlocks(ctx, toBs, merged); err != nil {
		return err
	}

	cst := mst.NewBlockStore(cbor.NewCborStore(merged))
	ops, err := mst.Diff(ctx, cst, mst.DefaultHasher, fromRoot, toRoot)
	if err != nil {
		return err
	}

	for _, op := range ops {
		fmt.Printf("%s %s\n", op.Op, op.Rpath)
	}
	return nil
}

func copyBlocks(ctx context.Context, from, to blockstore.Blockstore) error {
	keys, err := from.AllKeysChan(ctx)
	if err != nil {
		return err
	}
	for k := range keys {
		blk, err := from.Get(ctx, k)
		if err != nil {
			return err
		}
		if err := to.Put(ctx, blk); err != nil {
			return err
		}
	}
	return nil
}
