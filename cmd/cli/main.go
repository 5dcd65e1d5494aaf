// Command corenode-cli is a local, daemon-less tool over the node's
// storage layer: block get/put, pin add/rm/ls, UnixFS add/cat/ls,
// following the same urfave/cli/v2 global-flag-plus-Before/After
// shape as cmd/ds/ds.go.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/urfave/cli/v2"

	"corenode/blockstore"
	"corenode/datastore"
	"corenode/pin"
	"corenode/unixfs"
)

const defaultDataDir = "./corenode-data"

var (
	bstore blockstore.Blockstore
	pins   pin.Store
)

func openStorage(dataDir string) error {
	if bstore != nil {
		return nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ds, err := datastore.NewBadger(filepath.Join(dataDir, "blocks"), nil)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	bstore = blockstore.New(ds)

	pins, err = pin.Open(filepath.Join(dataDir, "pins.db"))
	if err != nil {
		return fmt.Errorf("open pin store: %w", err)
	}
	return nil
}

func closeStorage() error {
	if pins != nil {
		pins.Close()
	}
	if bstore != nil {
		return bstore.Close()
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "corenode-cli",
		Usage: "inspect and populate a corenode blockstore without a running daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Value:   defaultDataDir,
				Usage:   "directory holding blocks and pin metadata",
				EnvVars: []string{"CORENODE_DATA_DIR"},
			},
		},
		Before: func(c *cli.Context) error {
			return openStorage(c.String("data-dir"))
		},
		After: func(c *cli.Context) error {
			return closeStorage()
		},
		Commands: []*cli.Command{
			{
				Name:  "block",
				Usage: "raw block operations",
				Subcommands: []*cli.Command{
					{
						Name:  "put",
						Usage: "store stdin (or --file) as a raw block",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Aliases: []string{"f"}},
							&cli.StringFlag{Name: "hash", Value: "sha2-256", Usage: "sha2-256 or blake3"},
						},
						Action: blockPutAction,
					},
					{
						Name:   "get",
						Usage:  "write a block's raw bytes to stdout",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "cid", Required: true}},
						Action: blockGetAction,
					},
					{
						Name:   "has",
						Usage:  "report whether a CID is locally stored",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "cid", Required: true}},
						Action: blockHasAction,
					},
				},
			},
			{
				Name:  "pin",
				Usage: "pin set operations",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "pin a CID",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "cid", Required: true},
							&cli.IntFlag{Name: "depth", Value: pin.Unbounded.Int(), Usage: "0=direct, -1=recursive"},
						},
						Action: pinAddAction,
					},
					{
						Name:   "rm",
						Usage:  "unpin a CID",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "cid", Required: true}},
						Action: pinRmAction,
					},
					{
						Name:   "ls",
						Usage:  "list pinned CIDs",
						Action: pinLsAction,
					},
				},
			},
			{
				Name:  "unixfs",
				Usage: "UnixFS file operations",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "chunk stdin (or --file) into a UnixFS DAG",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Aliases: []string{"f"}},
							&cli.BoolFlag{Name: "raw-leaves"},
							&cli.StringFlag{Name: "hash", Value: "sha2-256", Usage: "raw-leaves hash: sha2-256 or blake3"},
						},
						Action: unixfsAddAction,
					},
					{
						Name:  "cat",
						Usage: "stream a UnixFS file's bytes to stdout",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "cid", Required: true},
							&cli.Int64Flag{Name: "offset"},
							&cli.Int64Flag{Name: "length", Value: -1},
						},
						Action: unixfsCatAction,
					},
					{
						Name:   "ls",
						Usage:  "list a UnixFS directory's entries",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "cid", Required: true}},
						Action: unixfsLsAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// hashCode maps a --hash flag value to the multihash code blockstore
// expects, defaulting to sha2-256 for anything other than "blake3".
func hashCode(name string) uint64 {
	if name == "blake3" {
		return multihash.BLAKE3
	}
	return multihash.SHA2_256
}

func openInput(c *cli.Context) (io.ReadCloser, error) {
	if f := c.String("file"); f != "" {
		return os.Open(f)
	}
	return io.NopCloser(os.Stdin), nil
}

func blockPutAction(c *cli.Context) error {
	ctx := context.Background()
	in, err := openInput(c)
	if err != nil {
		return err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	blk, err := blockstore.NewRawBlock(data, hashCode(c.String("hash")))
	if err != nil {
		return err
	}
	if err := bstore.Put(ctx, blk); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	fmt.Println(blk.Cid().String())
	return nil
}

func blockGetAction(c *cli.Context) error {
	ctx := context.Background()
	id, err := cid.Decode(c.String("cid"))
	if err != nil {
		return fmt.Errorf("bad cid: %w", err)
	}
	blk, err := bstore.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	_, err = os.Stdout.Write(blk.RawData())
	return err
}

func blockHasAction(c *cli.Context) error {
	ctx := context.Background()
	id, err := cid.Decode(c.String("cid"))
	if err != nil {
		return fmt.Errorf("bad cid: %w", err)
	}
	ok, err := bstore.Has(ctx, id)
	if err != nil {
		return fmt.Errorf("has: %w", err)
	}
	if ok {
		fmt.Println("true")
	} else {
		fmt.Println("false")
	}
	return nil
}

func pinAddAction(c *cli.Context) error {
	ctx := context.Background()
	id, err := cid.Decode(c.String("cid"))
	if err != nil {
		return fmt.Errorf("bad cid: %w", err)
	}
	if err := pins.Add(ctx, id, pin.DepthFromInt(c.Int("depth")), nil); err != nil {
		return fmt.Errorf("pin add: %w", err)
	}
	fmt.Printf("pinned %s\n", id)
	return nil
}

func pinRmAction(c *cli.Context) error {
	ctx := context.Background()
	id, err := cid.Decode(c.String("cid"))
	if err != nil {
		return fmt.Errorf("bad cid: %w", err)
	}
	if err := pins.Remove(ctx, id); err != nil {
		return fmt.Errorf("pin rm: %w", err)
	}
	fmt.Printf("unpinned %s\n", id)
	return nil
}

func pinLsAction(c *cli.Context) error {
	ctx := context.Background()
	list, err := pins.List(ctx)
	if err != nil {
		return fmt.Errorf("pin ls: %w", err)
	}
	for _, p := range list {
		fmt.Printf("%s depth=%s\n", p.CID, p.Depth)
	}
	return nil
}

func unixfsAddAction(c *cli.Context) error {
	ctx := context.Background()
	in, err := openInput(c)
	if err != nil {
		return err
	}
	defer in.Close()

	opts := unixfs.DefaultAddOptions()
	opts.RawLeaves = c.Bool("raw-leaves")
	opts.HashFunc = hashCode(c.String("hash"))

	root, err := unixfs.Add(ctx, bstore, in, opts)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	fmt.Println(root.String())
	return nil
}

func unixfsCatAction(c *cli.Context) error {
	ctx := context.Background()
	id, err := cid.Decode(c.String("cid"))
	if err != nil {
		return fmt.Errorf("bad cid: %w", err)
	}
	return unixfs.Cat(ctx, bstore, id, c.Int64("offset"), c.Int64("length"), os.Stdout)
}

func unixfsLsAction(c *cli.Context) error {
	ctx := context.Background()
	id, err := cid.Decode(c.String("cid"))
	if err != nil {
		return fmt.Errorf("bad cid: %w", err)
	}
	entries, errc := unixfs.Ls(ctx, bstore, id)
	for e := range entries {
		fmt.Printf("%s\t%s\t%d\n", e.Name, e.Cid, e.Size)
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("ls: %w", err)
	}
	return nil
}
