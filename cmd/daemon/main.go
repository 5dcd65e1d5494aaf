// Command daemon runs a small HTTP API in front of the node's local
// storage layer: raw block get/put and UnixFS add/cat, the same
// "document server" shape cmd/server/main.go used for repository
// records, retargeted to content-addressed blocks.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/urfave/cli/v2"

	"corenode/blockstore"
	"corenode/datastore"
	"corenode/pin"
	"corenode/unixfs"
)

const defaultDataDir = "./corenode-data"

// NodeServer wraps the storage layer the same way cmd/server's
// DocumentServer wrapped a repository.
type NodeServer struct {
	bstore blockstore.Blockstore
	pins   pin.Store
}

func NewNodeServer(bstore blockstore.Blockstore, pins pin.Store) *NodeServer {
	return &NodeServer{bstore: bstore, pins: pins}
}

// Response is the JSON envelope every endpoint replies with, matching
// cmd/server's Success/Message/Data shape.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	CID     string `json:"cid,omitempty"`
	Pinned  []Pin  `json:"pins,omitempty"`
}

type Pin struct {
	CID   string `json:"cid"`
	Depth int    `json:"depth"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (ns *NodeServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/block/", ns.handleBlock)
	mux.HandleFunc("/api/unixfs/add", ns.handleUnixFSAdd)
	mux.HandleFunc("/api/unixfs/cat", ns.handleUnixFSCat)
	mux.HandleFunc("/api/pin", ns.handlePin)
	mux.HandleFunc("/api/pin/", ns.handlePinByCID)
	return mux
}

func (ns *NodeServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Message: "read body: " + err.Error()})
			return
		}
		hashFunc := uint64(multihash.SHA2_256)
		if r.URL.Query().Get("hash") == "blake3" {
			hashFunc = multihash.BLAKE3
		}
		blk, err := blockstore.NewRawBlock(data, hashFunc)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, Response{Message: err.Error()})
			return
		}
		if err := ns.bstore.Put(ctx, blk); err != nil {
			writeJSON(w, http.StatusInternalServerError, Response{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, CID: blk.Cid().String()})

	case http.MethodGet:
		cidStr := strings.TrimPrefix(r.URL.Path, "/api/block/")
		c, err := cid.Decode(cidStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Message: "bad cid: " + err.Error()})
			return
		}
		blk, err := ns.bstore.Get(ctx, c)
		if err != nil {
			writeJSON(w, http.StatusNotFound, Response{Message: err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(blk.RawData())

	default:
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "method not supported"})
	}
}

func (ns *NodeServer) handleUnixFSAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "method not supported"})
		return
	}

	opts := unixfs.DefaultAddOptions()
	if raw := r.URL.Query().Get("raw_leaves"); raw == "true" {
		opts.RawLeaves = true
	}
	if hash := r.URL.Query().Get("hash"); hash == "blake3" {
		opts.HashFunc = multihash.BLAKE3
	}

	c, err := unixfs.Add(r.Context(), ns.bstore, r.Body, opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Message: "add: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, CID: c.String()})
}

func (ns *NodeServer) handleUnixFSCat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "method not supported"})
		return
	}

	q := r.URL.Query()
	c, err := cid.Decode(q.Get("cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "bad cid: " + err.Error()})
		return
	}
	offset := parseInt64(q.Get("offset"), 0)
	length := parseInt64(q.Get("length"), -1)

	w.Header().Set("Content-Type", "application/octet-stream")
	if err := unixfs.Cat(r.Context(), ns.bstore, c, offset, length, w); err != nil {
		log.Printf("daemon: cat %s: %v", c, err)
	}
}

func (ns *NodeServer) handlePin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var req struct {
			CID   string `json:"cid"`
			Depth int    `json:"depth"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Message: "bad json: " + err.Error()})
			return
		}
		c, err := cid.Decode(req.CID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Message: "bad cid: " + err.Error()})
			return
		}
		if err := ns.pins.Add(ctx, c, pin.DepthFromInt(req.Depth), nil); err != nil {
			writeJSON(w, http.StatusInternalServerError, Response{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, CID: c.String()})

	case http.MethodGet:
		pins, err := ns.pins.List(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, Response{Message: err.Error()})
			return
		}
		out := make([]Pin, 0, len(pins))
		for _, p := range pins {
			out = append(out, Pin{CID: p.CID.String(), Depth: p.Depth.Int()})
		}
		writeJSON(w, http.StatusOK, Response{Success: true, Pinned: out})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "method not supported"})
	}
}

func (ns *NodeServer) handlePinByCID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "method not supported"})
		return
	}
	cidStr := strings.TrimPrefix(r.URL.Path, "/api/pin/")
	c, err := cid.Decode(cidStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "bad cid: " + err.Error()})
		return
	}
	if err := ns.pins.Remove(r.Context(), c); err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, CID: c.String()})
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func setupStorage(dataDir string) (blockstore.Blockstore, pin.Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	ds, err := datastore.NewBadger(filepath.Join(dataDir, "blocks"), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open datastore: %w", err)
	}

	bs := blockstore.New(ds)

	pins, err := pin.Open(filepath.Join(dataDir, "pins.db"))
	if err != nil {
		bs.Close()
		return nil, nil, fmt.Errorf("open pin store: %w", err)
	}

	return bs, pins, nil
}

func main() {
	app := &cli.App{
		Name:  "corenode-daemon",
		Usage: "run the content-addressed node's HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Value:   defaultDataDir,
				Usage:   "directory for blocks and pin metadata",
				EnvVars: []string{"CORENODE_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   "8080",
				Usage:   "HTTP listen port",
				EnvVars: []string{"CORENODE_PORT"},
			},
		},
		Action: func(c *cli.Context) error {
			bs, pins, err := setupStorage(c.String("data-dir"))
			if err != nil {
				return err
			}
			defer bs.Close()
			defer pins.Close()

			server := NewNodeServer(bs, pins)
			handler := server.setupRoutes()

			addr := ":" + c.String("port")
			log.Printf("corenode daemon listening on %s (data-dir=%s)", addr, c.String("data-dir"))
			return http.ListenAndServe(addr, handler)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
