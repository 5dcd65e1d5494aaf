package ipns

import (
	"context"

	dht "github.com/libp2p/go-libp2p-kad-dht"

	"corenode/corerr"
)

// Router is the C13 routing capability IPNS publish/resolve fan out
// over, mirroring helia-ipns/src/routing.rs's IpnsRouting trait
// (put/get by routing key, not by CID — this is deliberately a
// different interface from routing.ContentRouter, since IPNS keys are
// not content identifiers).
type Router interface {
	Put(ctx context.Context, routingKey []byte, marshaled []byte) error
	Get(ctx context.Context, routingKey []byte) ([]byte, error)
	Name() string
}

// DHTRouter adapts a go-libp2p-kad-dht IpfsDHT's generic ValueStore
// (PutValue/GetValue) to Router. The same *dht.IpfsDHT a node already
// runs for Bitswap provider discovery (routing.DHTRouter) doubles as
// its IPNS router: go-libp2p-kad-dht validates put values against a
// registered ipns.Validator keyed by the "/ipns/" namespace, which the
// caller registers when it constructs the DHT; nothing in this module
// constructs one.
type DHTRouter struct {
	dht *dht.IpfsDHT
}

// NewDHTRouter wraps an already-bootstrapped DHT node for IPNS use.
func NewDHTRouter(d *dht.IpfsDHT) *DHTRouter {
	return &DHTRouter{dht: d}
}

func (r *DHTRouter) Put(ctx context.Context, routingKey []byte, marshaled []byte) error {
	return r.dht.PutValue(ctx, string(routingKey), marshaled)
}

func (r *DHTRouter) Get(ctx context.Context, routingKey []byte) ([]byte, error) {
	v, err := r.dht.GetValue(ctx, string(routingKey))
	if err != nil {
		return nil, corerr.Wrap(corerr.NotFound, string(routingKey), err)
	}
	return v, nil
}

func (r *DHTRouter) Name() string { return "dht" }

// LocalRouter makes the local record Store itself usable as a Router,
// per helia-ipns/src/routing.rs's LocalRouter ("handled by the local
// store directly"): publishing to it is a no-op (the orchestrator
// already writes the local store directly before fanning out to
// routers) and resolving from it reads the local store, giving
// resolve-from-cache-of-self for keys this node itself publishes.
type LocalRouter struct {
	store LocalStore
}

// NewLocalRouter wraps store for use as a Router.
func NewLocalRouter(store LocalStore) *LocalRouter {
	return &LocalRouter{store: store}
}

func (r *LocalRouter) Put(ctx context.Context, routingKey []byte, marshaled []byte) error {
	return nil
}

func (r *LocalRouter) Get(ctx context.Context, routingKey []byte) ([]byte, error) {
	rec, ok, err := r.store.Get(ctx, string(routingKey))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, corerr.New(corerr.NotFound, string(routingKey))
	}
	return rec.Raw, nil
}

func (r *LocalRouter) Name() string { return "local" }
