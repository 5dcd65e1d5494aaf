package ipns

import (
	"context"
	"encoding/base64"
	"log"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"corenode/corerr"
)

// PubSubRouter adapts a go-libp2p-pubsub PubSub to Router, the
// "IPNS over PubSub" transport real IPFS nodes layer on top of (and
// usually ahead of) DHT resolution: a name's owner publishes record
// updates to a topic derived from its routing key, and anyone
// interested subscribes and keeps the newest message they've seen.
// Like routing.DHTRouter and ipns.DHTRouter, it takes an
// already-constructed PubSub rather than building a host itself.
type PubSubRouter struct {
	ps *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	latest map[string][]byte
}

// NewPubSubRouter wraps an already-joined PubSub instance for IPNS
// record distribution.
func NewPubSubRouter(ps *pubsub.PubSub) *PubSubRouter {
	return &PubSubRouter{
		ps:     ps,
		topics: make(map[string]*pubsub.Topic),
		latest: make(map[string][]byte),
	}
}

// pubsubTopic names the gossipsub topic for a routing key, following
// boxo/namesys's own pubsub convention of base64url-encoding the key
// under a "/record/" prefix so it survives as a topic string.
func pubsubTopic(routingKey []byte) string {
	return "/record/" + base64.RawURLEncoding.EncodeToString(routingKey)
}

func (r *PubSubRouter) topic(routingKey []byte) (*pubsub.Topic, error) {
	key := string(routingKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.topics[key]; ok {
		return t, nil
	}
	t, err := r.ps.Join(pubsubTopic(routingKey))
	if err != nil {
		return nil, err
	}
	r.topics[key] = t
	return t, nil
}

// Put publishes marshaled to routingKey's topic. Any peer already
// subscribed (via a prior Get on the same name) receives it and
// updates its own cached copy through the topic's message loop.
func (r *PubSubRouter) Put(ctx context.Context, routingKey []byte, marshaled []byte) error {
	t, err := r.topic(routingKey)
	if err != nil {
		return err
	}
	return t.Publish(ctx, marshaled)
}

// Get joins routingKey's topic if this is the first query for it
// (spawning a background loop that keeps the newest message received),
// then returns whatever is cached. A first-ever Get before any message
// has arrived is a cache miss (a NotFound error), same as a DHT query
// that finds nothing: the orchestrator's fan-out treats it as a miss,
// not a hard error and not a validation failure.
func (r *PubSubRouter) Get(ctx context.Context, routingKey []byte) ([]byte, error) {
	key := string(routingKey)

	r.mu.Lock()
	_, subscribed := r.topics[key]
	r.mu.Unlock()

	t, err := r.topic(routingKey)
	if err != nil {
		return nil, err
	}
	if !subscribed {
		sub, err := t.Subscribe()
		if err != nil {
			return nil, err
		}
		go r.watch(key, sub)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.latest[key]
	if !ok {
		return nil, corerr.New(corerr.NotFound, key)
	}
	return raw, nil
}

func (r *PubSubRouter) watch(key string, sub *pubsub.Subscription) {
	ctx := context.Background()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.latest[key] = msg.GetData()
		r.mu.Unlock()
	}
}

func (r *PubSubRouter) Name() string { return "pubsub" }

// Close closes every topic handle this router joined. It does not cancel
// the subscriptions Get opened; pubsub refuses to close a topic that
// still has one, and that error is logged.
func (r *PubSubRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if err := t.Close(); err != nil {
			log.Printf("ipns: pubsub topic close: %v", err)
		}
	}
}
