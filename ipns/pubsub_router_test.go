package ipns

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/stretchr/testify/require"
)

func newTestPubSubHost(t *testing.T) (host.Host, *pubsub.PubSub) {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	ps, err := pubsub.NewGossipSub(context.Background(), h)
	require.NoError(t, err)
	return h, ps
}

func TestPubSubRouterDeliversPutToSubscriber(t *testing.T) {
	ctx := context.Background()

	hostA, psA := newTestPubSubHost(t)
	hostB, psB := newTestPubSubHost(t)

	require.NoError(t, hostA.Connect(ctx, *host.InfoFromHost(hostB)))

	routerA := NewPubSubRouter(psA)
	routerB := NewPubSubRouter(psB)
	t.Cleanup(routerA.Close)
	t.Cleanup(routerB.Close)

	routingKey := []byte("/ipns/some-routing-key")

	// B subscribes first (a Get before any Put has arrived is a miss,
	// the same as a cold DHT query).
	_, err := routerB.Get(ctx, routingKey)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return routerA.Put(ctx, routingKey, []byte("record-bytes")) == nil
	}, 5*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		raw, err := routerB.Get(ctx, routingKey)
		return err == nil && string(raw) == "record-bytes"
	}, 5*time.Second, 100*time.Millisecond)
}

func TestPubSubRouterName(t *testing.T) {
	_, ps := newTestPubSubHost(t)
	r := NewPubSubRouter(ps)
	t.Cleanup(r.Close)
	require.Equal(t, "pubsub", r.Name())
}
