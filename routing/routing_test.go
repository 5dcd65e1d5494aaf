package routing

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipfs/go-cid"
)

func testCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func TestStaticRouterSeedAndFind(t *testing.T) {
	r := NewStaticRouter()
	c := testCID(t, "x")
	id, err := test.RandPeerID()
	require.NoError(t, err)
	r.Seed(c, peer.AddrInfo{ID: id})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch, err := r.FindProviders(ctx, c, 0)
	require.NoError(t, err)

	var got []peer.AddrInfo
	for info := range ch {
		got = append(got, info)
	}
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
}

func TestStaticRouterUnknownCIDIsEmpty(t *testing.T) {
	r := NewStaticRouter()
	ctx := context.Background()
	ch, err := r.FindProviders(ctx, testCID(t, "unseeded"), 0)
	require.NoError(t, err)

	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 0, count)
}

func TestCompositeMergesMultipleRouters(t *testing.T) {
	c := testCID(t, "merged")
	id1, err := test.RandPeerID()
	require.NoError(t, err)
	id2, err := test.RandPeerID()
	require.NoError(t, err)

	r1 := NewStaticRouter()
	r1.Seed(c, peer.AddrInfo{ID: id1})
	r2 := NewStaticRouter()
	r2.Seed(c, peer.AddrInfo{ID: id2})

	comp := NewComposite(r1, r2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch, err := comp.FindProviders(ctx, c, 0)
	require.NoError(t, err)

	seen := map[peer.ID]bool{}
	for info := range ch {
		seen[info.ID] = true
	}
	assert.True(t, seen[id1])
	assert.True(t, seen[id2])
}

func TestGatewayRouterDefaultProviders(t *testing.T) {
	g, err := NewGatewayRouter(nil)
	require.NoError(t, err)

	ch, err := g.FindProviders(context.Background(), testCID(t, "gw"), 0)
	require.NoError(t, err)

	var count int
	for range ch {
		count++
	}
	assert.Equal(t, len(DefaultGateways), count)
}

func TestGatewayRouterProvideUnsupported(t *testing.T) {
	g, err := NewGatewayRouter(nil)
	require.NoError(t, err)

	err = g.Provide(context.Background(), testCID(t, "gw"))
	assert.Error(t, err)
}
