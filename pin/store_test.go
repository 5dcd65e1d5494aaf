package pin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corenode/corerr"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pins.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func randomCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	h, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, h)
}

func TestAddAndIsPinned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := randomCID(t, "root-a")

	ok, err := s.IsPinned(ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Add(ctx, c, Unbounded, map[string]any{"name": "root-a"}))

	ok, err = s.IsPinned(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddIsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := randomCID(t, "root-b")

	require.NoError(t, s.Add(ctx, c, Direct, map[string]any{"v": float64(1)}))
	require.NoError(t, s.Add(ctx, c, Unbounded, map[string]any{"v": float64(2)}))

	pins, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, Unbounded, pins[0].Depth)
	assert.Equal(t, float64(2), pins[0].Metadata["v"])
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := randomCID(t, "root-c")

	require.NoError(t, s.Add(ctx, c, Direct, nil))
	require.NoError(t, s.Remove(ctx, c))

	ok, err := s.IsPinned(ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveMissingReturnsDoesNotExist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := randomCID(t, "never-pinned")

	err := s.Remove(ctx, c)
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.DoesNotExist))
}

func TestListMultiplePins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cids := []cid.Cid{randomCID(t, "1"), randomCID(t, "2"), randomCID(t, "3")}
	for i, c := range cids {
		require.NoError(t, s.Add(ctx, c, DepthFromInt(i), nil))
	}

	pins, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, pins, 3)
}

func TestDepthFromIntRoundTrip(t *testing.T) {
	assert.Equal(t, Direct, DepthFromInt(0))
	assert.Equal(t, Unbounded, DepthFromInt(-1))
	assert.Equal(t, Bounded(3), DepthFromInt(3))

	assert.Equal(t, 0, Direct.Int())
	assert.Equal(t, -1, Unbounded.Int())
	assert.Equal(t, 3, Bounded(3).Int())
}
