package unixfs

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corestore "corenode/blockstore"
	corestorage "corenode/datastore"
)

func newTestBlockstore(t *testing.T) corestore.Blockstore {
	t.Helper()
	ds, err := corestorage.NewBadger(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return corestore.New(ds)
}

func TestAddSingleChunkProducesFileNode(t *testing.T) {
	bstore := newTestBlockstore(t)
	data := []byte("small file, well under one chunk")

	root, err := Add(context.Background(), bstore, bytes.NewReader(data), DefaultAddOptions())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Cat(context.Background(), bstore, root, 0, -1, &out))
	assert.Equal(t, data, out.Bytes())
}

func TestAddEmptyPayload(t *testing.T) {
	bstore := newTestBlockstore(t)

	root, err := Add(context.Background(), bstore, bytes.NewReader(nil), DefaultAddOptions())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Cat(context.Background(), bstore, root, 0, -1, &out))
	assert.Empty(t, out.Bytes())
}

func TestAddMultiChunkBalancedTree(t *testing.T) {
	bstore := newTestBlockstore(t)
	opts := AddOptions{ChunkSize: 64, MaxChildren: 3}

	data := make([]byte, 64*10+17) // 10 full chunks + a partial one
	_, err := rand.Read(data)
	require.NoError(t, err)

	root, err := Add(context.Background(), bstore, bytes.NewReader(data), opts)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Cat(context.Background(), bstore, root, 0, -1, &out))
	assert.Equal(t, data, out.Bytes())
}

func TestAddIsDeterministic(t *testing.T) {
	bstore := newTestBlockstore(t)
	opts := AddOptions{ChunkSize: 32, MaxChildren: 4}

	data := bytes.Repeat([]byte("corenode-unixfs-determinism-check"), 20)

	root1, err := Add(context.Background(), bstore, bytes.NewReader(data), opts)
	require.NoError(t, err)
	root2, err := Add(context.Background(), bstore, bytes.NewReader(data), opts)
	require.NoError(t, err)

	assert.True(t, root1.Equals(root2))
}

func TestAddRawLeavesExactChunkBoundary(t *testing.T) {
	bstore := newTestBlockstore(t)
	opts := AddOptions{ChunkSize: 16, MaxChildren: 2, RawLeaves: true}

	data := bytes.Repeat([]byte{0xAB}, 16*4) // exactly 4 chunks, no remainder

	root, err := Add(context.Background(), bstore, bytes.NewReader(data), opts)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Cat(context.Background(), bstore, root, 0, -1, &out))
	assert.Equal(t, data, out.Bytes())
}

func TestAddRawLeavesWithBlake3Hash(t *testing.T) {
	bstore := newTestBlockstore(t)
	opts := AddOptions{ChunkSize: 16, MaxChildren: 2, RawLeaves: true, HashFunc: multihash.BLAKE3}

	data := bytes.Repeat([]byte{0xCD}, 16*3+5)

	root, err := Add(context.Background(), bstore, bytes.NewReader(data), opts)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Cat(context.Background(), bstore, root, 0, -1, &out))
	assert.Equal(t, data, out.Bytes())
}

func TestCatBoundedRange(t *testing.T) {
	bstore := newTestBlockstore(t)
	opts := AddOptions{ChunkSize: 16, MaxChildren: 3}

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}

	root, err := Add(context.Background(), bstore, bytes.NewReader(data), opts)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Cat(context.Background(), bstore, root, 50, 30, &out))
	assert.Equal(t, data[50:80], out.Bytes())
}
