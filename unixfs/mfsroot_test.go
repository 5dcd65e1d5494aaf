package unixfs

import (
	"bytes"
	"context"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corenode/corerr"
)

func TestRootMkdirAndCpNested(t *testing.T) {
	bstore := newTestBlockstore(t)
	ctx := context.Background()

	empty, err := EmptyDirectory(ctx, bstore)
	require.NoError(t, err)
	root := NewRoot(bstore, empty)

	require.NoError(t, root.Mkdir(ctx, "/docs"))

	file, err := Add(ctx, bstore, bytes.NewReader([]byte("readme")), DefaultAddOptions())
	require.NoError(t, err)
	require.NoError(t, root.Cp(ctx, "/docs/readme.md", file))

	entries, errc := root.Ls(ctx, "/docs")
	var names []string
	for e := range entries {
		names = append(names, e.Name)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, []string{"readme.md"}, names)
}

func TestRootRmPropagatesDoesNotExist(t *testing.T) {
	bstore := newTestBlockstore(t)
	ctx := context.Background()
	empty, err := EmptyDirectory(ctx, bstore)
	require.NoError(t, err)
	root := NewRoot(bstore, empty)

	err = root.Rm(ctx, "/nope")
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.DoesNotExist))
}

func TestRootMutationsAreAtomicSwaps(t *testing.T) {
	bstore := newTestBlockstore(t)
	ctx := context.Background()
	empty, err := EmptyDirectory(ctx, bstore)
	require.NoError(t, err)
	root := NewRoot(bstore, empty)

	before := root.Cid()
	require.NoError(t, root.Mkdir(ctx, "/a"))
	after := root.Cid()
	assert.False(t, before.Equals(after))
}

func TestRootWithStorageSurvivesReopen(t *testing.T) {
	bstore := newTestBlockstore(t)
	ctx := context.Background()
	empty, err := EmptyDirectory(ctx, bstore)
	require.NoError(t, err)

	store := NewDatastoreRootStorage(dssync.MutexWrap(ds.NewMapDatastore()))

	root, err := NewRootWithStorage(ctx, bstore, store, "mymount", empty)
	require.NoError(t, err)
	require.NoError(t, root.Mkdir(ctx, "/a"))
	want := root.Cid()

	reopened, err := NewRootWithStorage(ctx, bstore, store, "mymount", empty)
	require.NoError(t, err)
	assert.True(t, want.Equals(reopened.Cid()))
}

func TestRootWatchSeesSwaps(t *testing.T) {
	bstore := newTestBlockstore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	empty, err := EmptyDirectory(ctx, bstore)
	require.NoError(t, err)

	store := NewDatastoreRootStorage(dssync.MutexWrap(ds.NewMapDatastore()))
	root, err := NewRootWithStorage(ctx, bstore, store, "watched", empty)
	require.NoError(t, err)

	updates, err := root.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, root.Mkdir(ctx, "/a"))

	select {
	case got := <-updates:
		assert.True(t, got.Equals(root.Cid()))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for root watch notification")
	}
}

func TestFileRootStoragePersistsAcrossInstances(t *testing.T) {
	bstore := newTestBlockstore(t)
	ctx := context.Background()
	empty, err := EmptyDirectory(ctx, bstore)
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := NewFileRootStorage(dir)
	require.NoError(t, err)

	root, err := NewRootWithStorage(ctx, bstore, store, "disk", empty)
	require.NoError(t, err)
	require.NoError(t, root.Mkdir(ctx, "/a"))
	want := root.Cid()

	reopenedStore, err := NewFileRootStorage(dir)
	require.NoError(t, err)
	reopened, err := NewRootWithStorage(ctx, bstore, reopenedStore, "disk", empty)
	require.NoError(t, err)
	assert.True(t, want.Equals(reopened.Cid()))
}
