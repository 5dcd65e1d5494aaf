package unixfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corenode/corerr"
)

func TestNormalizePathCollapsesDotSegmentsAndTrailingSlash(t *testing.T) {
	got, err := NormalizePath("/a/./b/c/")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", got)
}

func TestNormalizePathRejectsDotDot(t *testing.T) {
	_, err := NormalizePath("/a/../b")
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.InvalidPath))
}

func TestNormalizePathRejectsRelative(t *testing.T) {
	_, err := NormalizePath("a/b")
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.InvalidPath))
}

func TestNormalizePathRoot(t *testing.T) {
	got, err := NormalizePath("/")
	require.NoError(t, err)
	assert.Equal(t, "/", got)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a/b"))
	assert.Nil(t, SplitPath("/"))
}
