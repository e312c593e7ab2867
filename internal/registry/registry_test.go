package registry

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtdev/chardevd/internal/logging"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir(), logging.NewNop())
	require.NoError(t, err)
	return fs
}

func TestAllocateMajorUnique(t *testing.T) {
	fs := newTestFS(t)

	first, err := fs.AllocateMajor("dev1")
	require.NoError(t, err)
	second, err := fs.AllocateMajor("dev2")
	require.NoError(t, err)

	assert.Equal(t, FirstMajor, first)
	assert.NotEqual(t, first, second)
}

func TestReleaseMajorMakesItReusable(t *testing.T) {
	fs := newTestFS(t)

	major, err := fs.AllocateMajor("dev1")
	require.NoError(t, err)
	require.NoError(t, fs.ReleaseMajor(major))

	again, err := fs.AllocateMajor("dev1")
	require.NoError(t, err)
	assert.Equal(t, major, again)
}

func TestReleaseMajorTwice(t *testing.T) {
	fs := newTestFS(t)

	major, err := fs.AllocateMajor("dev1")
	require.NoError(t, err)
	require.NoError(t, fs.ReleaseMajor(major))
	assert.Error(t, fs.ReleaseMajor(major))
}

func TestClassLifecycle(t *testing.T) {
	fs := newTestFS(t)

	class, err := fs.CreateClass("vdev")
	require.NoError(t, err)

	info, err := os.Stat(class.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Single-owner: a second create of the same class fails.
	_, err = fs.CreateClass("vdev")
	assert.Error(t, err)

	require.NoError(t, fs.DestroyClass(class))
	_, err = os.Stat(class.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestNodeLifecycle(t *testing.T) {
	fs := newTestFS(t)

	class, err := fs.CreateClass("vdev")
	require.NoError(t, err)
	node, err := fs.CreateNode(class, FirstMajor, 0, "vdev1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(class.Dir, "vdev1"), node.Path)

	// The node is a live socket user-space can connect to.
	conn, err := net.Dial("unix", node.Path)
	require.NoError(t, err)
	conn.Close()

	require.NoError(t, fs.DestroyNode(node))
	_, err = net.Dial("unix", node.Path)
	assert.Error(t, err)

	require.NoError(t, fs.DestroyClass(class))
}
