package mirror

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sftpmirror/pkg/storage/storagetest"
)

func TestRemoteEnsurerCreatesMissingSegments(t *testing.T) {
	client := storagetest.NewMemClient()
	require.NoError(t, client.Fs.MkdirAll("/dst", 0o755))

	ensurer := NewRemoteEnsurer(client, 64)
	require.NoError(t, ensurer.EnsureFor("/dst/x/y/f.txt"))

	assert.True(t, client.Exists("/dst/x/y"))
	assert.False(t, client.Exists("/dst/x/y/f.txt"))
	assert.Contains(t, client.Ops(), "Mkdir /dst/x")
	assert.Contains(t, client.Ops(), "Mkdir /dst/x/y")
	assert.NotContains(t, client.Ops(), "Mkdir /dst")
}

func TestRemoteEnsurerSecondCallIsFree(t *testing.T) {
	client := storagetest.NewMemClient()
	ensurer := NewRemoteEnsurer(client, 64)
	require.NoError(t, ensurer.EnsureFor("/dst/x/y/f.txt"))

	client.ResetOps()
	require.NoError(t, ensurer.EnsureFor("/dst/x/y/f.txt"))
	require.NoError(t, ensurer.EnsureFor("/dst/x/y/g.txt"))
	require.NoError(t, ensurer.EnsureDir("/dst/x"))

	assert.Empty(t, client.Ops())
}

func TestRemoteEnsurerExistingDirectoryTarget(t *testing.T) {
	client := storagetest.NewMemClient()
	require.NoError(t, client.Fs.MkdirAll("/dst/x", 0o755))

	ensurer := NewRemoteEnsurer(client, 64)
	require.NoError(t, ensurer.EnsureFor("/dst/x"))

	for _, op := range client.Ops() {
		assert.NotContains(t, op, "Mkdir")
	}
}

func TestRemoteEnsurerFailures(t *testing.T) {
	t.Run("file in the way", func(t *testing.T) {
		client := storagetest.NewMemClient()
		require.NoError(t, client.WriteFile("/dst/x", "not a dir"))

		err := NewRemoteEnsurer(client, 64).EnsureFor("/dst/x/f.txt")
		assert.True(t, IsType(err, ErrorTypeDirectoryCreation), "got %v", err)
	})

	t.Run("file in the way of an ancestor", func(t *testing.T) {
		client := storagetest.NewMemClient()
		require.NoError(t, client.WriteFile("/dst/x", "not a dir"))

		err := NewRemoteEnsurer(client, 64).EnsureFor("/dst/x/y/f.txt")
		assert.True(t, IsType(err, ErrorTypeDirectoryCreation), "got %v", err)
	})

	t.Run("mkdir refused", func(t *testing.T) {
		client := storagetest.NewMemClient()
		require.NoError(t, client.Fs.MkdirAll("/dst", 0o755))
		client.FailOn("Mkdir", "/dst/x", errors.New("permission denied"))

		ensurer := NewRemoteEnsurer(client, 64)
		err := ensurer.EnsureFor("/dst/x/f.txt")
		require.Error(t, err)
		assert.True(t, IsType(err, ErrorTypeDirectoryCreation))
		assert.False(t, ensurer.known("/dst/x"))
	})

	t.Run("too deep", func(t *testing.T) {
		client := storagetest.NewMemClient()
		err := NewRemoteEnsurer(client, 2).EnsureFor("/a/b/c/f.txt")
		assert.True(t, IsType(err, ErrorTypeDirectoryCreation), "got %v", err)
		assert.Empty(t, client.Ops()[1:])
	})
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/a", "/a/b", "/a/b/c"}, ancestors("/a/b/c"))
	assert.Equal(t, []string{"a", "a/b"}, ancestors("a/b"))
	assert.Nil(t, ancestors("/"))
	assert.Nil(t, ancestors("."))
}

func TestLocalEnsurer(t *testing.T) {
	fs := afero.NewMemMapFs()
	ensurer := NewLocalEnsurer(fs)

	require.NoError(t, ensurer.EnsureFor("/staging/x/y/f.txt"))
	ok, err := afero.DirExists(fs, "/staging/x/y")
	require.NoError(t, err)
	assert.True(t, ok)

	exists, _ := afero.Exists(fs, "/staging/x/y/f.txt")
	assert.False(t, exists)

	// existing directory target and repeated calls are no-ops
	require.NoError(t, ensurer.EnsureFor("/staging/x"))
	require.NoError(t, ensurer.EnsureFor("/staging/x/y/f.txt"))
}

func TestLocalEnsurerFileInTheWay(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/staging/x", []byte("file"), 0o644))

	err := NewLocalEnsurer(fs).EnsureFor("/staging/x/f.txt")
	assert.True(t, IsType(err, ErrorTypeDirectoryCreation), "got %v", err)
}
