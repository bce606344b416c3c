package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGateway_RoundTrip(t *testing.T) {
	ctx := context.Background()
	gw, err := NewLocalGateway(filepath.Join(t.TempDir(), "nfs"))
	require.NoError(t, err)

	name := Key("backup-20240101-120000.tar.zst")
	_, err = gw.Put(ctx, name, bytes.NewReader([]byte("first")), 5)
	require.NoError(t, err)
	// overwriting is allowed
	_, err = gw.Put(ctx, name, bytes.NewReader([]byte("second")), 6)
	require.NoError(t, err)

	rc, err := gw.Get(ctx, name)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "second", string(data))

	objects, err := gw.List(ctx, KeyPrefix)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, name, objects[0].Name)
	assert.Equal(t, int64(6), objects[0].Size)

	require.NoError(t, gw.Delete(ctx, name))
	objects, err = gw.List(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocalGateway_NotFound(t *testing.T) {
	ctx := context.Background()
	gw, err := NewLocalGateway(t.TempDir())
	require.NoError(t, err)

	_, err = gw.Get(ctx, Key("missing.tar"))
	assert.True(t, IsNotFound(err))

	err = gw.Delete(ctx, Key("missing.tar"))
	assert.True(t, IsNotFound(err))
}

func TestLocalGateway_ListSkipsUploadsAndOtherPrefixes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	gw, err := NewLocalGateway(root)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "backups"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "backups", ".upload-123"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	_, err = gw.Put(ctx, Key("a.tar"), bytes.NewReader([]byte("a")), 1)
	require.NoError(t, err)

	objects, err := gw.List(ctx, KeyPrefix)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "backups/a.tar", objects[0].Name)
}

func TestLocalGateway_ListRemovesStaleUploads(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	gw, err := NewLocalGateway(root)
	require.NoError(t, err)

	dir := filepath.Join(root, "backups")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, ".upload-killed")
	fresh := filepath.Join(dir, ".upload-running")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-2 * staleUploadAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	objects, err := gw.List(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, objects)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh, "a recent upload may still be running")
}

func TestLocalGateway_NamesStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	gw, err := NewLocalGateway(root)
	require.NoError(t, err)

	_, err = gw.Put(context.Background(), "../../escape.tar", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "escape.tar"))
	assert.NoError(t, err)
}

func TestLocalGateway_CanceledPut(t *testing.T) {
	gw, err := NewLocalGateway(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = gw.Put(ctx, Key("a.tar"), bytes.NewReader([]byte("abc")), 3)
	require.Error(t, err)
	_, err = gw.Get(context.Background(), Key("a.tar"))
	assert.True(t, IsNotFound(err))
}
