package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/storage"
)

// failingGateway fails Put for selected names and records what was in
// flight while each Put ran
type failingGateway struct {
	*memGateway
	fail     map[string]bool
	inFlight *InFlight
	seen     map[string]bool
}

func (g *failingGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	g.mu.Lock()
	g.seen[name] = g.inFlight.Contains(name)
	g.mu.Unlock()
	if g.fail[storage.BaseName(name)] {
		return "", errors.NewPermanentProviderError("upload rejected", &errors.HTTPStatusError{StatusCode: 403})
	}
	return g.memGateway.Put(ctx, name, body, size)
}

// writeLocalArchive creates an archive file with a sidecar in dir
func writeLocalArchive(t *testing.T, dir string, ts time.Time, content string) *ManifestEntry {
	t.Helper()
	codec, err := GetCodec(CompressionTypeZstd)
	require.NoError(t, err)
	name := ArchiveName(ts, codec)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	entry := &ManifestEntry{Name: name, Kind: KindFull, CreatedAt: ts, Size: int64(len(content)), Format: CompressionTypeZstd}
	require.NoError(t, WriteManifest(dir, entry))
	return entry
}

func TestUploader_UploadPending(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	first := writeLocalArchive(t, dir, t0, "first archive")
	second := writeLocalArchive(t, dir, t0.Add(time.Hour), "second archive")
	// an archive without a sidecar is uploaded on its own
	codec, _ := GetCodec(CompressionTypeGzip)
	standalone := ArchiveName(t0.Add(2*time.Hour), codec)
	require.NoError(t, os.WriteFile(filepath.Join(dir, standalone), []byte("legacy"), 0o644))
	// partial archives are never uploaded
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup-20240115-130000.tar.zst.partial"), []byte("x"), 0o644))

	gw := newMemGateway()
	// the first archive is already remote with the same size
	_, err := gw.Put(context.Background(), storage.Key(first.Name), strings.NewReader("first archive"), 13)
	require.NoError(t, err)

	report, err := NewUploader(gw, dir, nil, 2, nil).UploadPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{first.Name}, report.Skipped)
	assert.Equal(t, []string{
		ManifestName(first.Name),
		second.Name,
		ManifestName(second.Name),
		standalone,
	}, report.Uploaded)
	assert.Empty(t, report.Failed)

	_, ok := gw.objects[storage.Key("backup-20240115-130000.tar.zst.partial")]
	assert.False(t, ok)

	// a second run has nothing left to do
	again, err := NewUploader(gw, dir, nil, 2, nil).UploadPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.Uploaded)
	assert.Len(t, again.Skipped, 5)
}

func TestUploader_ReuploadsOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	entry := writeLocalArchive(t, dir, time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local), "complete archive")

	gw := newMemGateway()
	gw.objects[storage.Key(entry.Name)] = []byte("trunc")

	report, err := NewUploader(gw, dir, nil, 1, nil).UploadPending(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Uploaded, entry.Name)
	assert.Equal(t, "complete archive", string(gw.objects[storage.Key(entry.Name)]))
}

func TestUploader_FailuresAreIndividual(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	bad := writeLocalArchive(t, dir, t0, "bad")
	good := writeLocalArchive(t, dir, t0.Add(time.Hour), "good")

	inFlight := NewInFlight()
	gw := &failingGateway{
		memGateway: newMemGateway(),
		fail:       map[string]bool{bad.Name: true},
		inFlight:   inFlight,
		seen:       make(map[string]bool),
	}

	report, err := NewUploader(gw, dir, inFlight, 3, nil).UploadPending(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ExitProvider, errors.ExitCode(err))

	require.Len(t, report.Failed, 1)
	assert.Equal(t, bad.Name, report.Failed[0].Name)
	assert.Contains(t, report.Uploaded, good.Name)
	assert.Contains(t, report.Uploaded, ManifestName(bad.Name))

	// archives are marked in flight while they upload
	assert.True(t, gw.seen[storage.Key(good.Name)])
	assert.Empty(t, inFlight.Names())
}

func TestUploader_UploadFile(t *testing.T) {
	dir := t.TempDir()
	entry := writeLocalArchive(t, dir, time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local), "content")
	gw := newMemGateway()
	u := NewUploader(gw, dir, nil, 0, nil)

	report, err := u.UploadFile(context.Background(), filepath.Join(dir, entry.Name))
	require.NoError(t, err)
	assert.Equal(t, []string{entry.Name, ManifestName(entry.Name)}, report.Uploaded)
	assert.Equal(t, 2, gw.puts)

	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o644))
	_, err = u.UploadFile(context.Background(), notes)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetErrorType(err))
}

func TestDownload(t *testing.T) {
	src := t.TempDir()
	entry := writeLocalArchive(t, src, time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local), "payload")
	gw := newMemGateway()
	_, err := NewUploader(gw, src, nil, 1, nil).UploadPending(context.Background())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "restore")
	path, err := Download(context.Background(), gw, entry.Name, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, entry.Name), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	manifest, err := ReadManifest(dest, entry.Name)
	require.NoError(t, err)
	assert.Equal(t, entry.Name, manifest.Name)

	_, err = Download(context.Background(), gw, "backup-20200101-000000.tar.zst", dest, nil)
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
	_, statErr := os.Stat(filepath.Join(dest, "backup-20200101-000000.tar.zst"+PartialSuffix))
	assert.True(t, os.IsNotExist(statErr))
}
