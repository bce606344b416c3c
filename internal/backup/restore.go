package backup

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
	"zesty-backup/internal/storage"
)

// RestoreEngine resolves an archive, verifies it and extracts it below a
// target directory.
type RestoreEngine struct {
	gateway  storage.Gateway
	localDir string
	inFlight *InFlight
	logger   *logging.Logger
}

// NewRestoreEngine creates a restore engine. gateway may be nil, in which
// case only local archives can be restored.
func NewRestoreEngine(gateway storage.Gateway, localDir string, inFlight *InFlight, logger *logging.Logger) *RestoreEngine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if inFlight == nil {
		inFlight = NewInFlight()
	}
	return &RestoreEngine{
		gateway:  gateway,
		localDir: localDir,
		inFlight: inFlight,
		logger:   logger,
	}
}

// resolvedArchive is a local file ready for reading
type resolvedArchive struct {
	path     string
	manifest *ManifestEntry
	cleanup  func()
}

// Restore extracts req.Archive into req.Target. Extraction continues past
// individual entry failures; the report lists what succeeded, failed and
// was rejected, and any failure or rejection makes the returned error a
// restore error.
func (r *RestoreEngine) Restore(ctx context.Context, req RestoreRequest) (*RestoreReport, error) {
	start := time.Now()
	done := r.logger.LogOperationStart("restore", map[string]interface{}{
		"archive": req.Archive,
		"target":  req.Target,
	})

	report := &RestoreReport{Archive: req.Archive, Target: req.Target}
	err := r.restore(ctx, req, report)
	report.Duration = time.Since(start)
	done(err)

	return report, err
}

func (r *RestoreEngine) restore(ctx context.Context, req RestoreRequest, report *RestoreReport) error {
	if req.Target == "" {
		return errors.NewConfigError("restore target directory is required", nil)
	}

	release := r.inFlight.Acquire(req.Archive)
	defer release()

	archive, err := r.resolve(ctx, req.Archive)
	if err != nil {
		return err
	}
	defer archive.cleanup()

	if err := r.Verify(ctx, archive.path, archive.manifest); err != nil {
		return err
	}
	report.Verified = true

	return r.extract(ctx, archive.path, req.Target, report)
}

// resolve finds the archive locally or downloads it into a temp file
func (r *RestoreEngine) resolve(ctx context.Context, archive string) (*resolvedArchive, error) {
	candidates := []string{archive}
	if r.localDir != "" && filepath.Base(archive) == archive {
		candidates = append(candidates, filepath.Join(r.localDir, archive))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			manifest, _ := ReadManifest(filepath.Dir(candidate), filepath.Base(candidate))
			return &resolvedArchive{path: candidate, manifest: manifest, cleanup: func() {}}, nil
		}
	}

	if r.gateway == nil {
		return nil, errors.NewRestoreError(fmt.Sprintf("archive %s not found locally and no remote storage configured", archive), nil)
	}
	return r.download(ctx, storage.BaseName(archive))
}

func (r *RestoreEngine) download(ctx context.Context, name string) (*resolvedArchive, error) {
	body, err := r.gateway.Get(ctx, storage.Key(name))
	if err != nil {
		return nil, errors.NewRestoreError(fmt.Sprintf("failed to download %s", name), err)
	}
	defer body.Close()

	// Keep the archive suffix so the codec can be detected
	tmp, err := os.CreateTemp("", "zesty-restore-*-"+name)
	if err != nil {
		return nil, errors.NewRestoreError("failed to create temporary file", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		cleanup()
		return nil, errors.NewRestoreError(fmt.Sprintf("failed to download %s", name), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, errors.NewRestoreError("failed to write temporary file", err)
	}

	resolved := &resolvedArchive{path: tmp.Name(), cleanup: cleanup}
	if rc, err := r.gateway.Get(ctx, storage.Key(ManifestName(name))); err == nil {
		data, readErr := io.ReadAll(io.LimitReader(rc, maxManifestSize))
		rc.Close()
		if readErr == nil {
			resolved.manifest, _ = ParseManifest(data)
		}
	}

	r.logger.WithContext(ctx).WithField("archive", name).WithField("provider", r.gateway.Name()).Info("Downloaded archive for restore")
	return resolved, nil
}

// Verify checks the sidecar digest when one is known and reads the whole
// archive to make sure it decompresses and parses.
func (r *RestoreEngine) Verify(ctx context.Context, path string, manifest *ManifestEntry) error {
	if manifest != nil && manifest.Digest != "" {
		digest, err := FileDigest(path)
		if err != nil {
			return errors.NewRestoreError("failed to hash archive", err)
		}
		if digest != manifest.Digest {
			return errors.NewRestoreError(fmt.Sprintf("archive %s digest mismatch", filepath.Base(path)), nil).
				WithContext("expected", manifest.Digest).
				WithContext("actual", digest)
		}
	}

	return walkArchive(ctx, path, func(hdr *tar.Header, tr *tar.Reader) error {
		_, err := io.Copy(io.Discard, tr)
		return err
	})
}

// FileDigest returns the hex BLAKE2b-256 digest of a file
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// walkArchive calls fn for every entry; any stream error is a corrupt archive
func walkArchive(ctx context.Context, path string, fn func(*tar.Header, *tar.Reader) error) error {
	codec, err := CodecForName(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.NewRestoreError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	stream, err := codec.NewReader(f)
	if err != nil {
		return errors.NewRestoreError(fmt.Sprintf("archive %s is corrupt", filepath.Base(path)), err)
	}
	defer stream.Close()

	tr := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return errors.WrapError(err, "restore aborted")
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewRestoreError(fmt.Sprintf("archive %s is corrupt", filepath.Base(path)), err)
		}
		if err := fn(hdr, tr); err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) {
				return err
			}
			return errors.NewRestoreError(fmt.Sprintf("archive %s is corrupt", filepath.Base(path)), err).
				WithContext("entry", hdr.Name)
		}
	}
}

// safeJoin returns the extraction path of an entry, or false if the entry
// is absolute or contains an upward traversal segment.
func safeJoin(root, name string) (string, bool) {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", false
	}
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", false
		}
	}

	dest := filepath.Join(root, filepath.FromSlash(name))
	if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
		return "", false
	}
	return dest, true
}

// withinRoot reports whether p, after resolving every symlink on the part
// of it that already exists, still lies below root. Missing trailing
// components are checked through their nearest existing ancestor.
func withinRoot(root, p string) bool {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	for {
		if _, err := os.Lstat(p); err == nil {
			resolved, err := filepath.EvalSymlinks(p)
			if err != nil {
				return false
			}
			return resolved == realRoot || strings.HasPrefix(resolved, realRoot+string(os.PathSeparator))
		} else if !os.IsNotExist(err) {
			return false
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
}

func (r *RestoreEngine) extract(ctx context.Context, path, target string, report *RestoreReport) error {
	root, err := filepath.Abs(target)
	if err != nil {
		return errors.NewRestoreError(fmt.Sprintf("invalid target %s", target), err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.NewRestoreError(fmt.Sprintf("failed to create target %s", root), err)
	}

	streamErr := walkArchive(ctx, path, func(hdr *tar.Header, tr *tar.Reader) error {
		dest, ok := safeJoin(root, hdr.Name)
		if ok {
			ok = withinRoot(root, filepath.Dir(dest))
		}
		if !ok {
			report.Rejected = append(report.Rejected, hdr.Name)
			r.logger.WithField("entry", hdr.Name).Warn("Rejected archive entry outside the target directory")
			return nil
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				report.Failed = append(report.Failed, EntryError{Name: hdr.Name, Err: err})
			}
			return nil
		case tar.TypeReg:
			if err := writeEntryFile(dest, hdr, tr); err != nil {
				report.Failed = append(report.Failed, EntryError{Name: hdr.Name, Err: err})
				return nil
			}
			report.Extracted = append(report.Extracted, hdr.Name)
			return nil
		case tar.TypeSymlink, tar.TypeLink:
			report.Rejected = append(report.Rejected, hdr.Name)
			return nil
		}
		// other entry types are never written by the archive builder
		return nil
	})

	if streamErr != nil {
		report.Failed = append(report.Failed, EntryError{Name: filepath.Base(path), Err: streamErr})
	}

	if len(report.Failed) > 0 || len(report.Rejected) > 0 {
		return errors.NewRestoreError(
			fmt.Sprintf("restore incomplete: %d extracted, %d failed, %d rejected",
				len(report.Extracted), len(report.Failed), len(report.Rejected)), streamErr)
	}

	r.logger.WithFields(map[string]interface{}{
		"archive":   filepath.Base(path),
		"target":    root,
		"extracted": len(report.Extracted),
	}).Info("Archive restored")
	return nil
}

func writeEntryFile(dest string, hdr *tar.Header, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	// an existing symlink is replaced, never written through
	if info, err := os.Lstat(dest); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dest); err != nil {
			return err
		}
	}

	mode := os.FileMode(hdr.Mode).Perm()
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if !hdr.ModTime.IsZero() {
		os.Chtimes(dest, hdr.ModTime, hdr.ModTime)
	}
	return nil
}
