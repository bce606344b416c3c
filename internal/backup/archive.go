package backup

import (
	"archive/tar"
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// countingWriter counts bytes and remembers the first write error so that
// output failures can be told apart from input failures.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

// ArchiveBuilder streams scanned files and extra entries into one compressed
// tar archive.
type ArchiveBuilder struct {
	logger *logging.Logger
}

// NewArchiveBuilder creates an archive builder
func NewArchiveBuilder(logger *logging.Logger) *ArchiveBuilder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ArchiveBuilder{logger: logger}
}

// archiveWriter holds the writer chain of one build:
// tar -> codec -> (file + blake2b)
type archiveWriter struct {
	file   *os.File
	output *countingWriter
	codec  io.WriteCloser
	input  *countingWriter
	tar    *tar.Writer
	digest hash.Hash
}

// Build writes the archive described by req into req.Dest. The archive is
// written under a .partial name and renamed only once complete; on failure
// the partial file is removed. An invalid compression level is rejected
// before any file is created.
func (b *ArchiveBuilder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	start := time.Now()

	codec, err := ResolveCodec(req.Format, req.Level)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to create backup directory %s", req.Dest), err)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := ArchiveName(ts, codec)
	finalPath := filepath.Join(req.Dest, name)
	partialPath := finalPath + PartialSuffix

	if _, err := os.Stat(finalPath); err == nil {
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("archive %s already exists", name), nil)
	}

	file, err := os.OpenFile(partialPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to create %s", partialPath), err)
	}

	digest, err := blake2b.New256(nil)
	if err != nil {
		file.Close()
		os.Remove(partialPath)
		return nil, errors.NewArchiveBuildError("failed to initialize digest", err)
	}

	aw := &archiveWriter{file: file, digest: digest}
	aw.output = &countingWriter{w: io.MultiWriter(file, digest)}
	aw.codec, err = codec.NewWriter(aw.output, req.Level)
	if err != nil {
		file.Close()
		os.Remove(partialPath)
		return nil, err
	}
	aw.input = &countingWriter{w: aw.codec}
	aw.tar = tar.NewWriter(aw.input)

	result := &BuildResult{
		Name:   name,
		Path:   finalPath,
		Format: codec.Format(),
	}

	finalized := false
	defer func() {
		if !finalized {
			aw.file.Close()
			os.Remove(partialPath)
		}
	}()

	for _, src := range req.Sources {
		if src.Scanner == nil {
			continue
		}
		err := src.Scanner.Scan(ctx, func(f ScannedFile) error {
			return b.addFile(aw, src.Prefix, f, result)
		})
		result.Warnings = append(result.Warnings, src.Scanner.Warnings()...)
		if err != nil {
			return nil, b.abortError(ctx, err)
		}
	}

	for _, extra := range req.Extras {
		if err := ctx.Err(); err != nil {
			return nil, b.abortError(ctx, err)
		}
		if err := b.addExtra(aw, extra, ts, result); err != nil {
			return nil, b.abortError(ctx, err)
		}
	}

	if err := aw.tar.Close(); err != nil {
		return nil, errors.NewArchiveBuildError("failed to finish tar stream", err)
	}
	if err := aw.codec.Close(); err != nil {
		return nil, errors.NewArchiveBuildError("failed to flush compressed stream", err)
	}
	if err := aw.file.Sync(); err != nil {
		return nil, errors.NewArchiveBuildError("failed to sync archive", err)
	}
	if err := aw.file.Close(); err != nil {
		return nil, errors.NewArchiveBuildError("failed to close archive", err)
	}
	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to finalize %s", name), err)
	}
	finalized = true

	result.Size = aw.output.n
	result.BytesIn = aw.input.n
	result.Digest = hex.EncodeToString(aw.digest.Sum(nil))
	result.Duration = time.Since(start)

	b.logger.WithFields(map[string]interface{}{
		"archive":        name,
		"files":          result.FileCount,
		"size":           result.Size,
		"ratio":          fmt.Sprintf("%.2f", result.CompressionRatio()),
		"warnings":       len(result.Warnings),
		"extra_failures": len(result.ExtraFailures),
	}).Debug("Archive finalized")

	return result, nil
}

// abortError keeps scan and build errors as they are and classifies
// cancellation
func (b *ArchiveBuilder) abortError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.WrapError(ctx.Err(), "archive build aborted")
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errors.NewArchiveBuildError("archive build failed", err)
}

// addFile copies one scanned file into the archive. Files that vanished or
// became unreadable since the scan are recorded as warnings; any failure
// writing the archive itself is fatal.
func (b *ArchiveBuilder) addFile(aw *archiveWriter, prefix string, f ScannedFile, result *BuildResult) error {
	src, err := os.Open(f.Path)
	if err != nil {
		result.Warnings = append(result.Warnings, ScanWarning{Path: f.Path, Err: err})
		return nil
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		result.Warnings = append(result.Warnings, ScanWarning{Path: f.Path, Err: err})
		return nil
	}

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path.Join(prefix, f.RelPath),
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
	}

	short, err := b.writeEntry(aw, header, src)
	if err != nil {
		return err
	}
	if short != nil {
		result.Warnings = append(result.Warnings, ScanWarning{Path: f.Path, Err: short})
	}
	result.FileCount++
	return nil
}

// addExtra writes an injected stream. Failures to produce the stream are
// recorded per entry and never abort the build.
func (b *ArchiveBuilder) addExtra(aw *archiveWriter, extra ExtraEntry, ts time.Time, result *BuildResult) error {
	rc, size, err := extra.Open()
	if err != nil {
		result.ExtraFailures = append(result.ExtraFailures, EntryError{Name: extra.Name, Err: err})
		b.logger.WithField("entry", extra.Name).WithField("error", err.Error()).Warn("Skipping archive entry")
		return nil
	}
	defer rc.Close()

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path.Clean(extra.Name),
		Size:     size,
		Mode:     0o644,
		ModTime:  ts,
	}

	short, err := b.writeEntry(aw, header, rc)
	if err != nil {
		return err
	}
	if short != nil {
		result.ExtraFailures = append(result.ExtraFailures, EntryError{Name: extra.Name, Err: short})
	}
	result.FileCount++
	return nil
}

// writeEntry streams exactly header.Size bytes. If the source ends early or
// fails to read, the entry is zero padded and the read error is returned as
// short; a returned err means the archive output itself failed.
func (b *ArchiveBuilder) writeEntry(aw *archiveWriter, header *tar.Header, src io.Reader) (short error, err error) {
	if err := aw.tar.WriteHeader(header); err != nil {
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to write header for %s", header.Name), err)
	}

	n, copyErr := io.CopyN(aw.tar, src, header.Size)
	if copyErr == nil {
		return nil, nil
	}
	if aw.input.err != nil || aw.output.err != nil {
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to write %s", header.Name), copyErr)
	}

	if _, err := io.CopyN(aw.tar, zeroReader{}, header.Size-n); err != nil {
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to pad %s", header.Name), err)
	}
	if copyErr == io.EOF {
		copyErr = fmt.Errorf("file shrank from %d to %d bytes while archiving", header.Size, n)
	}
	return copyErr, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
