package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
	"zesty-backup/internal/storage"
)

// DefaultUploadWorkers bounds concurrent uploads
const DefaultUploadWorkers = 3

// Uploader moves local archives and their sidecars to remote storage
type Uploader struct {
	gateway  storage.Gateway
	catalog  *LocalCatalog
	inFlight *InFlight
	workers  int
	logger   *logging.Logger
}

// NewUploader creates an uploader for the archives in localDir
func NewUploader(gateway storage.Gateway, localDir string, inFlight *InFlight, workers int, logger *logging.Logger) *Uploader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if inFlight == nil {
		inFlight = NewInFlight()
	}
	if workers <= 0 {
		workers = DefaultUploadWorkers
	}
	return &Uploader{
		gateway:  gateway,
		catalog:  NewLocalCatalog(localDir, logger),
		inFlight: inFlight,
		workers:  workers,
		logger:   logger,
	}
}

// uploadJob is one local file and the remote size it already has, or -1
type uploadJob struct {
	name       string
	path       string
	size       int64
	remoteSize int64
}

// UploadPending uploads every local archive and sidecar that is missing
// remotely or differs in size. Each upload succeeds or fails on its own;
// failures are listed in the report and make the returned error non-nil.
func (u *Uploader) UploadPending(ctx context.Context) (*UploadReport, error) {
	report := &UploadReport{}

	entries, err := u.catalog.List(ctx)
	if err != nil {
		return report, errors.NewArchiveBuildError("failed to list local archives", err)
	}
	if len(entries) == 0 {
		u.logger.WithContext(ctx).Info("No local archives to upload")
		return report, nil
	}

	objects, err := u.gateway.List(ctx, storage.KeyPrefix)
	if err != nil {
		return report, err
	}
	remote := make(map[string]int64, len(objects))
	for _, obj := range objects {
		remote[storage.BaseName(obj.Name)] = obj.Size
	}

	var jobs []uploadJob
	for _, entry := range entries {
		names := []string{entry.Name}
		if entry.HasManifest {
			names = append(names, ManifestName(entry.Name))
		}
		for _, name := range names {
			p := u.catalog.Path(name)
			info, err := os.Stat(p)
			if err != nil {
				report.Failed = append(report.Failed, EntryError{Name: name, Err: err})
				continue
			}
			size, ok := remote[name]
			if !ok {
				size = -1
			}
			jobs = append(jobs, uploadJob{name: name, path: p, size: info.Size(), remoteSize: size})
		}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(u.workers)

	for _, job := range jobs {
		if job.remoteSize == job.size {
			report.Skipped = append(report.Skipped, job.name)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		job := job
		g.Go(func() error {
			err := u.uploadFile(ctx, job.name, job.path, job.size)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, EntryError{Name: job.name, Err: err})
				return nil
			}
			report.Uploaded = append(report.Uploaded, job.name)
			report.Bytes += job.size
			return nil
		})
	}
	g.Wait()

	sort.Strings(report.Uploaded)
	sort.Strings(report.Skipped)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })

	u.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"uploaded": len(report.Uploaded),
		"skipped":  len(report.Skipped),
		"failed":   len(report.Failed),
		"bytes":    report.Bytes,
	}).Info("Upload cycle finished")

	if err := ctx.Err(); err != nil {
		return report, errors.WrapError(err, "upload cycle interrupted")
	}
	if len(report.Failed) > 0 {
		first := report.Failed[0]
		return report, errors.NewPermanentProviderError(
			fmt.Sprintf("%d of %d uploads failed", len(report.Failed), len(report.Failed)+len(report.Uploaded)), first).
			WithContext("provider", u.gateway.Name())
	}
	return report, nil
}

// UploadFile uploads a single local archive and, when present, its sidecar
func (u *Uploader) UploadFile(ctx context.Context, path string) (*UploadReport, error) {
	report := &UploadReport{}
	name := filepath.Base(path)
	if !IsArchiveName(name) {
		return report, errors.NewConfigError(fmt.Sprintf("%s is not a backup archive", name), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return report, errors.WrapError(err, fmt.Sprintf("cannot read %s", path))
	}
	if err := u.uploadFile(ctx, name, path, info.Size()); err != nil {
		return report, err
	}
	report.Uploaded = append(report.Uploaded, name)
	report.Bytes += info.Size()

	sidecar := filepath.Join(filepath.Dir(path), ManifestName(name))
	if info, err := os.Stat(sidecar); err == nil {
		if err := u.uploadFile(ctx, ManifestName(name), sidecar, info.Size()); err != nil {
			report.Failed = append(report.Failed, EntryError{Name: ManifestName(name), Err: err})
			return report, err
		}
		report.Uploaded = append(report.Uploaded, ManifestName(name))
		report.Bytes += info.Size()
	}
	return report, nil
}

func (u *Uploader) uploadFile(ctx context.Context, name, path string, size int64) error {
	release := u.inFlight.Acquire(name)
	defer release()

	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("cannot open %s", path))
	}
	defer f.Close()

	_, err = u.gateway.Put(ctx, storage.Key(name), f, size)
	u.logger.LogUpload(ctx, name, u.gateway.Name(), size, time.Since(start), err)
	return err
}

// Download fetches a remote archive and its sidecar into destDir. The
// archive is written under a .partial name and renamed when complete.
func Download(ctx context.Context, gateway storage.Gateway, name, destDir string, logger *logging.Logger) (string, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	name = storage.BaseName(name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.WrapError(err, fmt.Sprintf("failed to create %s", destDir))
	}

	dest := filepath.Join(destDir, name)
	if err := fetch(ctx, gateway, name, dest); err != nil {
		return "", err
	}

	if IsArchiveName(name) {
		err := fetch(ctx, gateway, ManifestName(name), filepath.Join(destDir, ManifestName(name)))
		if err != nil && !storage.IsNotFound(err) {
			logger.WithContext(ctx).WithField("archive", name).WithField("error", err.Error()).
				Warn("Failed to download manifest")
		}
	}

	logger.WithContext(ctx).WithField("archive", name).WithField("path", dest).Info("Downloaded archive")
	return dest, nil
}

func fetch(ctx context.Context, gateway storage.Gateway, name, dest string) error {
	body, err := gateway.Get(ctx, storage.Key(name))
	if err != nil {
		return err
	}
	defer body.Close()

	partial := dest + PartialSuffix
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to create %s", partial))
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(partial)
		return errors.WrapError(err, fmt.Sprintf("failed to download %s", name))
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return errors.WrapError(err, fmt.Sprintf("failed to write %s", dest))
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return errors.WrapError(err, fmt.Sprintf("failed to finalize %s", dest))
	}
	return nil
}
