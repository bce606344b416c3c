package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
	"zesty-backup/internal/storage"
)

// maxManifestSize bounds how much of a remote sidecar is read
const maxManifestSize = 1 << 20

// LocalCatalog lists the archives in the local backup directory. The
// directory contents are the source of truth: every finalized archive is an
// entry, described by its sidecar when one exists.
type LocalCatalog struct {
	Dir    string
	Logger *logging.Logger
}

// NewLocalCatalog creates a catalog over dir
func NewLocalCatalog(dir string, logger *logging.Logger) *LocalCatalog {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LocalCatalog{Dir: dir, Logger: logger}
}

// Scope implements Catalog
func (c *LocalCatalog) Scope() string { return "local" }

// List returns every finalized archive, newest first. A missing directory is
// an empty catalog.
func (c *LocalCatalog) List(ctx context.Context) ([]*ManifestEntry, error) {
	dirEntries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []*ManifestEntry
	for _, de := range dirEntries {
		if de.IsDir() || !IsArchiveName(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}

		entry, err := ReadManifest(c.Dir, de.Name())
		switch {
		case err == nil && entry.Name == de.Name():
			entry.Size = info.Size()
		case err != nil && os.IsNotExist(err):
			entry = StandaloneEntry(de.Name(), info.Size())
		default:
			c.Logger.WithField("archive", de.Name()).WithField("error", fmt.Sprint(err)).
				Warn("Ignoring unreadable manifest, treating archive as standalone")
			entry = StandaloneEntry(de.Name(), info.Size())
		}
		entries = append(entries, entry)
	}

	SortNewestFirst(entries)
	return entries, nil
}

// Delete removes the archive and its sidecar. Already missing files are not
// an error.
func (c *LocalCatalog) Delete(ctx context.Context, entry *ManifestEntry) error {
	if err := os.Remove(filepath.Join(c.Dir, entry.Name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(c.Dir, ManifestName(entry.Name))); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the absolute location of an archive in the catalog
func (c *LocalCatalog) Path(name string) string {
	return filepath.Join(c.Dir, filepath.Base(name))
}

// RemoteCatalog lists the archives stored through a gateway
type RemoteCatalog struct {
	Gateway storage.Gateway
	Logger  *logging.Logger
}

// NewRemoteCatalog creates a catalog over gw
func NewRemoteCatalog(gw storage.Gateway, logger *logging.Logger) *RemoteCatalog {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RemoteCatalog{Gateway: gw, Logger: logger}
}

// Scope implements Catalog
func (c *RemoteCatalog) Scope() string { return "remote" }

// List reads the remote listing and every remote sidecar
func (c *RemoteCatalog) List(ctx context.Context) ([]*ManifestEntry, error) {
	objects, err := c.Gateway.List(ctx, storage.KeyPrefix)
	if err != nil {
		return nil, err
	}

	archives := make(map[string]storage.ObjectInfo)
	manifests := make(map[string]bool)
	for _, obj := range objects {
		name := storage.BaseName(obj.Name)
		switch {
		case IsArchiveName(name):
			archives[name] = obj
		case IsManifestName(name):
			manifests[name] = true
		}
	}

	entries := make([]*ManifestEntry, 0, len(archives))
	for name, obj := range archives {
		entry := StandaloneEntry(name, obj.Size)
		if manifests[ManifestName(name)] {
			if remote, err := c.readManifest(ctx, name); err == nil && remote.Name == name {
				remote.Size = obj.Size
				entry = remote
			} else if err != nil {
				c.Logger.WithField("archive", name).WithField("error", err.Error()).
					Warn("Ignoring unreadable remote manifest")
			}
		}
		entries = append(entries, entry)
	}

	SortNewestFirst(entries)
	return entries, nil
}

func (c *RemoteCatalog) readManifest(ctx context.Context, archive string) (*ManifestEntry, error) {
	rc, err := c.Gateway.Get(ctx, storage.Key(ManifestName(archive)))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// Delete removes the remote archive and, when present, its sidecar
func (c *RemoteCatalog) Delete(ctx context.Context, entry *ManifestEntry) error {
	if err := c.Gateway.Delete(ctx, storage.Key(entry.Name)); err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
		return err
	}
	if !entry.HasManifest {
		return nil
	}
	if err := c.Gateway.Delete(ctx, storage.Key(ManifestName(entry.Name))); err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
		return err
	}
	return nil
}
