package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"zesty-backup/internal/errors"
)

const (
	uploadTempPrefix = ".upload-"
	// staleUploadAge is how old a leftover temporary upload must be before
	// List removes it; younger ones may belong to a running upload
	staleUploadAge = time.Hour
)

// LocalGateway stores objects in a directory, typically a mounted network
// share. Object keys map onto relative paths below the directory.
type LocalGateway struct {
	root string
}

// NewLocalGateway creates the root directory if needed
func NewLocalGateway(root string) (*LocalGateway, error) {
	if root == "" {
		return nil, errors.NewConfigError("local storage requires storage.path", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, providerError("local", "mkdir", abs, err)
	}
	return &LocalGateway{root: abs}, nil
}

// Name implements Gateway
func (g *LocalGateway) Name() string { return "local" }

func (g *LocalGateway) path(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(g.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put writes a temporary file and renames it over the destination
func (g *LocalGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	dest, err := g.path(name)
	if err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), uploadTempPrefix+"*")
	if err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		return "", providerError(g.Name(), "put", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	return dest, nil
}

// Get implements Gateway
func (g *LocalGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	src, err := g.path(name)
	if err != nil {
		return nil, providerError(g.Name(), "get", name, err)
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(g.Name(), name)
		}
		return nil, providerError(g.Name(), "get", name, err)
	}
	return f, nil
}

// List walks the directory and returns every regular file whose key has
// the prefix. Stale temporary uploads found on the way are removed.
func (g *LocalGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := filepath.WalkDir(g.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), uploadTempPrefix) {
			g.removeStale(p, d)
			return nil
		}
		rel, err := filepath.Rel(g.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		objects = append(objects, ObjectInfo{Name: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, providerError(g.Name(), "list", prefix, err)
	}
	return objects, nil
}

// removeStale deletes a temporary upload left behind by a killed process
func (g *LocalGateway) removeStale(p string, d fs.DirEntry) {
	info, err := d.Info()
	if err != nil || time.Since(info.ModTime()) < staleUploadAge {
		return
	}
	os.Remove(p)
}

// Delete implements Gateway
func (g *LocalGateway) Delete(ctx context.Context, name string) error {
	p, err := g.path(name)
	if err != nil {
		return providerError(g.Name(), "delete", name, err)
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return notFound(g.Name(), name)
		}
		return providerError(g.Name(), "delete", name, err)
	}
	return nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
