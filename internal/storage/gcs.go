package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"zesty-backup/internal/errors"
)

// GCSGateway stores objects in a Google Cloud Storage bucket
type GCSGateway struct {
	client *gcs.Client
	bucket string
}

// NewGCSGateway creates a client from a service account file, or from the
// application default credentials when no path is configured. Extra options
// are passed to the client, e.g. to point it at an emulator.
func NewGCSGateway(ctx context.Context, cfg Config, opts ...option.ClientOption) (*GCSGateway, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewConfigError("gcs requires storage.bucket", nil)
	}
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.NewConfigError("failed to create GCS client", err)
	}
	return &GCSGateway{client: client, bucket: cfg.Bucket}, nil
}

// Name implements Gateway
func (g *GCSGateway) Name() string { return "gcs" }

// Close releases the client
func (g *GCSGateway) Close() error {
	return g.client.Close()
}

// Put implements Gateway. Writing an existing name replaces the object.
func (g *GCSGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	key := Key(name)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return "", g.wrap("put", key, err)
	}
	if err := w.Close(); err != nil {
		return "", g.wrap("put", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

// Get implements Gateway
func (g *GCSGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key := Key(name)
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, g.wrap("get", key, err)
	}
	return r, nil
}

// List drains the object iterator
func (g *GCSGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, g.wrap("list", prefix, err)
		}
		objects = append(objects, ObjectInfo{Name: attrs.Name, Size: attrs.Size, ModTime: attrs.Updated})
	}
	return objects, nil
}

// Delete implements Gateway
func (g *GCSGateway) Delete(ctx context.Context, name string) error {
	key := Key(name)
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return g.wrap("delete", key, err)
	}
	return nil
}

func (g *GCSGateway) wrap(op, key string, err error) error {
	return providerError(g.Name(), op, key, classifyGoogleError(err))
}

// classifyGoogleError maps Google API failures onto HTTP status errors.
// Shared with the Drive adapter.
func classifyGoogleError(err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return errors.NewAppError(errors.ErrorTypeNotFound, "object does not exist", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &errors.HTTPStatusError{StatusCode: apiErr.Code, Status: apiErr.Message, Body: apiErr.Body}
	}
	return err
}
