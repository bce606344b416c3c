package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"zesty-backup/internal/errors"
)

const (
	azureBufferSize = 4 * 1024 * 1024
	azureMaxBuffers = 4
)

// AzureGateway stores objects as block blobs in one container
type AzureGateway struct {
	container azblob.ContainerURL
	name      string
}

// NewAzureGateway authenticates with a shared key. The container comes from
// storage.bucket; storage.endpoint overrides the service URL, e.g. for
// Azurite.
func NewAzureGateway(cfg Config) (*AzureGateway, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, errors.NewConfigError("azure requires storage.account_name and storage.account_key", nil)
	}
	if cfg.Bucket == "" {
		return nil, errors.NewConfigError("azure requires storage.bucket (container name)", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, errors.NewConfigError("invalid azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{
		// The gateway retries on its own
		Retry: azblob.RetryOptions{MaxTries: 1},
	})

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	serviceURL, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, errors.NewConfigError("invalid azure endpoint", err)
	}

	return &AzureGateway{
		container: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.Bucket),
		name:      "azure",
	}, nil
}

// Name implements Gateway
func (g *AzureGateway) Name() string { return g.name }

// Put streams body in fixed size blocks; committing the block list replaces
// any existing blob.
func (g *AzureGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	key := Key(name)
	blob := g.container.NewBlockBlobURL(key)
	_, err := azblob.UploadStreamToBlockBlob(ctx, body, blob, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: azureBufferSize,
		MaxBuffers: azureMaxBuffers,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", g.wrap("put", key, err)
	}
	u := blob.URL()
	return u.String(), nil
}

// Get implements Gateway
func (g *AzureGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key := Key(name)
	blob := g.container.NewBlobURL(key)
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, g.wrap("get", key, err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

// List follows the continuation marker until it is exhausted
func (g *AzureGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := g.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, g.wrap("list", prefix, err)
		}
		marker = resp.NextMarker

		for _, item := range resp.Segment.BlobItems {
			info := ObjectInfo{Name: item.Name, ModTime: item.Properties.LastModified}
			if item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

// Delete implements Gateway
func (g *AzureGateway) Delete(ctx context.Context, name string) error {
	key := Key(name)
	_, err := g.container.NewBlobURL(key).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		return g.wrap("delete", key, err)
	}
	return nil
}

func (g *AzureGateway) wrap(op, key string, err error) error {
	var storageErr azblob.StorageError
	if errors.As(err, &storageErr) {
		if storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound || storageErr.ServiceCode() == azblob.ServiceCodeContainerNotFound {
			err = errors.NewAppError(errors.ErrorTypeNotFound, string(storageErr.ServiceCode()), err)
		} else if resp := storageErr.Response(); resp != nil {
			err = &errors.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(storageErr.ServiceCode())}
		}
	}
	return providerError(g.name, op, key, err)
}
