package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zesty-backup/internal/errors"
)

const (
	oneDriveAPI = "https://graph.microsoft.com/v1.0"
	// Graph accepts single request uploads up to 4 MiB
	oneDriveSimpleLimit = 4 * 1024 * 1024
	// Session chunks must be a multiple of 320 KiB
	oneDriveChunkSize = 32 * 320 * 1024
)

// OneDriveGateway stores objects in one OneDrive folder via Microsoft Graph
type OneDriveGateway struct {
	rest     *restClient
	base     string
	folderID string
}

type oneDriveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	File                 *struct{} `json:"file"`
}

type oneDriveChildren struct {
	Value    []oneDriveItem `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// NewOneDriveGateway resolves the folder path in storage.bucket_id (default
// the drive root) to an item id. The access token comes from
// storage.access_key.
func NewOneDriveGateway(ctx context.Context, cfg Config, client *http.Client) (*OneDriveGateway, error) {
	if cfg.AccessKey == "" {
		return nil, errors.NewConfigError("onedrive requires an access token in storage.access_key", nil)
	}
	base := strings.TrimSuffix(cfg.Endpoint, "/")
	if base == "" {
		base = oneDriveAPI
	}

	g := &OneDriveGateway{rest: newRestClient("onedrive", cfg.AccessKey, client), base: base}

	folder := cfg.BucketID
	if folder == "" || folder == "/drive/root:" {
		folder = "/drive/root"
	}
	var item oneDriveItem
	if err := g.rest.doJSON(ctx, request{method: http.MethodGet, url: g.base + "/me" + folder}, &item); err != nil {
		return nil, providerError("onedrive", "resolve folder", folder, err)
	}
	g.folderID = item.ID
	return g, nil
}

// Name implements Gateway
func (g *OneDriveGateway) Name() string { return "onedrive" }

// itemURL addresses a file by name relative to the folder
func (g *OneDriveGateway) itemURL(name string) string {
	return fmt.Sprintf("%s/me/drive/items/%s:/%s:", g.base, g.folderID, url.PathEscape(BaseName(name)))
}

// Put uploads small files in one request and larger ones through an upload
// session. Both replace an existing file of the same name.
func (g *OneDriveGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	var item oneDriveItem
	if size <= oneDriveSimpleLimit {
		err := g.rest.doJSON(ctx, request{
			method:  http.MethodPut,
			url:     g.itemURL(name) + "/content?@microsoft.graph.conflictBehavior=replace",
			body:    body,
			length:  size,
			headers: map[string]string{"Content-Type": "application/octet-stream"},
		}, &item)
		if err != nil {
			return "", providerError(g.Name(), "put", name, err)
		}
		return item.ID, nil
	}

	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	err := g.rest.doJSON(ctx, request{
		method: http.MethodPost,
		url:    g.itemURL(name) + "/createUploadSession",
		json: map[string]interface{}{
			"item": map[string]string{"@microsoft.graph.conflictBehavior": "replace"},
		},
	}, &session)
	if err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}

	// The upload url is pre-authenticated and must not carry the token
	uploader := newRestClient(g.Name(), "", g.rest.http)
	for offset := int64(0); offset < size; offset += oneDriveChunkSize {
		n := int64(oneDriveChunkSize)
		if offset+n > size {
			n = size - offset
		}
		resp, err := uploader.do(ctx, request{
			method: http.MethodPut,
			url:    session.UploadURL,
			body:   io.LimitReader(body, n),
			length: n,
			headers: map[string]string{
				"Content-Range": fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, size),
			},
		})
		if err != nil {
			return "", providerError(g.Name(), "put", name, err)
		}
		if offset+n >= size {
			err = decodeJSON(resp, &item)
		} else {
			_, err = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if err != nil {
			return "", providerError(g.Name(), "put", name, err)
		}
	}
	return item.ID, nil
}

// Get follows the content redirect to the download url
func (g *OneDriveGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := g.rest.do(ctx, request{method: http.MethodGet, url: g.itemURL(name) + "/content"})
	if err != nil {
		return nil, providerError(g.Name(), "get", name, err)
	}
	return resp.Body, nil
}

// List follows @odata.nextLink until the folder is exhausted
func (g *OneDriveGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	next := fmt.Sprintf("%s/me/drive/items/%s/children?$top=200", g.base, g.folderID)
	for next != "" {
		var page oneDriveChildren
		if err := g.rest.doJSON(ctx, request{method: http.MethodGet, url: next}, &page); err != nil {
			return nil, providerError(g.Name(), "list", prefix, err)
		}
		for _, item := range page.Value {
			if item.File == nil {
				continue
			}
			key := Key(item.Name)
			if strings.HasPrefix(key, prefix) {
				objects = append(objects, ObjectInfo{Name: key, Size: item.Size, ModTime: item.LastModifiedDateTime})
			}
		}
		next = page.NextLink
	}
	return objects, nil
}

// Delete implements Gateway
func (g *OneDriveGateway) Delete(ctx context.Context, name string) error {
	if err := g.rest.doJSON(ctx, request{method: http.MethodDelete, url: g.itemURL(name)}, nil); err != nil {
		return providerError(g.Name(), "delete", name, err)
	}
	return nil
}
