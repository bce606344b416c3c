package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"zesty-backup/internal/errors"
)

const (
	boxAPI       = "https://api.box.com/2.0"
	boxUpload    = "https://upload.box.com/api/2.0"
	boxPageLimit = 1000
)

// BoxGateway stores objects in one Box folder
type BoxGateway struct {
	rest     *restClient
	api      string
	upload   string
	folderID string
}

type boxItem struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

type boxItems struct {
	TotalCount int       `json:"total_count"`
	Entries    []boxItem `json:"entries"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

// NewBoxGateway scopes the gateway to the folder id in storage.bucket_id,
// "0" (all files) when empty.
func NewBoxGateway(cfg Config, client *http.Client) (*BoxGateway, error) {
	if cfg.AccessKey == "" {
		return nil, errors.NewConfigError("box requires an access token in storage.access_key", nil)
	}
	g := &BoxGateway{
		rest:     newRestClient("box", cfg.AccessKey, client),
		api:      boxAPI,
		upload:   boxUpload,
		folderID: cfg.BucketID,
	}
	if g.folderID == "" {
		g.folderID = "0"
	}
	if cfg.Endpoint != "" {
		g.api = strings.TrimSuffix(cfg.Endpoint, "/")
		g.upload = g.api
	}
	return g, nil
}

// Name implements Gateway
func (g *BoxGateway) Name() string { return "box" }

// files pages through the folder with offset and limit
func (g *BoxGateway) files(ctx context.Context) ([]boxItem, error) {
	var files []boxItem
	for offset := 0; ; {
		query := url.Values{}
		query.Set("fields", "id,type,name,size,modified_at")
		query.Set("limit", fmt.Sprint(boxPageLimit))
		query.Set("offset", fmt.Sprint(offset))

		var page boxItems
		err := g.rest.doJSON(ctx, request{
			method: http.MethodGet,
			url:    fmt.Sprintf("%s/folders/%s/items?%s", g.api, g.folderID, query.Encode()),
		}, &page)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Entries {
			if item.Type == "file" {
				files = append(files, item)
			}
		}

		offset += len(page.Entries)
		if len(page.Entries) == 0 || offset >= page.TotalCount {
			return files, nil
		}
	}
}

// fileID returns the id of the named file or a not found error
func (g *BoxGateway) fileID(ctx context.Context, name string) (string, error) {
	files, err := g.files(ctx)
	if err != nil {
		return "", err
	}
	base := BaseName(name)
	for _, f := range files {
		if f.Name == base {
			return f.ID, nil
		}
	}
	return "", errors.NewAppError(errors.ErrorTypeNotFound, fmt.Sprintf("%s not found", base), nil)
}

// Put uploads a new version when the file exists, so names stay unique
func (g *BoxGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	base := BaseName(name)
	attributes := map[string]interface{}{"name": base}
	target := g.upload + "/files/content"

	id, err := g.fileID(ctx, name)
	switch {
	case err == nil:
		target = fmt.Sprintf("%s/files/%s/content", g.upload, id)
	case errors.IsType(err, errors.ErrorTypeNotFound):
		attributes["parent"] = map[string]string{"id": g.folderID}
	default:
		return "", providerError(g.Name(), "put", name, err)
	}

	head, tail, contentType, err := boxMultipart(base, attributes)
	if err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}

	var result boxItems
	err = g.rest.doJSON(ctx, request{
		method:  http.MethodPost,
		url:     target,
		body:    io.MultiReader(bytes.NewReader(head), body, bytes.NewReader(tail)),
		length:  int64(len(head)) + size + int64(len(tail)),
		headers: map[string]string{"Content-Type": contentType},
	}, &result)
	if err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	if len(result.Entries) == 0 {
		return "", errors.NewPermanentProviderError("box upload returned no file entry", nil)
	}
	return result.Entries[0].ID, nil
}

// boxMultipart renders the multipart envelope around the file content so
// the request length is known up front
func boxMultipart(name string, attributes map[string]interface{}) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	attrs, err := json.Marshal(attributes)
	if err != nil {
		return nil, nil, "", err
	}
	if err := mw.WriteField("attributes", string(attrs)); err != nil {
		return nil, nil, "", err
	}
	if _, err := mw.CreateFormFile("file", name); err != nil {
		return nil, nil, "", err
	}
	split := buf.Len()
	if err := mw.Close(); err != nil {
		return nil, nil, "", err
	}

	data := buf.Bytes()
	return data[:split], data[split:], mw.FormDataContentType(), nil
}

// Get implements Gateway
func (g *BoxGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	id, err := g.fileID(ctx, name)
	if err != nil {
		return nil, providerError(g.Name(), "get", name, err)
	}
	resp, err := g.rest.do(ctx, request{method: http.MethodGet, url: fmt.Sprintf("%s/files/%s/content", g.api, id)})
	if err != nil {
		return nil, providerError(g.Name(), "get", name, err)
	}
	return resp.Body, nil
}

// List implements Gateway
func (g *BoxGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	files, err := g.files(ctx)
	if err != nil {
		return nil, providerError(g.Name(), "list", prefix, err)
	}
	var objects []ObjectInfo
	for _, f := range files {
		key := Key(f.Name)
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, ObjectInfo{Name: key, Size: f.Size, ModTime: parseTime(f.ModifiedAt)})
		}
	}
	return objects, nil
}

// Delete implements Gateway
func (g *BoxGateway) Delete(ctx context.Context, name string) error {
	id, err := g.fileID(ctx, name)
	if err != nil {
		return providerError(g.Name(), "delete", name, err)
	}
	if err := g.rest.doJSON(ctx, request{method: http.MethodDelete, url: fmt.Sprintf("%s/files/%s", g.api, id)}, nil); err != nil {
		return providerError(g.Name(), "delete", name, err)
	}
	return nil
}
