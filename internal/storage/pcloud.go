package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"zesty-backup/internal/errors"
)

const (
	pcloudAPI   = "https://api.pcloud.com"
	pcloudEUAPI = "https://eapi.pcloud.com"
)

// PCloudGateway stores objects in one pCloud folder. The API answers HTTP
// 200 for most failures and reports them in the result field.
type PCloudGateway struct {
	rest   *restClient
	base   string
	token  string
	folder string
}

type pcloudResult struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

type pcloudEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	IsFolder bool   `json:"isfolder"`
	FileID   int64  `json:"fileid"`
}

// NewPCloudGateway selects the EU host when storage.region is "eu" or
// "europe". The folder path comes from storage.bucket_id, "/" when empty.
func NewPCloudGateway(cfg Config, client *http.Client) (*PCloudGateway, error) {
	if cfg.AccessKey == "" {
		return nil, errors.NewConfigError("pcloud requires an access token in storage.access_key", nil)
	}

	base := pcloudAPI
	switch strings.ToLower(cfg.Region) {
	case "eu", "europe":
		base = pcloudEUAPI
	}
	if cfg.Endpoint != "" {
		base = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	folder := "/" + strings.Trim(cfg.BucketID, "/")
	return &PCloudGateway{
		rest:   newRestClient("pcloud", "", client),
		base:   base,
		token:  cfg.AccessKey,
		folder: folder,
	}, nil
}

// Name implements Gateway
func (g *PCloudGateway) Name() string { return "pcloud" }

func (g *PCloudGateway) path(name string) string {
	return path.Join(g.folder, BaseName(name))
}

func (g *PCloudGateway) url(method string, params url.Values) string {
	params.Set("access_token", g.token)
	return fmt.Sprintf("%s/%s?%s", g.base, method, params.Encode())
}

// pcloudStatus is implemented by every response type embedding pcloudResult
type pcloudStatus interface {
	status() pcloudResult
}

func (r pcloudResult) status() pcloudResult { return r }

// call runs one API method and checks the result code
func (g *PCloudGateway) call(ctx context.Context, req request, out pcloudStatus) error {
	if out == nil {
		out = &pcloudResult{}
	}
	if err := g.rest.doJSON(ctx, req, out); err != nil {
		return err
	}
	return pcloudError(out.status())
}

// pcloudError maps result codes onto HTTP statuses for classification
func pcloudError(res pcloudResult) error {
	if res.Result == 0 {
		return nil
	}
	status := http.StatusBadRequest
	switch res.Result {
	case 2002, 2005, 2009:
		status = http.StatusNotFound
	case 1000, 2000, 2003, 2094, 2095:
		status = http.StatusUnauthorized
	case 4000:
		status = http.StatusTooManyRequests
	case 5000, 5001:
		status = http.StatusInternalServerError
	}
	return &errors.HTTPStatusError{
		StatusCode: status,
		Status:     fmt.Sprintf("pcloud result %d", res.Result),
		Body:       res.Error,
	}
}

// Put creates the folder when missing, then uploads with PUT. pCloud
// overwrites an existing file of the same name.
func (g *PCloudGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	if g.folder != "/" {
		err := g.call(ctx, request{
			method: http.MethodGet,
			url:    g.url("createfolderifnotexists", url.Values{"path": {g.folder}}),
		}, nil)
		if err != nil {
			return "", providerError(g.Name(), "put", name, err)
		}
	}

	var resp struct {
		pcloudResult
		Metadata []pcloudEntry `json:"metadata"`
	}
	err := g.call(ctx, request{
		method: http.MethodPut,
		url: g.url("uploadfile", url.Values{
			"path":      {g.folder},
			"filename":  {BaseName(name)},
			"nopartial": {"1"},
		}),
		body:    body,
		length:  size,
		headers: map[string]string{"Content-Type": "application/octet-stream"},
	}, &resp)
	if err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	if len(resp.Metadata) == 0 {
		return g.path(name), nil
	}
	return fmt.Sprint(resp.Metadata[0].FileID), nil
}

// Get resolves a download link and streams from the first content host
func (g *PCloudGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	var link struct {
		pcloudResult
		Path  string   `json:"path"`
		Hosts []string `json:"hosts"`
	}
	err := g.call(ctx, request{
		method: http.MethodGet,
		url:    g.url("getfilelink", url.Values{"path": {g.path(name)}}),
	}, &link)
	if err != nil {
		return nil, providerError(g.Name(), "get", name, err)
	}
	if len(link.Hosts) == 0 {
		return nil, errors.NewPermanentProviderError("pcloud returned no download host", nil)
	}

	scheme := "https"
	if u, err := url.Parse(g.base); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	resp, err := g.rest.do(ctx, request{method: http.MethodGet, url: scheme + "://" + link.Hosts[0] + link.Path})
	if err != nil {
		return nil, providerError(g.Name(), "get", name, err)
	}
	return resp.Body, nil
}

// List reads the folder in a single call; listfolder is not paginated. A
// missing folder is an empty listing.
func (g *PCloudGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var listing struct {
		pcloudResult
		Metadata struct {
			Contents []pcloudEntry `json:"contents"`
		} `json:"metadata"`
	}
	err := g.call(ctx, request{
		method: http.MethodGet,
		url:    g.url("listfolder", url.Values{"path": {g.folder}}),
	}, &listing)
	if err != nil {
		wrapped := providerError(g.Name(), "list", prefix, err)
		if IsNotFound(wrapped) {
			return nil, nil
		}
		return nil, wrapped
	}

	var objects []ObjectInfo
	for _, entry := range listing.Metadata.Contents {
		if entry.IsFolder {
			continue
		}
		key := Key(entry.Name)
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, ObjectInfo{Name: key, Size: entry.Size, ModTime: parseTime(entry.Modified)})
		}
	}
	return objects, nil
}

// Delete implements Gateway
func (g *PCloudGateway) Delete(ctx context.Context, name string) error {
	err := g.call(ctx, request{
		method: http.MethodGet,
		url:    g.url("deletefile", url.Values{"path": {g.path(name)}}),
	}, nil)
	if err != nil {
		return providerError(g.Name(), "delete", name, err)
	}
	return nil
}
