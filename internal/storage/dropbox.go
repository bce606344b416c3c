package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"unicode/utf16"

	"zesty-backup/internal/errors"
)

const (
	dropboxAPI     = "https://api.dropboxapi.com/2"
	dropboxContent = "https://content.dropboxapi.com/2"
	// files/upload accepts at most 150 MiB per request
	dropboxSimpleLimit = 150 * 1024 * 1024
	dropboxChunkSize   = 64 * 1024 * 1024
)

// DropboxGateway stores objects in one Dropbox folder
type DropboxGateway struct {
	rest    *restClient
	api     string
	content string
	folder  string
}

type dropboxListResult struct {
	Entries []map[string]interface{} `json:"entries"`
	Cursor  string                   `json:"cursor"`
	HasMore bool                     `json:"has_more"`
}

// NewDropboxGateway scopes the gateway to the folder in storage.bucket_id,
// the app folder root when empty.
func NewDropboxGateway(cfg Config, client *http.Client) (*DropboxGateway, error) {
	if cfg.AccessKey == "" {
		return nil, errors.NewConfigError("dropbox requires an access token in storage.access_key", nil)
	}
	g := &DropboxGateway{
		rest:    newRestClient("dropbox", cfg.AccessKey, client),
		api:     dropboxAPI,
		content: dropboxContent,
	}
	if cfg.Endpoint != "" {
		g.api = strings.TrimSuffix(cfg.Endpoint, "/")
		g.content = g.api
	}

	folder := strings.Trim(cfg.BucketID, "/")
	if folder != "" {
		g.folder = "/" + folder
	}
	return g, nil
}

// Name implements Gateway
func (g *DropboxGateway) Name() string { return "dropbox" }

func (g *DropboxGateway) path(name string) string {
	return g.folder + "/" + BaseName(name)
}

// Put uses a single request up to 150 MiB and an upload session beyond.
// Both commit in overwrite mode.
func (g *DropboxGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	commit := map[string]interface{}{
		"path":       g.path(name),
		"mode":       "overwrite",
		"autorename": false,
		"mute":       true,
	}

	var meta struct {
		ID string `json:"id"`
	}
	if size <= dropboxSimpleLimit {
		if err := g.upload(ctx, "/files/upload", commit, body, size, &meta); err != nil {
			return "", g.wrap("put", name, err)
		}
		return meta.ID, nil
	}

	var session struct {
		SessionID string `json:"session_id"`
	}
	first := int64(dropboxChunkSize)
	if err := g.upload(ctx, "/files/upload_session/start", map[string]interface{}{"close": false},
		io.LimitReader(body, first), first, &session); err != nil {
		return "", g.wrap("put", name, err)
	}

	offset := first
	for size-offset > dropboxChunkSize {
		arg := map[string]interface{}{
			"cursor": map[string]interface{}{"session_id": session.SessionID, "offset": offset},
			"close":  false,
		}
		if err := g.upload(ctx, "/files/upload_session/append_v2", arg, io.LimitReader(body, dropboxChunkSize), dropboxChunkSize, nil); err != nil {
			return "", g.wrap("put", name, err)
		}
		offset += dropboxChunkSize
	}

	finish := map[string]interface{}{
		"cursor": map[string]interface{}{"session_id": session.SessionID, "offset": offset},
		"commit": commit,
	}
	if err := g.upload(ctx, "/files/upload_session/finish", finish, io.LimitReader(body, size-offset), size-offset, &meta); err != nil {
		return "", g.wrap("put", name, err)
	}
	return meta.ID, nil
}

// upload sends one content endpoint request with its argument header
func (g *DropboxGateway) upload(ctx context.Context, endpoint string, arg interface{}, body io.Reader, size int64, out interface{}) error {
	header, err := dropboxArg(arg)
	if err != nil {
		return err
	}
	return g.rest.doJSON(ctx, request{
		method: http.MethodPost,
		url:    g.content + endpoint,
		body:   body,
		length: size,
		headers: map[string]string{
			"Dropbox-API-Arg": header,
			"Content-Type":    "application/octet-stream",
		},
	}, out)
}

// Get implements Gateway
func (g *DropboxGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	header, err := dropboxArg(map[string]string{"path": g.path(name)})
	if err != nil {
		return nil, err
	}
	resp, err := g.rest.do(ctx, request{
		method:  http.MethodPost,
		url:     g.content + "/files/download",
		headers: map[string]string{"Dropbox-API-Arg": header},
	})
	if err != nil {
		return nil, g.wrap("get", name, err)
	}
	return resp.Body, nil
}

// List follows the cursor while has_more is set. A folder that does not
// exist yet is an empty listing.
func (g *DropboxGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	req := request{
		method: http.MethodPost,
		url:    g.api + "/files/list_folder",
		json:   map[string]interface{}{"path": g.folder, "limit": 2000},
	}
	for {
		var page dropboxListResult
		if err := g.rest.doJSON(ctx, req, &page); err != nil {
			wrapped := g.wrap("list", prefix, err)
			if IsNotFound(wrapped) {
				return objects, nil
			}
			return nil, wrapped
		}
		for _, raw := range page.Entries {
			if info, ok := dropboxObject(raw); ok && strings.HasPrefix(info.Name, prefix) {
				objects = append(objects, info)
			}
		}
		if !page.HasMore {
			return objects, nil
		}
		req = request{
			method: http.MethodPost,
			url:    g.api + "/files/list_folder/continue",
			json:   map[string]string{"cursor": page.Cursor},
		}
	}
}

func dropboxObject(raw map[string]interface{}) (ObjectInfo, bool) {
	if tag, _ := raw[".tag"].(string); tag != "file" {
		return ObjectInfo{}, false
	}
	name, _ := raw["name"].(string)
	size, _ := raw["size"].(float64)
	modified, _ := raw["server_modified"].(string)
	return ObjectInfo{Name: Key(path.Base(name)), Size: int64(size), ModTime: parseTime(modified)}, true
}

// Delete implements Gateway
func (g *DropboxGateway) Delete(ctx context.Context, name string) error {
	err := g.rest.doJSON(ctx, request{
		method: http.MethodPost,
		url:    g.api + "/files/delete_v2",
		json:   map[string]string{"path": g.path(name)},
	}, nil)
	if err != nil {
		return g.wrap("delete", name, err)
	}
	return nil
}

// wrap turns Dropbox's 409 path/not_found responses into not found errors
func (g *DropboxGateway) wrap(op, name string, err error) error {
	var statusErr *errors.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict && strings.Contains(statusErr.Body, "not_found") {
		err = errors.NewAppError(errors.ErrorTypeNotFound, fmt.Sprintf("%s not found", name), err)
	}
	return providerError(g.Name(), op, name, err)
}

// dropboxArg encodes v for the Dropbox-API-Arg header, which must be ASCII
func dropboxArg(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(data) {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		for _, unit := range utf16.Encode([]rune{r}) {
			fmt.Fprintf(&b, "\\u%04x", unit)
		}
	}
	return b.String(), nil
}
