package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// restClient is the bearer-token HTTP client shared by the folder adapters
type restClient struct {
	http     *http.Client
	token    string
	provider string
}

func newRestClient(provider, token string, client *http.Client) *restClient {
	if client == nil {
		client = &http.Client{}
	}
	return &restClient{http: client, token: token, provider: provider}
}

// request describes one API call
type request struct {
	method  string
	url     string
	body    io.Reader
	length  int64
	headers map[string]string
	// json is marshalled as the body when set
	json interface{}
}

// do sends req and returns the response when it is 2xx. Any other status is
// read, closed and returned as an *errors.HTTPStatusError.
func (c *restClient) do(ctx context.Context, req request) (*http.Response, error) {
	body := req.body
	if req.json != nil {
		data, err := json.Marshal(req.json)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
		req.length = int64(len(data))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, err
	}
	if req.length > 0 {
		httpReq.ContentLength = req.length
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.json != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp, data)
	}
	return resp, nil
}

// doJSON sends req and decodes the response into out, which may be nil
func (c *restClient) doJSON(ctx context.Context, req request, out interface{}) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		defer resp.Body.Close()
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := decodeJSON(resp, out); err != nil {
		return fmt.Errorf("%s: %w", c.provider, err)
	}
	return nil
}

// decodeJSON decodes and closes the response body
func decodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// parseTime accepts the timestamp layouts used by the REST providers
func parseTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
