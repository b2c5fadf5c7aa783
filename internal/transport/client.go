// Package transport is the blocking HTTP client used by the authentication
// flow. It returns raw status and body and leaves interpretation to callers.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes limits the size of responses read from the identity
// services.
const maxResponseBytes = 1 << 20 // 1 MB

// DefaultUserAgent is sent when Client.UserAgent is empty.
const DefaultUserAgent = "xboxauth/1.0"

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is in [200,300).
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client performs requests against the identity services.
type Client struct {
	HTTPClient *http.Client // Optional; a dedicated client with a 30s timeout is used if nil
	UserAgent  string
}

// New returns a Client with its own transport.
func New() *Client {
	return &Client{
		HTTPClient: &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
			Timeout:   30 * time.Second,
		},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// PostForm sends form as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) (*Response, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Accept", "application/json")
	return c.do(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()), h)
}

// Post sends body as-is with the given headers.
func (c *Client) Post(ctx context.Context, endpoint string, body []byte, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), header)
}

// PostJSON sends body with a JSON content type unless header overrides it.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body []byte, header http.Header) (*Response, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	return c.Post(ctx, endpoint, body, h)
}

// Get issues a GET with query merged into the endpoint's query string.
func (c *Client) Get(ctx context.Context, endpoint string, header http.Header, query url.Values) (*Response, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return c.do(ctx, http.MethodGet, u.String(), nil, header)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		// url.Error repeats the full URL, query included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%s %s: %w", method, redactQuery(endpoint), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// redactQuery drops the query string, which can carry device codes.
func redactQuery(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
