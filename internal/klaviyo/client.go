// Package klaviyo implements the HTTP transport for the Klaviyo reporting
// API.
package klaviyo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/metriclens/metriclens/internal/core/engine"
)

// DefaultRevision is the API revision sent with every request.
const DefaultRevision = "2024-10-15"

const maxBodyBytes = 4 << 20

// Client issues authenticated GET requests against the Klaviyo API. It
// implements engine.Transport; retry, classification, and rate limiting
// live in the executor, not here.
type Client struct {
	APIKey     string
	BaseURL    string
	Revision   string
	HTTPClient *http.Client
	UserAgent  string
}

// Do performs a single GET against the named endpoint with the supplied
// query parameters.
func (c *Client) Do(ctx context.Context, endpoint string, params map[string]string) (*engine.Response, error) {
	if c == nil || c.APIKey == "" {
		return nil, errors.New("klaviyo client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	base := c.baseURL()
	target := base.JoinPath(strings.Trim(endpoint, "/"))
	if len(params) > 0 {
		query := url.Values{}
		for key, value := range params {
			query.Set(key, value)
		}
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.APIKey)
	req.Header.Set("Revision", c.revision())
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	return &engine.Response{
		Status: resp.StatusCode,
		Body:   body,
		Header: resp.Header,
	}, nil
}

func (c *Client) baseURL() *url.URL {
	if c != nil && c.BaseURL != "" {
		if parsed, err := url.Parse(c.BaseURL); err == nil {
			return parsed
		}
	}
	parsed, _ := url.Parse("https://a.klaviyo.com/api")
	return parsed
}

func (c *Client) revision() string {
	if c != nil && c.Revision != "" {
		return c.Revision
	}
	return DefaultRevision
}
