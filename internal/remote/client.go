// Package remote fetches raw deputy and ballot records from the public open-data API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hemicycle/internal/models"
)

const defaultUserAgent = "hemicycle/1.0 (+https://data.assemblee-nationale.fr)"

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 8 << 20

// Client talks to the remote API. It returns raw records; shaping them is the
// caller's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a new API client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: defaultUserAgent,
	}
}

// FetchDetail fetches one deputy's raw detail record. A 404 yields an error
// matching ErrNotFound.
func (c *Client) FetchDetail(ctx context.Context, id, legislature string) (models.RawRecord, error) {
	return c.getRecord(ctx, id, "/deputes/"+url.PathEscape(id), legislature)
}

// FetchBallot fetches one scrutin with its per-group breakdowns.
func (c *Client) FetchBallot(ctx context.Context, id, legislature string) (models.RawRecord, error) {
	return c.getRecord(ctx, id, "/scrutins/"+url.PathEscape(id), legislature)
}

func (c *Client) getRecord(ctx context.Context, id, path, legislature string) (models.RawRecord, error) {
	endpoint := c.baseURL + path
	if legislature != "" {
		endpoint += "?" + url.Values{"legislature": {legislature}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewLookupError("request", id, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewLookupError("transport", id, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewLookupError("status", id, resp.StatusCode, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, NewLookupError("status", id, resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, NewLookupError("read", id, resp.StatusCode, err)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, NewLookupError("decode", id, resp.StatusCode, err)
	}

	// some endpoints answer with a one-element array
	switch v := decoded.(type) {
	case map[string]any:
		return v, nil
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				return m, nil
			}
		}
		return nil, NewLookupError("decode", id, resp.StatusCode, ErrNotFound)
	default:
		return nil, NewLookupError("decode", id, resp.StatusCode, fmt.Errorf("unexpected payload type %T", decoded))
	}
}
