// Package client talks to the core/pupils endpoint the way the data-entry
// page does: JSON POSTs with the session's cookies, redirects followed.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"pupilform-server-go/models"
)

// PupilsPath is the endpoint delivering the pupil dataset of a class
const PupilsPath = "core/pupils"

var (
	// ErrEncode is returned when the payload cannot be serialized
	ErrEncode = errors.New("cannot encode request payload")
	// ErrDecode is returned when the response body is not valid JSON
	ErrDecode = errors.New("response is not valid JSON")
)

// Client posts JSON to a base URL. HTTP status codes are not interpreted:
// every response body is decoded, so callers have to look at the body for
// application errors.
type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client
}

// New creates a client for the server at baseURL. The cookie jar keeps
// credentials per origin; a zero timeout means no timeout.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		BaseURL: u,
		HTTP:    &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	if c.BaseURL == nil {
		return u.String(), nil
	}
	return c.BaseURL.ResolveReference(u).String(), nil
}

// PostJSON serializes payload, posts it to ref (relative to the base URL)
// and decodes the response body into out. It fails on transport errors and
// on bodies that are not JSON, and never retries.
func (c *Client) PostJSON(ctx context.Context, ref string, payload, out interface{}) error {
	target, err := c.resolve(ref)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", target, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w (POST %s, status %d): %v", ErrDecode, target, resp.StatusCode, err)
	}
	return nil
}

// FetchPupils requests the dataset of a class in a school year
func (c *Client) FetchPupils(ctx context.Context, year int, klass string) (*models.Dataset, error) {
	var ds models.Dataset
	req := models.PupilsRequest{Year: year, Klass: klass}
	if err := c.PostJSON(ctx, PupilsPath, req, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}
