// Package gist is a thin client for the gist-compatible snapshot API.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.github.com"
	DefaultFileName = "math_library_backup.json"
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 64 << 10
)

// ErrSnapshotNotFound is returned by Fetch when the gist exists but does not
// contain the snapshot file.
var ErrSnapshotNotFound = errors.New("snapshot file not found in gist")

// RemoteError is a non-success response from the remote API.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (HTTP %d): %s", e.Status, e.Message)
}

// Ref identifies a stored snapshot.
type Ref struct {
	ID  string `json:"id"`
	URL string `json:"html_url"`
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type gistRequest struct {
	Description string              `json:"description"`
	Public      *bool               `json:"public,omitempty"`
	Files       map[string]gistFile `json:"files"`
}

type gistResponse struct {
	ID      string              `json:"id"`
	HTMLURL string              `json:"html_url"`
	Files   map[string]gistFile `json:"files"`
}

// Client talks to the gist API.
type Client struct {
	baseURL    string
	fileName   string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithFileName sets the snapshot file name shared by Update and Fetch.
func WithFileName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.fileName = name
		}
	}
}

// WithRateLimit caps outgoing requests to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient creates a client for the public GitHub API.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		fileName:   DefaultFileName,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		userAgent:  "shelf",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewClientWithBaseURL creates a client pointing at a custom base URL
// (GitHub Enterprise, tests).
func NewClientWithBaseURL(baseURL string, opts ...Option) *Client {
	c := NewClient(opts...)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// FileName returns the snapshot file name this client reads and writes.
func (c *Client) FileName() string { return c.fileName }

// Create stores content as a new secret gist holding one file called name.
func (c *Client) Create(ctx context.Context, token, content, name, description string) (Ref, error) {
	if name == "" {
		name = c.fileName
	}
	public := false
	body := gistRequest{
		Description: description,
		Public:      &public,
		Files:       map[string]gistFile{name: {Content: content}},
	}
	var resp gistResponse
	if err := c.do(ctx, http.MethodPost, "/gists", token, body, &resp); err != nil {
		return Ref{}, err
	}
	return Ref{ID: resp.ID, URL: resp.HTMLURL}, nil
}

// Update replaces the snapshot file of an existing gist.
func (c *Client) Update(ctx context.Context, id, token, content, description string) (Ref, error) {
	body := gistRequest{
		Description: description,
		Files:       map[string]gistFile{c.fileName: {Content: content}},
	}
	var resp gistResponse
	if err := c.do(ctx, http.MethodPatch, "/gists/"+id, token, body, &resp); err != nil {
		return Ref{}, err
	}
	return Ref{ID: resp.ID, URL: resp.HTMLURL}, nil
}

// Fetch returns the snapshot file content of a gist.
func (c *Client) Fetch(ctx context.Context, id, token string) (string, error) {
	var resp gistResponse
	if err := c.do(ctx, http.MethodGet, "/gists/"+id, token, nil, &resp); err != nil {
		return "", err
	}

	f, ok := resp.Files[c.fileName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSnapshotNotFound, c.fileName)
	}
	if f.Truncated && f.RawURL != "" {
		return c.fetchRaw(ctx, f.RawURL, token)
	}
	return f.Content, nil
}

// fetchRaw downloads a file the API truncated in the gist listing.
func (c *Client) fetchRaw(ctx context.Context, rawURL, token string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching raw snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", remoteError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading raw snapshot: %w", err)
	}
	return string(b), nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
}

// remoteError extracts the API's message field, falling back to the status.
func remoteError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = payload.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP error: %d", resp.StatusCode)
	}
	return &RemoteError{Status: resp.StatusCode, Message: msg}
}
