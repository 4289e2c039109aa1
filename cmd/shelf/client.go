package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/shelf/internal/config"
)

// apiClient talks to a running 'shelf serve' on the loopback interface.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func(cfg config.Config) (*apiClient, error) {
	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      token,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is 'shelf serve' running? (%w)", err)
	}
	return resp, nil
}

// healthy reports whether a server answers on /health.
func (c *apiClient) healthy(ctx context.Context) bool {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type categoryCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func (c *apiClient) categories(ctx context.Context) ([]categoryCount, error) {
	resp, err := c.get(ctx, "/categories")
	if err != nil {
		return nil, err
	}
	var out []categoryCount
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// serverError is a non-2xx answer from the local API.
type serverError struct {
	Status  int
	Type    string
	Message string
}

func (e *serverError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// decodeJSON reads a successful body into v, or turns the API's error
// envelope into a *serverError.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 300 {
		return json.Unmarshal(body, v)
	}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	serr := &serverError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		serr.Type, serr.Message = envelope.Error.Type, envelope.Error.Message
	}
	return serr
}
