package gist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Accept string
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   string(body),
			Auth:   r.Header.Get("Authorization"),
			Accept: r.Header.Get("Accept"),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestCreate(t *testing.T) {
	srv, reqs := newRecordingServer(t, http.StatusCreated, `{"id":"abc123","html_url":"https://gist.github.com/abc123"}`)
	c := NewClientWithBaseURL(srv.URL)

	ref, err := c.Create(context.Background(), "tok", "[]", "math_library_backup.json", "Math library backup")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ref.ID != "abc123" || ref.URL != "https://gist.github.com/abc123" {
		t.Errorf("ref = %+v", ref)
	}

	if len(*reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(*reqs))
	}
	r := (*reqs)[0]
	if r.Method != http.MethodPost || r.Path != "/gists" {
		t.Errorf("request = %s %s, want POST /gists", r.Method, r.Path)
	}
	if r.Auth != "Bearer tok" {
		t.Errorf("Authorization = %q", r.Auth)
	}
	if r.Accept != "application/vnd.github+json" {
		t.Errorf("Accept = %q", r.Accept)
	}

	var body struct {
		Description string                        `json:"description"`
		Public      *bool                         `json:"public"`
		Files       map[string]map[string]string `json:"files"`
	}
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body.Public == nil || *body.Public {
		t.Error("gist must be created as secret (public:false)")
	}
	if body.Files["math_library_backup.json"]["content"] != "[]" {
		t.Errorf("files = %v", body.Files)
	}
	if body.Description != "Math library backup" {
		t.Errorf("description = %q", body.Description)
	}
}

func TestUpdate_TargetsFixedFile(t *testing.T) {
	srv, reqs := newRecordingServer(t, http.StatusOK, `{"id":"abc123","html_url":"https://gist.github.com/abc123"}`)
	c := NewClientWithBaseURL(srv.URL, WithFileName("custom.json"))

	ref, err := c.Update(context.Background(), "abc123", "tok", `[{"id":1}]`, "desc")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ref.ID != "abc123" {
		t.Errorf("ref = %+v", ref)
	}

	r := (*reqs)[0]
	if r.Method != http.MethodPatch || r.Path != "/gists/abc123" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	var body map[string]json.RawMessage
	json.Unmarshal([]byte(r.Body), &body)
	if _, ok := body["public"]; ok {
		t.Error("update must not send the public flag")
	}
	var files map[string]map[string]string
	json.Unmarshal(body["files"], &files)
	if files["custom.json"]["content"] != `[{"id":1}]` {
		t.Errorf("files = %v", files)
	}
}

func TestFetch(t *testing.T) {
	srv, reqs := newRecordingServer(t, http.StatusOK, `{"id":"g1","files":{"math_library_backup.json":{"content":"[1,2]"}}}`)
	c := NewClientWithBaseURL(srv.URL)

	content, err := c.Fetch(context.Background(), "g1", "tok")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if content != "[1,2]" {
		t.Errorf("content = %q", content)
	}
	if r := (*reqs)[0]; r.Method != http.MethodGet || r.Path != "/gists/g1" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
}

// Scenario E at the client level.
func TestFetch_MissingFile(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusOK, `{"id":"g1","files":{"other.txt":{"content":"x"}}}`)
	c := NewClientWithBaseURL(srv.URL)

	_, err := c.Fetch(context.Background(), "g1", "tok")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestFetch_TruncatedUsesRawURL(t *testing.T) {
	var rawHits atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/gists/big", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"big","files":{"math_library_backup.json":{"content":"[","truncated":true,"raw_url":"%s/raw/big"}}}`, srv.URL)
	})
	mux.HandleFunc("/raw/big", func(w http.ResponseWriter, r *http.Request) {
		rawHits.Add(1)
		fmt.Fprint(w, `[{"full":true}]`)
	})

	c := NewClientWithBaseURL(srv.URL)
	content, err := c.Fetch(context.Background(), "big", "tok")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if content != `[{"full":true}]` {
		t.Errorf("content = %q", content)
	}
	if rawHits.Load() != 1 {
		t.Errorf("raw hits = %d, want 1", rawHits.Load())
	}
}

func TestRemoteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusUnauthorized, `{"message":"Bad credentials"}`, "Bad credentials"},
		{"no message", http.StatusInternalServerError, `oops`, "HTTP error: 500"},
		{"not found", http.StatusNotFound, `{"message":"Not Found"}`, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newRecordingServer(t, tt.status, tt.body)
			c := NewClientWithBaseURL(srv.URL)

			_, err := c.Fetch(context.Background(), "g1", "tok")
			var re *RemoteError
			if !errors.As(err, &re) {
				t.Fatalf("error = %v, want *RemoteError", err)
			}
			if re.Status != tt.status || re.Message != tt.message {
				t.Errorf("RemoteError = %+v, want status %d message %q", re, tt.status, tt.message)
			}
		})
	}
}

func TestCreate_ContextCancelled(t *testing.T) {
	srv, reqs := newRecordingServer(t, http.StatusCreated, `{}`)
	c := NewClientWithBaseURL(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Create(ctx, "tok", "[]", "", "d"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(*reqs) != 0 {
		t.Errorf("requests = %d, want 0", len(*reqs))
	}
}
