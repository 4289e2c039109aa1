package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/storage"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fixedClock() time.Time {
	return time.Date(2024, 9, 1, 8, 30, 0, 0, time.UTC)
}

// countingStore records puts and can fail on chosen file names.
type countingStore struct {
	mu     sync.Mutex
	puts   []material.Material
	failOn string
}

func (s *countingStore) Put(_ context.Context, m material.Material) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := m.File(); ok && f.FileName == s.failOn {
		return 0, &storage.StoreError{Op: "put", Err: errors.New("quota exceeded")}
	}
	s.puts = append(s.puts, m)
	return int64(len(s.puts)), nil
}

func (s *countingStore) DeleteByID(context.Context, int64) error { return nil }

// Scenario A through the manager.
func TestAddLink(t *testing.T) {
	store := openTestStore(t)
	m := NewManager(store, WithClock(fixedClock))

	got, err := m.AddLink(ctx, LinkInput{Title: "Notes", URL: "http://x", Category: "algebra"})
	if err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if got.ID == 0 {
		t.Error("id not assigned")
	}
	if got.CreatedAt != "2024-09-01T08:30:00.000Z" {
		t.Errorf("CreatedAt = %q", got.CreatedAt)
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 1 || all[0].Kind() != material.KindLink || all[0].Category != "algebra" {
		t.Fatalf("GetAll = %+v", all)
	}
}

func TestAddLink_Validation(t *testing.T) {
	store := &countingStore{}
	m := NewManager(store)

	tests := []struct {
		in    LinkInput
		field string
	}{
		{LinkInput{URL: "http://x", Category: "algebra"}, "title"},
		{LinkInput{Title: "  ", URL: "http://x", Category: "algebra"}, "title"},
		{LinkInput{Title: "t", Category: "algebra"}, "link"},
		{LinkInput{Title: "t", URL: "http://x"}, "category"},
	}
	for _, tt := range tests {
		_, err := m.AddLink(ctx, tt.in)
		var ve *material.ValidationError
		if !errors.As(err, &ve) || ve.Field != tt.field {
			t.Errorf("AddLink(%+v) error = %v, want validation on %s", tt.in, err, tt.field)
		}
	}
	if len(store.puts) != 0 {
		t.Errorf("store received %d puts for invalid input", len(store.puts))
	}
}

func TestAddFile(t *testing.T) {
	store := &countingStore{}
	m := NewManager(store, WithClock(fixedClock))

	got, err := m.AddFile(ctx, "textbooks", Upload{Name: "Linear Algebra.pdf", Data: []byte("%PDF-1.4\n")})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	f, ok := got.File()
	if !ok {
		t.Fatal("not a file material")
	}
	if got.Title != "Linear Algebra" {
		t.Errorf("Title = %q", got.Title)
	}
	if f.FileType != "application/pdf" || f.FileSize != "9 Bytes" || f.FileName != "Linear Algebra.pdf" {
		t.Errorf("file payload = %+v", f)
	}
	if !strings.HasPrefix(f.Data, "data:application/pdf;base64,") {
		t.Errorf("Data = %q", f.Data)
	}

	if _, err := m.AddFile(ctx, "", Upload{Name: "x.txt"}); !errors.Is(err, material.ErrValidation) {
		t.Errorf("empty category error = %v, want ErrValidation", err)
	}
	if len(store.puts) != 1 {
		t.Errorf("puts = %d, want 1", len(store.puts))
	}
}

// Scenario B.
func TestUploadSession_Dedup(t *testing.T) {
	s := NewUploadSession()
	a := FileFromBytes("a.pdf", "", make([]byte, 100))
	b := FileFromBytes("a.pdf", "", make([]byte, 100))
	c := FileFromBytes("a.pdf", "", make([]byte, 101))

	if n := s.Add(a, b); n != 1 {
		t.Errorf("Add returned %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	s.Add(c)
	if s.Len() != 2 {
		t.Errorf("same name with another size should be kept, Len = %d", s.Len())
	}
	if !s.Remove(0) || s.Len() != 1 || s.Files()[0].Size != 101 {
		t.Errorf("Remove(0) left %+v", s.Files())
	}
	if s.Remove(5) {
		t.Error("Remove out of range returned true")
	}
}

// P5: a failing file does not stop the batch.
func TestUpload_BatchIsolation(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			store := openTestStore(t)
			m := NewManager(store, WithWorkers(workers))

			s := NewUploadSession()
			s.Add(FileFromBytes("one.txt", "text/plain", []byte("1")))
			s.Add(PendingFile{Name: "broken.txt", Size: 3, Open: func() (io.ReadCloser, error) {
				return nil, errors.New("permission denied")
			}})
			s.Add(FileFromBytes("three.txt", "text/plain", []byte("333")))
			s.Add(FileFromBytes("four.txt", "text/plain", []byte("4444")))

			res, err := m.Upload(ctx, s, "useful")
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if res.Total != 4 || res.Succeeded != 3 {
				t.Errorf("result = %+v, want 3 of 4", res)
			}
			if len(res.Failed) != 1 || res.Failed[0] != "broken.txt" {
				t.Errorf("Failed = %v", res.Failed)
			}
			if s.Len() != 0 {
				t.Errorf("session not reset, Len = %d", s.Len())
			}

			all, _ := store.GetAll(ctx)
			if len(all) != 3 {
				t.Errorf("stored %d records, want 3", len(all))
			}
		})
	}
}

func TestUpload_StoreFailureIsIsolated(t *testing.T) {
	store := &countingStore{failOn: "b.txt"}
	m := NewManager(store)

	s := NewUploadSession()
	s.Add(FileFromBytes("a.txt", "", []byte("a")), FileFromBytes("b.txt", "", []byte("b")), FileFromBytes("c.txt", "", []byte("c")))

	res, err := m.Upload(ctx, s, "algebra")
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 2 || len(res.Failed) != 1 || res.Failed[0] != "b.txt" {
		t.Errorf("result = %+v", res)
	}
	if len(store.puts) != 2 || store.puts[1].Title != "c" {
		t.Errorf("puts = %+v", store.puts)
	}
}

func TestUpload_Validation(t *testing.T) {
	m := NewManager(&countingStore{})

	s := NewUploadSession()
	if _, err := m.Upload(ctx, s, "algebra"); !errors.Is(err, material.ErrValidation) {
		t.Errorf("empty selection error = %v, want ErrValidation", err)
	}
	s.Add(FileFromBytes("a.txt", "", []byte("a")))
	if _, err := m.Upload(ctx, s, ""); !errors.Is(err, material.ErrValidation) {
		t.Errorf("empty category error = %v, want ErrValidation", err)
	}
	if s.Len() != 1 {
		t.Error("rejected upload must keep the selection")
	}
}

func TestFileFromPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(p, []byte("# hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := FileFromPath(p)
	if err != nil {
		t.Fatalf("FileFromPath: %v", err)
	}
	if f.Name != "notes.md" || f.Size != 4 {
		t.Errorf("PendingFile = %+v", f)
	}
	if _, err := FileFromPath(dir); err == nil {
		t.Error("expected error for a directory")
	}
}

func TestDetectType(t *testing.T) {
	if got := DetectType("x.bin", "application/x-custom", nil); got != "application/x-custom" {
		t.Errorf("declared type ignored: %q", got)
	}
	if got := DetectType("a.PDF", "", nil); got != "application/pdf" {
		t.Errorf("extension lookup = %q", got)
	}
	if got := DetectType("noext", "", []byte("%PDF-1.5")); got != "application/pdf" {
		t.Errorf("sniffing = %q", got)
	}
	if got := DetectType("b.txt", "application/octet-stream", nil); got != "text/plain" {
		t.Errorf("generic declared type should fall through, got %q", got)
	}
	if got := DetectType("noext", "", nil); got != "application/octet-stream" {
		t.Errorf("fallback = %q", got)
	}
}

func TestNormalizeLink(t *testing.T) {
	tests := map[string]string{
		"https://bücher.example/list":     "https://xn--bcher-kva.example/list",
		"https://bücher.example:8443/a?b": "https://xn--bcher-kva.example:8443/a?b",
		"http://example.com/a b":          "http://example.com/a b",
		"not a url":                       "not a url",
	}
	for in, want := range tests {
		if got := NormalizeLink(in); got != want {
			t.Errorf("NormalizeLink(%q) = %q, want %q", in, got, want)
		}
	}
}
