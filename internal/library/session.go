package library

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// PendingFile is a file selected for upload but not read yet.
type PendingFile struct {
	Name string
	Size int64
	Type string
	Open func() (io.ReadCloser, error)
}

// FileFromPath selects a file on disk.
func FileFromPath(path string) (PendingFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return PendingFile{}, err
	}
	if info.IsDir() {
		return PendingFile{}, fmt.Errorf("%s is a directory", path)
	}
	return PendingFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FileFromBytes selects content that is already in memory.
func FileFromBytes(name, mimeType string, data []byte) PendingFile {
	return PendingFile{
		Name: name,
		Size: int64(len(data)),
		Type: mimeType,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// UploadSession holds the files a user has selected for the next upload.
type UploadSession struct {
	ID string

	mu    sync.Mutex
	files []PendingFile
}

func NewUploadSession() *UploadSession {
	return &UploadSession{ID: uuid.NewString()}
}

// Add appends files to the selection, skipping any whose name and size match
// a file already selected. It returns how many were added.
func (s *UploadSession) Add(files ...PendingFile) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, f := range files {
		if s.containsLocked(f) {
			continue
		}
		s.files = append(s.files, f)
		added++
	}
	return added
}

func (s *UploadSession) containsLocked(f PendingFile) bool {
	for _, existing := range s.files {
		if existing.Name == f.Name && existing.Size == f.Size {
			return true
		}
	}
	return false
}

// Remove drops the i-th selected file.
func (s *UploadSession) Remove(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.files) {
		return false
	}
	s.files = append(s.files[:i], s.files[i+1:]...)
	return true
}

func (s *UploadSession) Files() []PendingFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingFile, len(s.files))
	copy(out, s.files)
	return out
}

func (s *UploadSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func (s *UploadSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
}
