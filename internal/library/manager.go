// Package library builds materials from user input and writes them to the store.
package library

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/shelf/internal/material"
)

// Store is the write side of the record store.
type Store interface {
	Put(ctx context.Context, m material.Material) (int64, error)
	DeleteByID(ctx context.Context, id int64) error
}

// Guard admits writes to the library. Enter fails while something else owns
// the whole library, such as a restore.
type Guard interface {
	Enter() (release func(), err error)
}

type openGuard struct{}

func (openGuard) Enter() (func(), error) { return func() {}, nil }

// Manager validates input and creates materials.
type Manager struct {
	store   Store
	guard   Guard
	workers int
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Manager)

// WithWorkers bounds how many files of one batch are stored concurrently.
// Values below 1 mean sequential.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		m.workers = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithGuard(g Guard) Option {
	return func(m *Manager) { m.guard = g }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		guard:   openGuard{},
		workers: 1,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// LinkInput is the user-supplied part of a link material.
type LinkInput struct {
	Title       string
	URL         string
	Category    string
	Description string
}

// AddLink validates in and stores a link material.
func (m *Manager) AddLink(ctx context.Context, in LinkInput) (material.Material, error) {
	title := strings.TrimSpace(in.Title)
	link := strings.TrimSpace(in.URL)
	switch {
	case title == "":
		return material.Material{}, &material.ValidationError{Field: "title", Reason: "is required"}
	case link == "":
		return material.Material{}, &material.ValidationError{Field: "link", Reason: "is required"}
	case in.Category == "":
		return material.Material{}, &material.ValidationError{Field: "category", Reason: "is required"}
	}

	mat := material.Material{
		Title:       title,
		Category:    in.Category,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   material.Timestamp(m.now()),
		Content:     &material.Link{URL: NormalizeLink(link)},
	}

	release, err := m.guard.Enter()
	if err != nil {
		return material.Material{}, err
	}
	defer release()

	id, err := m.store.Put(ctx, mat)
	if err != nil {
		return material.Material{}, err
	}
	mat.ID = id
	m.logger.Debug("link added", "id", id, "category", mat.Category)
	return mat, nil
}

// Delete removes one material. A missing id is storage.ErrNotFound.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	release, err := m.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := m.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	m.logger.Debug("material deleted", "id", id)
	return nil
}

// Upload is a file whose content has already been read.
type Upload struct {
	Name string
	Type string
	Data []byte
}

// AddFile stores up as a file material in category. The title is the file
// name without its extension.
func (m *Manager) AddFile(ctx context.Context, category string, up Upload) (material.Material, error) {
	release, err := m.guard.Enter()
	if err != nil {
		return material.Material{}, err
	}
	defer release()
	return m.addFile(ctx, category, up)
}

func (m *Manager) addFile(ctx context.Context, category string, up Upload) (material.Material, error) {
	if category == "" {
		return material.Material{}, &material.ValidationError{Field: "category", Reason: "is required"}
	}

	mimeType := DetectType(up.Name, up.Type, up.Data)
	mat := material.Material{
		Title:     material.TitleFromFileName(up.Name),
		Category:  category,
		CreatedAt: material.Timestamp(m.now()),
		Content: &material.File{
			Data:     material.EncodeDataURL(mimeType, up.Data),
			FileName: up.Name,
			FileSize: material.FormatSize(int64(len(up.Data))),
			FileType: mimeType,
		},
	}
	id, err := m.store.Put(ctx, mat)
	if err != nil {
		return material.Material{}, err
	}
	mat.ID = id
	return mat, nil
}

// BatchResult summarises one upload batch.
type BatchResult struct {
	Succeeded int      `json:"succeeded"`
	Total     int      `json:"total"`
	Failed    []string `json:"failed"`
}

// Upload stores every file selected in s under category. A failing file is
// reported by name and does not stop the rest of the batch. The session is
// emptied afterwards.
func (m *Manager) Upload(ctx context.Context, s *UploadSession, category string) (BatchResult, error) {
	if category == "" {
		return BatchResult{}, &material.ValidationError{Field: "category", Reason: "is required"}
	}
	files := s.Files()
	if len(files) == 0 {
		return BatchResult{}, &material.ValidationError{Field: "files", Reason: "no files selected"}
	}

	release, err := m.guard.Enter()
	if err != nil {
		return BatchResult{}, err
	}
	defer release()

	errs := make([]error, len(files))
	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, f := range files {
		g.Go(func() error {
			errs[i] = m.uploadOne(ctx, category, f)
			return nil
		})
	}
	g.Wait()

	res := BatchResult{Total: len(files), Failed: []string{}}
	for i, err := range errs {
		if err != nil {
			m.logger.Warn("upload failed", "session", s.ID, "file", files[i].Name, "error", err)
			res.Failed = append(res.Failed, files[i].Name)
			continue
		}
		res.Succeeded++
	}
	s.Reset()

	m.logger.Info("upload finished", "session", s.ID, "succeeded", res.Succeeded, "total", res.Total)
	return res, nil
}

func (m *Manager) uploadOne(ctx context.Context, category string, f PendingFile) error {
	if f.Open == nil {
		return fmt.Errorf("%s: no content source", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading %s: %w", f.Name, err)
	}
	_, err = m.addFile(ctx, category, Upload{Name: f.Name, Type: f.Type, Data: data})
	return err
}

// DetectType picks the MIME type of a file: the declared type if any, then
// the extension, then content sniffing. A declared generic octet-stream
// counts as undeclared.
func DetectType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	if len(data) > 0 {
		if mt, _, err := mime.ParseMediaType(http.DetectContentType(data)); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

// NormalizeLink converts an internationalised host name to its ASCII form.
// Anything that does not parse as an absolute URL is returned unchanged.
func NormalizeLink(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := u.Hostname()
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil || ascii == host {
		return raw
	}
	if port := u.Port(); port != "" {
		u.Host = ascii + ":" + port
	} else {
		u.Host = ascii
	}
	return u.String()
}
