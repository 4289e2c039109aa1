// Package material defines the library record and its two variants.
package material

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the two material variants.
type Kind string

const (
	KindFile Kind = "file"
	KindLink Kind = "link"
)

// TimestampLayout matches the ISO form produced by browsers (millisecond
// precision, UTC, trailing Z) so existing backups keep their exact text.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t for the CreatedAt field.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Content is the variant payload of a Material. Only *File and *Link implement it.
type Content interface {
	Kind() Kind
	validate() error
}

// File is the payload of an uploaded document. Data is a data: URL that
// carries its own MIME type.
type File struct {
	Data     string
	FileName string
	FileSize string
	FileType string
}

func (*File) Kind() Kind { return KindFile }

func (*File) validate() error { return nil }

// Link is the payload of an external reference.
type Link struct {
	URL string
}

func (*Link) Kind() Kind { return KindLink }

func (l *Link) validate() error {
	if l.URL == "" {
		return &ValidationError{Field: "link", Reason: "is required"}
	}
	return nil
}

// Material is the single persisted entity. ID is zero until the store
// assigns one. CreatedAt is kept as text so it round-trips unchanged.
type Material struct {
	ID          int64
	Title       string
	Category    string
	Description string
	CreatedAt   string
	Content     Content
}

// Kind reports the variant, or "" when Content is unset.
func (m Material) Kind() Kind {
	if m.Content == nil {
		return ""
	}
	return m.Content.Kind()
}

// File returns the file payload if m is a file material.
func (m Material) File() (*File, bool) {
	f, ok := m.Content.(*File)
	return f, ok && f != nil
}

// Link returns the link payload if m is a link material.
func (m Material) Link() (*Link, bool) {
	l, ok := m.Content.(*Link)
	return l, ok && l != nil
}

// Validate checks the invariants every stored record must satisfy.
func (m Material) Validate() error {
	if m.Category == "" {
		return &ValidationError{Field: "category", Reason: "is required"}
	}
	if m.Content == nil {
		return &ValidationError{Field: "type", Reason: "is required"}
	}
	return m.Content.validate()
}

// wireMaterial is the exchange shape shared by backups and the API.
type wireMaterial struct {
	ID          int64  `json:"id,omitempty"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Type        Kind   `json:"type"`
	Data        string `json:"data,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    string `json:"fileSize,omitempty"`
	FileType    string `json:"fileType,omitempty"`
	Link        string `json:"link,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func (m Material) MarshalJSON() ([]byte, error) {
	w := wireMaterial{
		ID:          m.ID,
		Title:       m.Title,
		Category:    m.Category,
		Description: m.Description,
		Type:        m.Kind(),
		CreatedAt:   m.CreatedAt,
	}
	switch c := m.Content.(type) {
	case *File:
		w.Data, w.FileName, w.FileSize, w.FileType = c.Data, c.FileName, c.FileSize, c.FileType
	case *Link:
		w.Link = c.URL
	case nil:
		return nil, fmt.Errorf("material %d has no content", m.ID)
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the exchange shape. Fields that belong to the other
// variant are dropped.
func (m *Material) UnmarshalJSON(b []byte) error {
	var w wireMaterial
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Material{
		ID:          w.ID,
		Title:       w.Title,
		Category:    w.Category,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
	}
	switch w.Type {
	case KindFile:
		out.Content = &File{Data: w.Data, FileName: w.FileName, FileSize: w.FileSize, FileType: w.FileType}
	case KindLink:
		out.Content = &Link{URL: w.Link}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown material type %q", w.Type)}
	}
	*m = out
	return nil
}
