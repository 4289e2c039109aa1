package api

import (
	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/preview"
)

// materialSummary is a listing row: the material without its file payload.
type materialSummary struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Category    string        `json:"category"`
	Description string        `json:"description"`
	Type        material.Kind `json:"type"`
	FileName    string        `json:"fileName,omitempty"`
	FileSize    string        `json:"fileSize,omitempty"`
	FileType    string        `json:"fileType,omitempty"`
	FileKind    preview.Kind  `json:"fileKind,omitempty"`
	Link        string        `json:"link,omitempty"`
	CreatedAt   string        `json:"createdAt"`
}

func summarize(ms []material.Material) []materialSummary {
	out := make([]materialSummary, 0, len(ms))
	for _, m := range ms {
		s := materialSummary{
			ID:          m.ID,
			Title:       m.Title,
			Category:    m.Category,
			Description: m.Description,
			Type:        m.Kind(),
			CreatedAt:   m.CreatedAt,
		}
		if f, ok := m.File(); ok {
			s.FileName, s.FileSize, s.FileType = f.FileName, f.FileSize, f.FileType
			s.FileKind = preview.KindOf(f.FileType)
		}
		if l, ok := m.Link(); ok {
			s.Link = l.URL
		}
		out = append(out, s)
	}
	return out
}
