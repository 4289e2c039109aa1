package preview

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/shelf/internal/material"
)

// ErrUnsupported is returned when a file type has no text rendering.
var ErrUnsupported = errors.New("preview not supported for this file type")

// Document is the text rendering of a file.
type Document struct {
	MaterialID int64    `json:"materialId"`
	FileName   string   `json:"fileName"`
	FileType   string   `json:"fileType"`
	Kind       Kind     `json:"kind"`
	Pages      []string `json:"pages"`
}

// Text joins all pages with blank lines.
func (d Document) Text() string {
	return strings.Join(d.Pages, "\n\n")
}

// Render extracts readable text from a file material.
func Render(m material.Material) (Document, error) {
	f, ok := m.File()
	if !ok {
		return Document{}, ErrNotPreviewable
	}
	mediaType, data, err := material.DecodeDataURL(f.Data)
	if err != nil {
		return Document{}, fmt.Errorf("decoding file data: %w", err)
	}
	ft := f.FileType
	if ft == "" {
		ft = mediaType
	}

	doc := Document{MaterialID: m.ID, FileName: f.FileName, FileType: ft, Kind: KindOf(ft)}
	switch {
	case doc.Kind == KindPDF:
		doc.Pages, err = pdfPages(data)
	case ft == docxType:
		doc.Pages, err = docxPages(data)
	case doc.Kind == KindText, strings.HasPrefix(ft, "text/"):
		if !utf8.Valid(data) {
			return Document{}, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupported, f.FileName)
		}
		doc.Pages = []string{string(data)}
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupported, ft)
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func pdfPages(data []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("reading pdf page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}

// docxPages returns the document body as one page, one line per paragraph.
func docxPages(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening docx: %w", err)
	}
	var body *zip.File
	for _, zf := range zr.File {
		if zf.Name == "word/document.xml" {
			body = zf
			break
		}
	}
	if body == nil {
		return nil, errors.New("opening docx: word/document.xml missing")
	}
	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("opening docx body: %w", err)
	}
	defer rc.Close()

	const ns = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	var (
		sb     strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing docx body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != ns {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != ns {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return []string{strings.TrimRight(sb.String(), "\n")}, nil
}
