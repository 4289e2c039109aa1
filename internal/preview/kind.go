package preview

import "strings"

// Kind is a coarse file classification used for labels in listings.
type Kind string

const (
	KindPDF          Kind = "pdf"
	KindWord         Kind = "word"
	KindSpreadsheet  Kind = "spreadsheet"
	KindPresentation Kind = "presentation"
	KindImage        Kind = "image"
	KindText         Kind = "text"
	KindOther        Kind = "other"
)

const docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// KindOf classifies a MIME type.
func KindOf(mimeType string) Kind {
	t := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch {
	case t == "application/pdf":
		return KindPDF
	case t == "application/msword", strings.Contains(t, "wordprocessingml"):
		return KindWord
	case t == "application/vnd.ms-excel", strings.Contains(t, "spreadsheetml"), t == "text/csv":
		return KindSpreadsheet
	case t == "application/vnd.ms-powerpoint", strings.Contains(t, "presentationml"):
		return KindPresentation
	case strings.HasPrefix(t, "image/"):
		return KindImage
	case strings.HasPrefix(t, "text/"), t == "application/json", strings.HasSuffix(t, "+json"):
		return KindText
	}
	return KindOther
}
