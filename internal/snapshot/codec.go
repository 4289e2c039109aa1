// Package snapshot converts the material set to and from the JSON exchange
// format used by local backups and the remote gist.
//
// Decoding is deliberately lenient: only the top-level shape is checked.
// Each element is kept as raw JSON and parsed when it is written to the
// store, so one malformed record fails on its own instead of rejecting the
// whole snapshot.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/shelf/internal/material"
)

// ErrFormat matches every *FormatError via errors.Is.
var ErrFormat = errors.New("invalid snapshot format")

// FormatError reports a payload that is not a JSON array at the top level.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid snapshot format: %s: %v", e.Reason, e.Err)
	}
	return "invalid snapshot format: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// Entry is one undecoded element of a snapshot.
type Entry json.RawMessage

// Material parses the entry into a material.
func (e Entry) Material() (material.Material, error) {
	var m material.Material
	if err := json.Unmarshal(e, &m); err != nil {
		return material.Material{}, err
	}
	return m, nil
}

// Title returns the entry's title field when it has one, for error reporting.
func (e Entry) Title() string {
	var probe struct {
		Title string `json:"title"`
	}
	if json.Unmarshal(e, &probe) != nil {
		return ""
	}
	return probe.Title
}

// Encode renders ms as an indented JSON array. Every field is kept,
// including embedded file data.
func Encode(ms []material.Material) ([]byte, error) {
	if ms == nil {
		ms = []material.Material{}
	}
	b, err := json.MarshalIndent(ms, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return b, nil
}

// Decode checks that data is a JSON array and splits it into entries.
func Decode(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &FormatError{Reason: "empty payload"}
	}
	if !json.Valid(trimmed) {
		return nil, &FormatError{Reason: "payload is not valid JSON"}
	}
	if trimmed[0] != '[' {
		return nil, &FormatError{Reason: "top-level value is not a list"}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &FormatError{Reason: "decoding list", Err: err}
	}
	entries := make([]Entry, len(raw))
	for i, r := range raw {
		entries[i] = Entry(r)
	}
	return entries, nil
}
