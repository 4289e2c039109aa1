// Package preview renders stored files as text and remembers the last file
// a user had open so they can pick it up again.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/storage"
)

const (
	stateKey = "preview_state"
	// TTL is how long a remembered preview stays resumable.
	TTL = time.Hour
)

// ErrNotPreviewable is returned for materials that have no file payload.
var ErrNotPreviewable = errors.New("only file materials can be previewed")

// StateStore is the key/value part of the record store plus the lookup used
// to check that a remembered file still exists.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
	GetByID(ctx context.Context, id int64) (material.Material, error)
}

// State is the last previewed file.
type State struct {
	MaterialID int64  `json:"materialId"`
	FileName   string `json:"fileName"`
	Timestamp  int64  `json:"timestamp"`
}

// Time returns when the preview was opened.
func (s State) Time() time.Time { return time.UnixMilli(s.Timestamp) }

type Session struct {
	store StateStore
	now   func() time.Time
	ttl   time.Duration
}

type SessionOption func(*Session)

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func WithTTL(d time.Duration) SessionOption {
	return func(s *Session) { s.ttl = d }
}

func NewSession(store StateStore, opts ...SessionOption) *Session {
	s := &Session{store: store, now: time.Now, ttl: TTL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Remember records m as the file currently being previewed.
func (s *Session) Remember(ctx context.Context, m material.Material) (State, error) {
	f, ok := m.File()
	if !ok {
		return State{}, ErrNotPreviewable
	}
	st := State{MaterialID: m.ID, FileName: f.FileName, Timestamp: s.now().UnixMilli()}
	b, err := json.Marshal(st)
	if err != nil {
		return State{}, err
	}
	if err := s.store.SetState(ctx, stateKey, string(b)); err != nil {
		return State{}, fmt.Errorf("saving preview state: %w", err)
	}
	return st, nil
}

// Resume returns the remembered preview if it is younger than the TTL and the
// material it names is still the same file. Anything else is cleared.
func (s *Session) Resume(ctx context.Context) (State, bool, error) {
	raw, err := s.store.GetState(ctx, stateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("reading preview state: %w", err)
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.Timestamp == 0 {
		return State{}, false, s.Clear(ctx)
	}
	if s.now().Sub(st.Time()) >= s.ttl {
		return State{}, false, s.Clear(ctx)
	}

	m, err := s.store.GetByID(ctx, st.MaterialID)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, false, s.Clear(ctx)
	}
	if err != nil {
		return State{}, false, fmt.Errorf("checking previewed material: %w", err)
	}
	if f, ok := m.File(); !ok || f.FileName != st.FileName {
		return State{}, false, s.Clear(ctx)
	}
	return st, true, nil
}

func (s *Session) Clear(ctx context.Context) error {
	if err := s.store.DeleteState(ctx, stateKey); err != nil {
		return fmt.Errorf("clearing preview state: %w", err)
	}
	return nil
}
