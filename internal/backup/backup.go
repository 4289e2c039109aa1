// Package backup coordinates local export/import and remote push/pull of
// library snapshots.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/shelf/internal/gist"
	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/snapshot"
)

var (
	// ErrMissingTarget is returned by Pull when no gist id is stored and none was given.
	ErrMissingTarget = errors.New("no remote snapshot id stored or supplied")
	// ErrBusy is returned when a restore cannot take the library because another flow holds it.
	ErrBusy = errors.New("library is busy with another sync flow")
)

// Store is the part of the record store the flows need.
type Store interface {
	GetAll(ctx context.Context) ([]material.Material, error)
	Put(ctx context.Context, m material.Material) (int64, error)
	Clear(ctx context.Context) error
	ReplaceAll(ctx context.Context, ms []material.Material) error
	// ClearState drops session state, which names record ids that a
	// restore may reassign.
	ClearState(ctx context.Context) error
}

// Remote is the snapshot service.
type Remote interface {
	Create(ctx context.Context, token, content, name, description string) (gist.Ref, error)
	Update(ctx context.Context, id, token, content, description string) (gist.Ref, error)
	Fetch(ctx context.Context, id, token string) (string, error)
}

// Settings holds the client-side credential and remote id.
type Settings interface {
	Token() string
	RemoteID() string
	SetRemoteID(id string) error
}

// Confirm is asked before a restore replaces the library. count is the
// number of records about to be written.
type Confirm func(ctx context.Context, count int) (bool, error)

// AlwaysConfirm approves every restore.
func AlwaysConfirm(context.Context, int) (bool, error) { return true, nil }

// Service runs the four sync flows.
type Service struct {
	store       Store
	remote      Remote
	settings    Settings
	fileName    string
	description string
	atomic      bool
	workers     int
	logger      *slog.Logger

	// mu lets reads and single-record writes share the store while a
	// restore has it exclusively.
	mu sync.RWMutex
	// pushMu keeps two pushes from both creating a gist.
	pushMu sync.Mutex
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAtomicRestore makes restores stage the new record set in a single
// transaction instead of clearing first and writing record by record.
func WithAtomicRestore(on bool) Option {
	return func(s *Service) { s.atomic = on }
}

// WithWorkers bounds concurrent writes during a non-atomic restore.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n < 1 {
			n = 1
		}
		s.workers = n
	}
}

// WithFileName sets the snapshot file name used when creating a gist.
func WithFileName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.fileName = name
		}
	}
}

func WithDescription(d string) Option {
	return func(s *Service) {
		if d != "" {
			s.description = d
		}
	}
}

func New(store Store, remote Remote, settings Settings, opts ...Option) *Service {
	s := &Service{
		store:       store,
		remote:      remote,
		settings:    settings,
		fileName:    gist.DefaultFileName,
		description: "Math library backup",
		workers:     1,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enter admits one library write. It fails with ErrBusy while a restore owns
// the library; release must be called once the write is done.
func (s *Service) Enter() (release func(), err error) {
	if !s.mu.TryRLock() {
		return nil, ErrBusy
	}
	return s.mu.RUnlock, nil
}

// Export writes the whole library to w and returns the record count.
func (s *Service) Export(ctx context.Context, w io.Writer) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading library: %w", err)
	}
	text, err := snapshot.Encode(ms)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(text); err != nil {
		return 0, fmt.Errorf("writing snapshot: %w", err)
	}
	s.logger.Info("library exported", "records", len(ms))
	return len(ms), nil
}

// Import replaces the library with the snapshot read from r.
func (s *Service) Import(ctx context.Context, r io.Reader, confirm Confirm) (RestoreResult, error) {
	if confirm == nil {
		return RestoreResult{}, &material.ValidationError{Field: "confirm", Reason: "a confirmation callback is required"}
	}
	if !s.mu.TryLock() {
		return RestoreResult{}, ErrBusy
	}
	defer s.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("reading snapshot: %w", err)
	}
	entries, err := snapshot.Decode(data)
	if err != nil {
		return RestoreResult{}, err
	}
	return s.restore(ctx, "import", entries, confirm)
}

// PushResult describes where the snapshot went.
type PushResult struct {
	RemoteID string `json:"remote_id"`
	URL      string `json:"url"`
	Created  bool   `json:"created"`
	Count    int    `json:"count"`
}

// Push uploads the library to the stored gist, creating one if needed.
func (s *Service) Push(ctx context.Context) (PushResult, error) {
	token := s.settings.Token()
	if token == "" {
		return PushResult{}, &material.ValidationError{Field: "token", Reason: "no remote credential configured"}
	}

	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	s.mu.RLock()
	ms, err := s.store.GetAll(ctx)
	s.mu.RUnlock()
	if err != nil {
		return PushResult{}, fmt.Errorf("reading library: %w", err)
	}
	text, err := snapshot.Encode(ms)
	if err != nil {
		return PushResult{}, err
	}

	res := PushResult{Count: len(ms)}
	if id := s.settings.RemoteID(); id != "" {
		ref, err := s.remote.Update(ctx, id, token, string(text), s.description)
		if err != nil {
			return PushResult{}, err
		}
		res.RemoteID, res.URL = ref.ID, ref.URL
	} else {
		ref, err := s.remote.Create(ctx, token, string(text), s.fileName, s.description)
		if err != nil {
			return PushResult{}, err
		}
		if err := s.settings.SetRemoteID(ref.ID); err != nil {
			return PushResult{}, fmt.Errorf("saving remote id %s: %w", ref.ID, err)
		}
		res.RemoteID, res.URL, res.Created = ref.ID, ref.URL, true
	}

	s.logger.Info("library pushed", "remote_id", res.RemoteID, "records", res.Count, "created", res.Created)
	return res, nil
}

// Pull replaces the library with the remote snapshot. remoteID overrides the
// stored id when non-empty.
func (s *Service) Pull(ctx context.Context, remoteID string, confirm Confirm) (RestoreResult, error) {
	if confirm == nil {
		return RestoreResult{}, &material.ValidationError{Field: "confirm", Reason: "a confirmation callback is required"}
	}
	token := s.settings.Token()
	if token == "" {
		return RestoreResult{}, &material.ValidationError{Field: "token", Reason: "no remote credential configured"}
	}
	target := remoteID
	if target == "" {
		target = s.settings.RemoteID()
	}
	if target == "" {
		return RestoreResult{}, ErrMissingTarget
	}

	if !s.mu.TryLock() {
		return RestoreResult{}, ErrBusy
	}
	defer s.mu.Unlock()

	content, err := s.remote.Fetch(ctx, target, token)
	if err != nil {
		return RestoreResult{}, err
	}
	entries, err := snapshot.Decode([]byte(content))
	if err != nil {
		return RestoreResult{}, err
	}
	res, err := s.restore(ctx, "pull", entries, confirm)
	res.RemoteID = target
	return res, err
}

// RestoreFailure is one record that could not be written.
type RestoreFailure struct {
	Index   int    `json:"index"`
	Title   string `json:"title,omitempty"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func failure(i int, e snapshot.Entry, err error) RestoreFailure {
	return RestoreFailure{Index: i, Title: e.Title(), Message: err.Error(), Err: err}
}

// RestoreResult summarises an import or pull.
type RestoreResult struct {
	Total    int              `json:"total"`
	Restored int              `json:"restored"`
	Failed   []RestoreFailure `json:"failed"`
	Declined bool             `json:"declined"`
	RemoteID string           `json:"remote_id,omitempty"`
}

// restore runs the confirmation gate and then writes entries. The caller
// holds the write lock.
func (s *Service) restore(ctx context.Context, flow string, entries []snapshot.Entry, confirm Confirm) (RestoreResult, error) {
	res := RestoreResult{Total: len(entries), Failed: []RestoreFailure{}}

	ok, err := confirm(ctx, len(entries))
	if err != nil {
		return res, fmt.Errorf("confirmation: %w", err)
	}
	if !ok {
		res.Declined = true
		s.logger.Info("restore declined", "flow", flow, "records", len(entries))
		return res, nil
	}

	if s.atomic {
		return s.restoreAtomic(ctx, flow, entries, res)
	}

	if err := s.store.ClearState(ctx); err != nil {
		return res, fmt.Errorf("clearing session state: %w", err)
	}

	if err := s.store.Clear(ctx); err != nil {
		return res, fmt.Errorf("clearing library: %w", err)
	}

	errs := make([]error, len(entries))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, e := range entries {
		g.Go(func() error {
			m, err := e.Material()
			if err != nil {
				errs[i] = err
				return nil
			}
			_, errs[i] = s.store.Put(ctx, m)
			return nil
		})
	}
	g.Wait()

	for i, err := range errs {
		if err != nil {
			res.Failed = append(res.Failed, failure(i, entries[i], err))
			s.logger.Warn("record not restored", "flow", flow, "index", i, "error", err)
			continue
		}
		res.Restored++
	}
	s.logger.Info("restore finished", "flow", flow, "restored", res.Restored, "total", res.Total)
	return res, nil
}

func (s *Service) restoreAtomic(ctx context.Context, flow string, entries []snapshot.Entry, res RestoreResult) (RestoreResult, error) {
	ms := make([]material.Material, 0, len(entries))
	for i, e := range entries {
		m, err := e.Material()
		if err != nil {
			res.Failed = append(res.Failed, failure(i, e, err))
			continue
		}
		ms = append(ms, m)
	}
	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%s: %d malformed records, library left unchanged: %w", flow, len(res.Failed), res.Failed[0].Err)
	}
	if err := s.store.ReplaceAll(ctx, ms); err != nil {
		return res, fmt.Errorf("%s: library left unchanged: %w", flow, err)
	}
	res.Restored = len(ms)
	if err := s.store.ClearState(ctx); err != nil {
		s.logger.Warn("session state not cleared", "flow", flow, "error", err)
	}
	s.logger.Info("restore finished", "flow", flow, "restored", res.Restored, "total", res.Total, "atomic", true)
	return res, nil
}
