package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/shelf/internal/backup"
	"github.com/kalambet/shelf/internal/gist"
	"github.com/kalambet/shelf/internal/library"
	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/preview"
	"github.com/kalambet/shelf/internal/snapshot"
	"github.com/kalambet/shelf/internal/storage"
)

const (
	maxLinkBodySize     = 1 << 20   // 1MB
	maxUploadBodySize   = 100 << 20 // 100MB
	maxSnapshotBodySize = 200 << 20 // 200MB
	multipartMemory     = 32 << 20
)

type AppDeps struct {
	Store      *storage.Store
	Library    *library.Manager
	Backup     *backup.Service
	Preview    *preview.Session
	Categories material.Categories
	Token      string
	Logger     *slog.Logger
}

// NewAppHandler serves the library API. Everything but /health requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if len(deps.Categories) == 0 {
		deps.Categories = material.DefaultCategories
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(requireToken(deps.Token, deps.Logger))

		r.Get("/materials", handleListMaterials(deps))
		r.Post("/materials/links", handleAddLink(deps))
		r.Post("/materials/files", handleUploadFiles(deps))
		r.Get("/materials/{id}", handleGetMaterial(deps))
		r.Delete("/materials/{id}", handleDeleteMaterial(deps))
		r.Get("/materials/{id}/download", handleDownload(deps))
		r.Get("/materials/{id}/preview", handlePreview(deps))
		r.Get("/preview/resume", handleResumePreview(deps))
		r.Get("/categories", handleCategories(deps))

		r.Get("/export", handleExport(deps))
		r.Post("/import", handleImport(deps))
		r.Post("/sync/push", handlePush(deps))
		r.Post("/sync/pull", handlePull(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListMaterials(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")

		var (
			ms  []material.Material
			err error
		)
		if category != "" {
			if !deps.Categories.Contains(category) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown category %q", category)
				return
			}
			ms, err = deps.Store.ListByCategory(r.Context(), category)
		} else {
			ms, err = deps.Store.GetAll(r.Context())
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "store_error", "failed to list materials: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, summarize(ms))
	}
}

type addLinkRequest struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func handleAddLink(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxLinkBodySize)
		defer r.Body.Close()

		var req addLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Category != "" && !deps.Categories.Contains(req.Category) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown category %q", req.Category)
			return
		}

		m, err := deps.Library.AddLink(r.Context(), library.LinkInput{
			Title:       req.Title,
			URL:         req.Link,
			Category:    req.Category,
			Description: req.Description,
		})
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleUploadFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		category := r.FormValue("category")
		if category != "" && !deps.Categories.Contains(category) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown category %q", category)
			return
		}

		session := library.NewUploadSession()
		for _, fh := range r.MultipartForm.File["files"] {
			session.Add(pendingFromHeader(fh))
		}

		res, err := deps.Library.Upload(r.Context(), session, category)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func pendingFromHeader(fh *multipart.FileHeader) library.PendingFile {
	return library.PendingFile{
		Name: fh.Filename,
		Size: fh.Size,
		Type: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func handleGetMaterial(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := lookupMaterial(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleDeleteMaterial(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := materialID(w, r)
		if !ok {
			return
		}
		err := deps.Library.Delete(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "material not found")
			return
		}
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := lookupMaterial(w, r, deps)
		if !ok {
			return
		}
		f, isFile := m.File()
		if !isFile {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "material %d is a link", m.ID)
			return
		}
		mediaType, data, err := material.DecodeDataURL(f.Data)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "stored file is unreadable: %v", err)
			return
		}
		ct := f.FileType
		if ct == "" {
			ct = mediaType
		}

		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.FileName}))
		w.Write(data)
	}
}

func handlePreview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := lookupMaterial(w, r, deps)
		if !ok {
			return
		}
		doc, err := preview.Render(m)
		switch {
		case errors.Is(err, preview.ErrNotPreviewable):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, preview.ErrUnsupported):
			httpError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusUnprocessableEntity, "preview_error", "failed to render preview: %v", err)
			return
		}

		if deps.Preview != nil {
			if _, err := deps.Preview.Remember(r.Context(), m); err != nil {
				deps.Logger.Warn("preview state not saved", "id", m.ID, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

type resumeResponse struct {
	Active bool `json:"active"`
	preview.State
}

func handleResumePreview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Preview == nil {
			writeJSON(w, http.StatusOK, resumeResponse{})
			return
		}
		st, ok, err := deps.Preview.Resume(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "store_error", "failed to read preview state: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resumeResponse{Active: ok, State: st})
	}
}

type categoryCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func categoryCounts(cats material.Categories, counts map[string]int) []categoryCount {
	out := make([]categoryCount, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryCount{Key: c, Count: counts[c]})
	}
	var extra []string
	for c := range counts {
		if !cats.Contains(c) {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	for _, c := range extra {
		out = append(out, categoryCount{Key: c, Count: counts[c]})
	}
	return out
}

func handleCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CategoryCounts(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "store_error", "failed to count categories: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, categoryCounts(deps.Categories, counts))
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if _, err := deps.Backup.Export(r.Context(), &buf); err != nil {
			writeFault(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": gist.DefaultFileName}))
		w.Write(buf.Bytes())
	}
}

// confirmParam reads ?confirm=N. Missing or malformed values never match a
// record count.
func confirmParam(r *http.Request) int {
	v, err := strconv.Atoi(r.URL.Query().Get("confirm"))
	if err != nil || v < 0 {
		return -1
	}
	return v
}

// countGate approves a restore only when the caller already knows how many
// records it will write.
func countGate(want int) backup.Confirm {
	return func(_ context.Context, count int) (bool, error) {
		return count == want, nil
	}
}

func writeRestore(w http.ResponseWriter, res backup.RestoreResult, err error) {
	if err != nil {
		writeFault(w, err)
		return
	}
	if res.Declined {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]any{
				"message": fmt.Sprintf("snapshot holds %d records and will replace the library; repeat with confirm=%d", res.Total, res.Total),
				"type":    "confirmation_required",
			},
			"count": res.Total,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSnapshotBodySize)
		defer r.Body.Close()

		res, err := deps.Backup.Import(r.Context(), r.Body, countGate(confirmParam(r)))
		writeRestore(w, res, err)
	}
}

func handlePush(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Backup.Push(r.Context())
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handlePull(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Backup.Pull(r.Context(), r.URL.Query().Get("gist_id"), countGate(confirmParam(r)))
		writeRestore(w, res, err)
	}
}

func materialID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid material id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}

func lookupMaterial(w http.ResponseWriter, r *http.Request, deps AppDeps) (material.Material, bool) {
	id, ok := materialID(w, r)
	if !ok {
		return material.Material{}, false
	}
	m, err := deps.Store.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "material not found")
		return material.Material{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "store_error", "failed to get material: %v", err)
		return material.Material{}, false
	}
	return m, true
}

// writeFault maps domain errors onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	var remote *gist.RemoteError
	switch {
	case errors.Is(err, material.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, snapshot.ErrFormat):
		httpError(w, http.StatusBadRequest, "format_error", "%v", err)
	case errors.Is(err, backup.ErrMissingTarget):
		httpError(w, http.StatusBadRequest, "missing_target", "%v", err)
	case errors.Is(err, gist.ErrSnapshotNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, backup.ErrBusy):
		httpError(w, http.StatusConflict, "busy", "%v", err)
	case errors.As(err, &remote):
		httpError(w, http.StatusBadGateway, "remote_error", "%v", err)
	case errors.Is(err, storage.ErrStore):
		httpError(w, http.StatusInternalServerError, "store_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
