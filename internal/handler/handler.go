package handler

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/qticsv/internal/archive"
	"github.com/pavelanni/qticsv/internal/convert"
	"github.com/pavelanni/qticsv/internal/handler/views"
	"github.com/pavelanni/qticsv/internal/model"
	"github.com/pavelanni/qticsv/internal/qti"
	"github.com/pavelanni/qticsv/internal/store"
	"github.com/pavelanni/qticsv/internal/table"
)

const defaultMaxUpload = 32 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store // nil disables history
	config model.ConvertConfig
}

// New creates a new Handler. s may be nil.
func New(s *store.Store, cfg model.ConvertConfig) *Handler {
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = defaultMaxUpload
	}
	return &Handler{store: s, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Post("/export", h.handleExport)
	r.Post("/import", h.handleImport)
	r.Get("/history", h.handleHistory)
	r.Get("/history/{runID}", h.handleHistoryRun)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.IndexPage(h.store != nil).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	res, err := convert.Export(r.Context(), data, convert.ExportOptions{
		Lang:      h.lang(r),
		BOM:       h.config.BOM,
		PlainText: h.config.PlainText || r.FormValue("plain_text") == "on",
	})
	if err != nil {
		writeConvertError(w, err)
		return
	}

	h.record(model.ConversionRun{
		Direction:   model.DirectionExport,
		Source:      filename,
		SourceHash:  sha256sum(data),
		Output:      "quiz_export.csv",
		OutputSize:  int64(len(res.CSV)),
		Questions:   len(res.Rows),
		TotalPoints: res.TotalPoints(),
		Skipped:     res.SkippedItems(),
	})

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="quiz_export.csv"`)
	w.Header().Set("X-Questions", strconv.Itoa(len(res.Rows)))
	w.Header().Set("X-Skipped-Items", strconv.Itoa(len(res.Skipped)))
	http.ServeContent(w, r, "quiz_export.csv", time.Time{}, bytes.NewReader(res.CSV))
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	res, err := convert.Import(r.Context(), bytes.NewReader(data), convert.ImportOptions{
		Title:    title,
		QuizType: h.config.QuizType,
	})
	if err != nil {
		writeConvertError(w, err)
		return
	}

	h.record(model.ConversionRun{
		Direction:   model.DirectionImport,
		Source:      filename,
		SourceHash:  sha256sum(data),
		Output:      "qti_output.zip",
		OutputSize:  int64(len(res.Zip)),
		Questions:   len(res.Rows),
		TotalPoints: res.Package.TotalPoints,
	})

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="qti_output.zip"`)
	w.Header().Set("X-Questions", strconv.Itoa(len(res.Rows)))
	http.ServeContent(w, r, "qti_output.zip", time.Time{}, bytes.NewReader(res.Zip))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "history is disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	runs, err := h.store.ListRuns(limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.ConversionRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "history is disabled", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return
	}
	run, err := h.store.GetRun(id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// readUpload reads the multipart "file" field. It writes the error response
// itself and reports ok=false on failure.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUpload)
	if err := r.ParseMultipartForm(h.config.MaxUpload); err != nil {
		http.Error(w, "file too large or not a multipart form", http.StatusBadRequest)
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return nil, "", false
	}
	return data, header.Filename, true
}

func (h *Handler) lang(r *http.Request) string {
	if l := r.FormValue("lang"); l != "" {
		return l
	}
	return h.config.Lang
}

func (h *Handler) record(run model.ConversionRun) {
	if h.store == nil {
		return
	}
	if _, err := h.store.RecordRun(run); err != nil {
		slog.Error("failed to record conversion", "source", run.Source, "error", err)
	}
}

// writeConvertError maps conversion failures caused by the uploaded file to
// 422 and everything else to 500.
func writeConvertError(w http.ResponseWriter, err error) {
	var (
		malformed *table.MalformedRowError
		invalid   *qti.InvalidRowError
		parse     *qti.DocumentParseError
		missing   *archive.MissingEntryError
	)
	switch {
	case errors.As(err, &malformed), errors.As(err, &invalid),
		errors.As(err, &parse), errors.As(err, &missing),
		errors.Is(err, zip.ErrFormat):
		slog.Info("rejected upload", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		slog.Error("conversion failed", "error", err)
		http.Error(w, fmt.Sprintf("conversion failed: %v", err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
