package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/cdranalytics/internal/domain"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/google/uuid"
)

// ErrEmptyUpload is returned when the upload carries no bytes.
var ErrEmptyUpload = errors.New("no file uploaded")

const (
	defaultMaxUploadBytes  = 100 << 20
	multipartMemoryBytes   = 32 << 20
	multipartEnvelopeBytes = 1 << 20
	defaultRejectionsLimit = 200
	maxRejectionsLimit     = 1000
	rejectionsPathSuffix   = "/rejections"
	uploadsPathSegment     = "/uploads/"
	uploadFormField        = "file"
)

// Handler exposes ingestion over HTTP.
type Handler struct {
	service        *Service
	logRepo        repository.IngestionLogRepository
	maxUploadBytes int64
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithMaxUploadBytes sets the upload ceiling.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithRejectionLog enables GET .../uploads/{id}/rejections.
func WithRejectionLog(logRepo repository.IngestionLogRepository) HandlerOption {
	return func(h *Handler) {
		h.logRepo = logRepo
	}
}

// NewHTTPHandler wraps the service with the upload endpoint and the rejection listing.
func NewHTTPHandler(service *Service, opts ...HandlerOption) http.Handler {
	h := &Handler{service: service, maxUploadBytes: defaultMaxUploadBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		h.handleUpload(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, rejectionsPathSuffix):
		h.handleListRejections(w, r)
	case r.Method == http.MethodGet:
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartEnvelopeBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes), http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}

	if header.Size == 0 {
		_ = file.Close()
		http.Error(w, ErrEmptyUpload.Error(), http.StatusBadRequest)
		return
	}
	if header.Size > h.maxUploadBytes {
		_ = file.Close()
		http.Error(w, fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes), http.StatusBadRequest)
		return
	}

	summary, err := h.service.Ingest(r.Context(), Request{
		FileName: header.Filename,
		Data:     file,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListRejections(w http.ResponseWriter, r *http.Request) {
	if h.logRepo == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	uploadID, err := uploadIDFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid upload id: %v", err), http.StatusBadRequest)
		return
	}

	limit, err := intQuery(r, "limit", defaultRejectionsLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit <= 0 || limit > maxRejectionsLimit {
		limit = defaultRejectionsLimit
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := h.logRepo.ListRejections(r.Context(), uploadID, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []domain.IngestionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func uploadIDFromPath(path string) (uuid.UUID, error) {
	idx := strings.LastIndex(path, uploadsPathSegment)
	if idx < 0 {
		return uuid.Nil, errors.New("missing upload segment")
	}
	raw := strings.TrimSuffix(path[idx+len(uploadsPathSegment):], rejectionsPathSuffix)
	return uuid.Parse(strings.Trim(raw, "/"))
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
