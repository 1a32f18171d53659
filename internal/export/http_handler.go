package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

type Handler struct {
	service *Service
}

// NewHTTPHandler serves GET ?phoneNumber=...&format=csv|xlsx as a file download.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	phoneNumber := query.Get("phoneNumber")
	if phoneNumber == "" {
		http.Error(w, "phoneNumber is required", http.StatusBadRequest)
		return
	}
	format, err := ParseFormat(query.Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Nothing reaches w until the export has succeeded.
	var body bytes.Buffer
	result, err := h.service.ExportPhoneNumber(r.Context(), &body, phoneNumber, format)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownFormat) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	if result.Rows == 0 {
		http.Error(w, "no call records found for the specified phone number", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", FileName(phoneNumber, format)))
	w.Header().Set("Content-Length", strconv.FormatInt(result.Bytes, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = body.WriteTo(w)
}
