package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Routes served by Handler, relative to its mount point.
const (
	RouteAverageCallCost      = "/average-call-cost"
	RouteLongestCall          = "/longest-call"
	RouteTotalCallsInPeriod   = "/total-calls-in-period"
	RouteTotalCostByCaller    = "/total-call-cost-by-caller"
	RouteRecordsByPhoneNumber = "/call-records-by-phone-number"
	RouteMostFrequentCaller   = "/most-frequent-caller"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch path := strings.TrimSuffix(r.URL.Path, "/"); {
	case strings.HasSuffix(path, RouteAverageCallCost):
		h.handleAverageCallCost(w, r)
	case strings.HasSuffix(path, RouteLongestCall):
		h.handleLongestCall(w, r)
	case strings.HasSuffix(path, RouteTotalCallsInPeriod):
		h.handleTotalCallsInPeriod(w, r)
	case strings.HasSuffix(path, RouteTotalCostByCaller):
		h.handleTotalCostByCaller(w, r)
	case strings.HasSuffix(path, RouteRecordsByPhoneNumber):
		h.handleRecordsByPhoneNumber(w, r)
	case strings.HasSuffix(path, RouteMostFrequentCaller):
		h.handleMostFrequentCaller(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type averageCostResponse struct {
	AverageCost decimal.Decimal `json:"averageCost"`
}

type totalCallsResponse struct {
	TotalCalls int64 `json:"totalCalls"`
}

type callerCostResponse struct {
	CallerID  string          `json:"callerId"`
	TotalCost decimal.Decimal `json:"totalCost"`
}

type mostFrequentCallerResponse struct {
	MostFrequentCaller string `json:"mostFrequentCaller"`
}

func (h *Handler) handleAverageCallCost(w http.ResponseWriter, r *http.Request) {
	avg, found, err := h.service.AverageCost(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "no call records found to calculate average cost", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, averageCostResponse{AverageCost: avg})
}

func (h *Handler) handleLongestCall(w http.ResponseWriter, r *http.Request) {
	dto, found, err := h.service.LongestCall(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "no call records found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) handleTotalCallsInPeriod(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, err := requiredDate(query.Get("startDate"), "startDate")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := requiredDate(query.Get("endDate"), "endDate")
	if err != nil {
		writeError(w, err)
		return
	}

	total, err := h.service.CountInPeriod(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	if total == 0 {
		http.Error(w, "no calls found in the specified period", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, totalCallsResponse{TotalCalls: total})
}

func (h *Handler) handleTotalCostByCaller(w http.ResponseWriter, r *http.Request) {
	cost, found, err := h.service.TotalCostByCaller(r.Context(), r.URL.Query().Get("callerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "no calls found for the specified caller", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, callerCostResponse{CallerID: cost.CallerID, TotalCost: cost.TotalCost})
}

func (h *Handler) handleRecordsByPhoneNumber(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.RecordsByPhoneNumber(r.Context(), r.URL.Query().Get("phoneNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(records) == 0 {
		http.Error(w, "no call records found for the specified phone number", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleMostFrequentCaller(w http.ResponseWriter, r *http.Request) {
	callerID, found, err := h.service.MostFrequentCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "no call records found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, mostFrequentCallerResponse{MostFrequentCaller: callerID})
}

func requiredDate(raw string, name string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("%w: %s", ErrMissingParameter, name)
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errBadParameter, name, err)
	}
	return parsed, nil
}

var errBadParameter = errors.New("invalid parameter")

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrMissingParameter), errors.Is(err, errBadParameter):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, fmt.Sprintf("internal server error: %v", err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
