// internal/detector/handler.go
package detector

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/metrics"
	"github.com/signalnine/auspex/internal/protocol"
)

// IngestHandler handles POST /ingest requests from agents. Malformed
// payloads are logged and dropped; nothing on this path aborts ingest.
type IngestHandler struct {
	window          *Window
	apiKey          string
	maxPayloadBytes int64
	log             *zap.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(window *Window, apiKey string, maxPayloadBytes int64, log *zap.Logger) *IngestHandler {
	return &IngestHandler{
		window:          window,
		apiKey:          apiKey,
		maxPayloadBytes: maxPayloadBytes,
		log:             log,
	}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Check auth
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.apiKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Check content length
	if r.ContentLength > h.maxPayloadBytes {
		metrics.SamplesRejected.WithLabelValues("oversized").Inc()
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	// Read body with limit
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxPayloadBytes+1))
	if err != nil {
		metrics.SamplesRejected.WithLabelValues("read").Inc()
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.maxPayloadBytes {
		metrics.SamplesRejected.WithLabelValues("oversized").Inc()
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	// Parse sample; malformed input is dropped, never propagated
	var sample protocol.MetricSample
	if err := json.Unmarshal(body, &sample); err != nil {
		h.log.Warn("dropping malformed sample", zap.Error(err))
		metrics.SamplesRejected.WithLabelValues("malformed").Inc()
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if sample.Host == "" {
		h.log.Warn("dropping sample without host")
		metrics.SamplesRejected.WithLabelValues("no_host").Inc()
		http.Error(w, "Missing host", http.StatusBadRequest)
		return
	}

	h.window.Push(&sample)
	metrics.SamplesIngested.Inc()
	metrics.WindowSize.Set(float64(h.window.Len()))

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "accepted",
		"window_size": h.window.Len(),
	})
}

// AnomaliesHandler serves GET /anomalies from the store.
type AnomaliesHandler struct {
	store *Store
	log   *zap.Logger
}

// NewAnomaliesHandler creates a query handler over the anomaly store.
func NewAnomaliesHandler(store *Store, log *zap.Logger) *AnomaliesHandler {
	return &AnomaliesHandler{store: store, log: log}
}

func (h *AnomaliesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var (
		records []protocol.AnomalyRecord
		err     error
	)
	switch {
	case r.URL.Query().Get("host") != "":
		records, err = h.store.QueryByHost(r.URL.Query().Get("host"), limit)
	case r.URL.Query().Get("severity") != "":
		records, err = h.store.QueryBySeverity(r.URL.Query().Get("severity"), limit)
	default:
		records, err = h.store.QueryRecent(limit)
	}
	if err != nil {
		h.log.Error("anomaly query failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// StatusHandler serves GET /status with stored severity counts and the
// current window length.
type StatusHandler struct {
	store  *Store
	window *Window
	log    *zap.Logger
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(store *Store, window *Window, log *zap.Logger) *StatusHandler {
	return &StatusHandler{store: store, window: window, log: log}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.SeverityCounts()
	if err != nil {
		h.log.Error("severity counts failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"window_size":     h.window.Len(),
		"severity_counts": counts,
	})
}
