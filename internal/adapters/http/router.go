package httpadapter

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
	"github.com/entiendetuderecho/analysis-service/internal/core/ports"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

type RouterConfig struct {
	MaxUploadBytes   int64
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

func (c RouterConfig) normalize() RouterConfig {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.BackpressureWait <= 0 {
		c.BackpressureWait = 2 * time.Second
	}
	return c
}

type Router struct {
	runner        ports.AnalysisRunner
	history       ports.HistoryReader
	authenticator ports.Authenticator
	cfg           RouterConfig
}

func NewRouter(
	runner ports.AnalysisRunner,
	history ports.HistoryReader,
	authenticator ports.Authenticator,
	cfg RouterConfig,
) *Router {
	return &Router{
		runner:        runner,
		history:       history,
		authenticator: authenticator,
		cfg:           cfg.normalize(),
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/analyze", rt.analyzeDocument)
	api.HandleFunc("/v1/history", rt.listHistory)
	api.HandleFunc("/v1/history/", rt.getHistoryByThread)

	protected := authMiddleware(rt.authenticator, api)
	protected = rateLimitMiddleware(protected, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	protected = backpressureMiddleware(protected, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/v1/", protected)

	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// analyzeDocument runs the pipeline to a terminal stage. Runs that end in
// terminal_error still answer 200 with an error:true record; only
// infrastructure failures map to error statuses.
func (rt *Router) analyzeDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)

	file, fileHeader, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'image' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read uploaded file"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "uploaded file is empty"})
		return
	}

	upload := domain.Upload{
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Data:     data,
	}

	ownerID := ownerIDFromContext(r.Context())
	record, err := rt.runner.Run(r.Context(), ownerID, r.FormValue("thread_id"), upload)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		slog.Error("analysis_run_failed",
			"request_id", requestIDFromContext(r.Context()),
			"status", status,
			"error", err,
		)
		writeJSON(w, status, map[string]string{"error": userFacingError(status)})
		return
	}

	writeJSON(w, http.StatusOK, record)
}

type historyResponse struct {
	UserID   string                  `json:"user_id"`
	Analyses []domain.AnalysisRecord `json:"analyses"`
	Total    int                     `json:"total"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
	HasMore  bool                    `json:"has_more"`
}

func (rt *Router) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := parseQueryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset := parseQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	ownerID := ownerIDFromContext(r.Context())
	records, total, err := rt.history.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		writeJSON(w, status, map[string]string{"error": userFacingError(status)})
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		UserID:   ownerID,
		Analyses: records,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  offset+limit < total,
	})
}

func (rt *Router) getHistoryByThread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	threadID := strings.TrimPrefix(r.URL.Path, "/v1/history/")
	if threadID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "thread id is required"})
		return
	}

	ownerID := ownerIDFromContext(r.Context())
	record, err := rt.history.Get(r.Context(), ownerID, threadID)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		writeJSON(w, status, map[string]string{"error": userFacingError(status)})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func parseQueryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func userFacingError(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "analysis not found"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable, retry later"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
