package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"docgate/internal/search"
)

const (
	hookTokenHeader    = "x-docgate-hook-token"
	maxLoadBodyBytes   = 1 << 20
	maxStoreBodyBytes  = 64 << 20
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

type HTTPServer struct {
	service *Service
	metrics http.Handler
	logger  *zap.Logger
}

// NewHTTPServer serves service. Metrics are exposed from gatherer; a nil
// gatherer disables /metrics.
func NewHTTPServer(service *Service, gatherer prometheus.Gatherer, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{service: service, logger: logger.Named("http")}
	if gatherer != nil {
		s.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Readiness(ctx)
		status := "ready"
		statusCode := http.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/internal/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.ValidHookToken(r.Header.Get(hookTokenHeader)) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/internal/hooks/load" {
		s.handleLoad(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/internal/hooks/store" {
		s.handleStore(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/internal/search" {
		s.handleSearch(w, r)
		return
	}

	parts, err := splitPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", err.Error(), nil)
		return
	}
	// api, internal, documents, {name}[, view]
	if len(parts) >= 4 && len(parts) <= 5 && parts[2] == "documents" {
		view := ""
		if len(parts) == 5 {
			view = parts[4]
		}
		s.handleDocument(w, r, parts[3], view)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoadBodyBytes)
	var body struct {
		DocumentName   string       `json:"documentName"`
		RequestHeaders headerValues `json:"requestHeaders"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.documents.Load(r.Context(), body.DocumentName, body.RequestHeaders)
	if err != nil {
		s.service.logHookFailure(requestIDFrom(r.Context()), "load", body.DocumentName, err)
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentName": body.DocumentName,
		"state":        base64.StdEncoding.EncodeToString(result.State),
		"source":       result.Source,
		"title":        result.Title,
	})
}

func (s *HTTPServer) handleStore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxStoreBodyBytes)
	var body struct {
		DocumentName string `json:"documentName"`
		State        string `json:"state"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	state, err := base64.StdEncoding.DecodeString(body.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STATE", "state must be base64", nil)
		return
	}

	if err := s.service.documents.Store(r.Context(), body.DocumentName, state); err != nil {
		s.service.logHookFailure(requestIDFrom(r.Context()), "store", body.DocumentName, err)
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := queryInt(query, "limit", defaultSearchLimit)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	offset, err := queryInt(query, "offset", 0)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	response, err := s.service.Search(search.Query{
		Text:          query.Get("q"),
		FilterSpaceID: strings.TrimSpace(query.Get("spaceId")),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, name, view string) {
	switch {
	case r.Method == http.MethodDelete && view == "":
		if err := s.service.documents.Delete(r.Context(), name); err != nil {
			s.logger.Warn("delete document failed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("document", name),
				zap.Error(err),
			)
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && view == "html":
		html, err := s.service.Preview(r.Context(), name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(html))

	case r.Method == http.MethodGet && view == "pdf":
		pdf, filename, err := s.service.PDF(r.Context(), name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)

	case r.Method == http.MethodGet && view == "nodes":
		export, err := s.service.documents.Nodes(r.Context(), name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, export)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setDefaultHeaders(writer.Header())
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setDefaultHeaders(header http.Header) {
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// headerValues holds caller headers as the collaboration server forwards
// them: each value is either a string or a list of strings. Lists are folded
// the way net/http folds repeated headers, cookies with "; ".
type headerValues map[string]string

func (h *headerValues) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(headerValues, len(raw))
	for key, value := range raw {
		var single string
		if err := json.Unmarshal(value, &single); err == nil {
			out[key] = single
			continue
		}
		var many []string
		if err := json.Unmarshal(value, &many); err != nil {
			return fmt.Errorf("header %q must be a string or a list of strings", key)
		}
		sep := ", "
		if strings.EqualFold(key, "cookie") {
			sep = "; "
		}
		out[key] = strings.Join(many, sep)
	}
	*h = out
	return nil
}

// splitPath splits an escaped path and unescapes each segment, so a document
// name may contain an encoded slash.
func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		unescaped, err := url.PathUnescape(part)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q", part)
		}
		parts[i] = unescaped
	}
	return parts, nil
}

func queryInt(values url.Values, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return parsed, nil
}
