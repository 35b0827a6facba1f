package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/qc-inspection/internal/config"
	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
	"github.com/kirillkom/qc-inspection/internal/observability/metrics"
)

const (
	serviceName = "api"

	maxJSONBodyFallback = 64 << 20
)

type Router struct {
	cfg      config.Config
	uploads  ports.UploadSessionManager
	files    ports.FileImporter
	progress ports.ProgressSubscriber
	metrics  *metrics.HTTPServerMetrics
}

// NewRouter builds the API router. progress and httpMetrics may be nil.
func NewRouter(
	cfg config.Config,
	uploads ports.UploadSessionManager,
	files ports.FileImporter,
	progress ports.ProgressSubscriber,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		uploads:  uploads,
		files:    files,
		progress: progress,
		metrics:  httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/orders/validate", rt.validateFile)
	api.HandleFunc("POST /v1/orders/import", rt.importFile(domain.ImportModeStandard))
	api.HandleFunc("POST /v1/compact/orders/import", rt.importFile(domain.ImportModeCompact))
	api.HandleFunc("POST /v1/orders/upload", rt.uploadAll)
	api.HandleFunc("POST /v1/orders/upload/init", rt.initUpload)
	api.HandleFunc("POST /v1/orders/upload/chunk", rt.uploadChunk)
	api.HandleFunc("GET /v1/orders/upload/{uploadId}", rt.getUpload)
	api.HandleFunc("DELETE /v1/orders/upload/{uploadId}", rt.cancelUpload)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}
	// Progress streams are long-lived and stay outside the in-flight cap.
	root.HandleFunc("GET /v1/orders/upload/{uploadId}/events", rt.streamProgress)
	root.Handle("/", backpressureMiddleware(api, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait))

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, []string{"/healthz", "/metrics"}, rt.onRateLimited)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) validateFile(w http.ResponseWriter, r *http.Request) {
	name, body, err := rt.multipartFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	result, err := rt.files.Inspect(r.Context(), domain.ImportModeStandard, name, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) importFile(mode domain.ImportMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, body, err := rt.multipartFile(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer body.Close()

		session, err := rt.files.Submit(r.Context(), mode, name, body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rt.recordSession("import_" + string(mode))
		writeJSON(w, http.StatusAccepted, session)
	}
}

func (rt *Router) uploadAll(w http.ResponseWriter, r *http.Request) {
	var req domain.SingleUploadRequest
	if err := rt.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	counters, err := rt.uploads.UploadAll(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRows(serviceName, "single", len(req.Rows), counters)
	}
	writeJSON(w, http.StatusOK, domain.SingleUploadResponse{Results: counters})
}

func (rt *Router) initUpload(w http.ResponseWriter, r *http.Request) {
	var req domain.InitUploadRequest
	if err := rt.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := rt.uploads.Init(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordSession("init")
	writeJSON(w, http.StatusOK, domain.InitUploadResponse{UploadID: session.ID})
}

func (rt *Router) uploadChunk(w http.ResponseWriter, r *http.Request) {
	var req domain.ChunkUploadRequest
	if err := rt.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	counters, err := rt.uploads.AcceptChunk(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRows(serviceName, "chunk", len(req.ChunkData), counters)
	}
	writeJSON(w, http.StatusOK, domain.ChunkUploadResponse{ChunkResult: counters})
}

func (rt *Router) getUpload(w http.ResponseWriter, r *http.Request) {
	session, err := rt.uploads.Get(r.Context(), r.PathValue("uploadId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (rt *Router) cancelUpload(w http.ResponseWriter, r *http.Request) {
	if err := rt.uploads.Cancel(r.Context(), r.PathValue("uploadId")); err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordSession("cancel")
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxBodyBytes())
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(out); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

// multipartFile streams the "file" part without buffering the whole form.
func (rt *Router) multipartFile(w http.ResponseWriter, r *http.Request) (string, io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxBodyBytes())
	reader, err := r.MultipartReader()
	if err != nil {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "read multipart", err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, domain.WrapError(domain.ErrInvalidInput, "read multipart", errors.New("multipart field 'file' is required"))
		}
		if err != nil {
			return "", nil, domain.WrapError(domain.ErrInvalidInput, "read multipart", err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		name := strings.TrimSpace(part.FileName())
		if name == "" {
			_ = part.Close()
			return "", nil, domain.WrapError(domain.ErrInvalidInput, "read multipart", errors.New("file name is required"))
		}
		return name, part, nil
	}
}

func (rt *Router) maxBodyBytes() int64 {
	if rt.cfg.APIMaxUploadBodyMB <= 0 {
		return maxJSONBodyFallback
	}
	return int64(rt.cfg.APIMaxUploadBodyMB) << 20
}

func (rt *Router) onRateLimited(r *http.Request) {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName, r.URL.Path)
	}
}

func (rt *Router) recordSession(event string) {
	if rt.metrics != nil {
		rt.metrics.RecordSessionEvent(serviceName, event)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
