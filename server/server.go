package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"virtual_tryon/artifact"
	"virtual_tryon/generator"
	"virtual_tryon/ingest"
	"virtual_tryon/logging"
	"virtual_tryon/pipeline"
	"virtual_tryon/pool"
)

// Pipeline is what the handlers need from the orchestrator.
type Pipeline interface {
	Execute(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	GenerateModel(ctx context.Context, spec generator.ModelSpecification) (pipeline.Result, error)
	Merge(ctx context.Context, req pipeline.MergeRequest) (pipeline.Result, error)
}

type Checker interface {
	Check(ctx context.Context, path string) (generator.Verdict, error)
}

type Ingester interface {
	Ingest(encoded string) (string, error)
}

// Deps wires the server. Metrics and Stats are optional.
type Deps struct {
	Pipeline Pipeline
	Checker  Checker
	Ingestor Ingester
	Store    *artifact.Store
	Stats    func() pool.Stats
	Metrics  http.Handler
	Provider string
}

type Options struct {
	MaxUploadBytes int64
	RunTimeout     time.Duration
}

type Server struct {
	pipe     Pipeline
	checker  Checker
	ingestor Ingester
	store    *artifact.Store
	stats    func() pool.Stats
	metrics  http.Handler
	provider string
	opts     Options
	log      *slog.Logger
}

func New(d Deps, opts Options) (*Server, error) {
	switch {
	case d.Pipeline == nil:
		return nil, errors.New("pipeline required")
	case d.Checker == nil:
		return nil, errors.New("garment checker required")
	case d.Ingestor == nil:
		return nil, errors.New("ingestor required")
	case d.Store == nil:
		return nil, errors.New("artifact store required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	return &Server{
		pipe:     d.Pipeline,
		checker:  d.Checker,
		ingestor: d.Ingestor,
		store:    d.Store,
		stats:    d.Stats,
		metrics:  d.Metrics,
		provider: d.Provider,
		opts:     opts,
		log:      logging.New("server"),
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate-model", s.handleGenerate)
	mux.HandleFunc("POST /api/generate-step-by-step", s.handleStepByStep)
	mux.HandleFunc("POST /api/generate-model-only", s.handleModelOnly)
	mux.HandleFunc("POST /api/merge-clothing-only", s.handleMerge)
	mux.HandleFunc("POST /api/check-clothing", s.handleCheck)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	images := s.store.URLPrefix() + "/"
	mux.Handle("GET "+images, http.StripPrefix(images, imageHandler(s.store.OutputDir())))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /{$}", s.handleIndex)
	return logMiddleware(s.log, corsMiddleware(mux))
}

// runContext bounds one request's run.
func (s *Server) runContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.RunTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.opts.RunTimeout)
}

// decode reads a JSON body into v, capped at the upload limit.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "")
		return false
	}
	return true
}

// --- Helpers ---

type okResp struct {
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Message string `json:"message,omitempty"`
}

type errResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Stage   string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, stage string) {
	writeJSON(w, status, errResp{Error: msg, Stage: stage})
}

// writeRunError maps a run failure to a status code. Only the stage and the
// error message cross the boundary.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		decodeErr *ingest.DecodeError
		valErr    *generator.ValidationError
		genErr    *generator.GenerationError
	)
	switch {
	case errors.As(err, &valErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &decodeErr):
		status = http.StatusBadRequest
	case errors.Is(err, artifact.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &genErr):
		status = http.StatusBadGateway
	}

	var stageErr *pipeline.StageError
	stage := ""
	msg := err.Error()
	if errors.As(err, &stageErr) {
		stage = string(stageErr.Stage)
		msg = stageErr.Err.Error()
		if stageErr.Stage == pipeline.StageValidate && status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
	}
	s.log.Warn("request failed", "stage", stage, "status", status, "error", err)
	writeError(w, status, msg, stage)
}

func logMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// 前端单独部署，允许跨域访问。
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
