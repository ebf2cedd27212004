package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	"github.com/bryanwahyu/contract-risk/internal/application/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
	"github.com/bryanwahyu/contract-risk/internal/middleware"
)

// Options configure the outer HTTP layers. Zero values disable the feature.
type Options struct {
	APIKeys        map[string]string
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter
	MaxBodyBytes   int64
	Checks         map[string]middleware.HealthChecker
	Ready          func() bool
	Logger         hclog.Logger
}

type Router struct {
	svc     *analysis.Service
	log     hclog.Logger
	maxBody int64
}

func NewRouter(svc *analysis.Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	r := &Router{svc: svc, log: opts.Logger, maxBody: opts.MaxBodyBytes}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.LoggingMiddleware(opts.Logger))
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateLimiter != nil {
		mux.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checks))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Ready))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Handle("/metrics", middleware.MetricsHandler())

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/documents", r.wrap(r.handleSubmit))
		rt.Get("/documents", r.wrap(r.handleList))
		rt.Post("/documents/{id}/analyze", r.wrap(r.handleAnalyze))
		rt.Get("/documents/{id}/status", r.wrap(r.handleStatus))
		rt.Get("/documents/{id}/results", r.wrap(r.handleResults))
		rt.Get("/documents/{id}/attempts", r.wrap(r.handleAttempts))
		rt.Get("/patterns", r.wrap(r.handlePatterns))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps domain errors to status codes. Bodies carry PublicMessage
// only, never the wrapped cause.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var (
			conflict *risk.StateConflictError
			tooLarge *http.MaxBytesError
		)
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		case errors.Is(err, risk.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: risk.PublicMessage(err)})
		case errors.Is(err, risk.ErrNotFound), errors.Is(err, risk.ErrNoResult):
			writeJSON(w, http.StatusNotFound, errorBody{Error: risk.PublicMessage(err)})
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, errorBody{Error: risk.PublicMessage(err), State: conflict.State})
		case errors.Is(err, analysis.ErrClosed):
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: analysis.ErrClosed.Error()})
		default:
			r.log.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		}
	}
}

type errorBody struct {
	Error string     `json:"error"`
	State risk.State `json:"state,omitempty"`
}

// POST /v1/documents
// Body: {"document_id": "<optional>", "text": "...", "rerun": false}
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		DocumentID string `json:"document_id"`
		Text       string `json:"text"`
		Rerun      bool   `json:"rerun"`
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.maxBody)
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return &risk.InvalidInputError{Field: "body", Reason: "must not be empty"}
		}
		return &risk.InvalidInputError{Field: "body", Reason: "malformed JSON"}
	}

	res, err := r.svc.Submit(req.Context(), analysis.SubmitCommand{
		DocumentID: body.DocumentID,
		Text:       middleware.SanitizeText(body.Text),
		Rerun:      body.Rerun,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, res)
	return nil
}

// POST /v1/documents/{id}/analyze?rerun=true
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	rerun := middleware.ParseBool(req.URL.Query().Get("rerun"))

	attemptID, err := r.svc.Start(req.Context(), id, analysis.StartOptions{Rerun: rerun})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, analysis.SubmitResult{
		DocumentID: id,
		AttemptID:  attemptID,
		State:      risk.StateInProgress,
	})
	return nil
}

// GET /v1/documents?page=1&page_size=20
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, err := r.svc.List(req.Context(), middleware.ParseInt(q.Get("page")), middleware.ParseInt(q.Get("page_size")))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, page)
	return nil
}

// GET /v1/documents/{id}/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	doc, err := r.svc.Status(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

// GET /v1/documents/{id}/results
func (r *Router) handleResults(w http.ResponseWriter, req *http.Request) error {
	res, err := r.svc.Results(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// GET /v1/documents/{id}/attempts?limit=20
func (r *Router) handleAttempts(w http.ResponseWriter, req *http.Request) error {
	limit := middleware.ValidateLimit(middleware.ParseInt(req.URL.Query().Get("limit")), 20, 100)
	attempts, err := r.svc.Attempts(req.Context(), chi.URLParam(req, "id"), limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": attempts})
	return nil
}

// GET /v1/patterns
func (r *Router) handlePatterns(w http.ResponseWriter, req *http.Request) error {
	patterns := r.svc.Matcher.Catalog().Patterns()
	w.Header().Set("X-Pattern-Count", strconv.Itoa(len(patterns)))
	writeJSON(w, http.StatusOK, map[string]any{"data": patterns})
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
