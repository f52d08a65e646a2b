// Package mockserver serves an in-memory platform over the REST contract
// spoken by internal/platforms/rest.
package mockserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentstation/taxonsync/internal/platforms/memory"
	"github.com/agentstation/taxonsync/internal/platforms/rest"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/platform"
)

// ErrorBody is the error envelope returned by every failing route.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Routes exposes a memory platform.
type Routes struct {
	platform *memory.Platform
}

// ServerOption configures the mock server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates the router for p.
func NewServer(p *memory.Platform, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	routes := &Routes{platform: p}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "platform": p.ID().String()})
	})
	r.Route("/{kind}", func(r chi.Router) {
		r.Get("/", routes.search)
		r.Post("/", routes.create)
		r.Get("/by-key/{key}", routes.findByKey)
		r.Get("/{id}", routes.get)
		r.Put("/{id}", routes.update)
		r.Delete("/{id}", routes.delete)
		r.Put("/{id}/published", routes.setPublished)
	})
	return r
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (rr *Routes) kind(w http.ResponseWriter, r *http.Request) (catalog.Kind, bool) {
	kind, err := catalog.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_kind", err.Error())
		return "", false
	}
	return kind, true
}

// pathParam returns a route parameter unescaped. chi routes on the raw path
// whenever one is set, which happens when a key holds an escaped slash.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func (rr *Routes) get(w http.ResponseWriter, r *http.Request) {
	kind, ok := rr.kind(w, r)
	if !ok {
		return
	}
	res, err := rr.platform.Get(r.Context(), kind, pathParam(r, "id"))
	respond(w, http.StatusOK, res, err)
}

func (rr *Routes) findByKey(w http.ResponseWriter, r *http.Request) {
	kind, ok := rr.kind(w, r)
	if !ok {
		return
	}
	res, err := rr.platform.FindByKey(r.Context(), kind, pathParam(r, "key"))
	respond(w, http.StatusOK, res, err)
}

func (rr *Routes) search(w http.ResponseWriter, r *http.Request) {
	kind, ok := rr.kind(w, r)
	if !ok {
		return
	}
	var (
		items []platform.Resource
		err   error
	)
	if name := r.URL.Query().Get("name"); name != "" {
		items, err = rr.platform.SearchByName(r.Context(), kind, name)
	} else {
		items = rr.platform.List(kind)
	}
	if items == nil {
		items = []platform.Resource{}
	}
	respond(w, http.StatusOK, rest.ListResponse{Items: items}, err)
}

func (rr *Routes) create(w http.ResponseWriter, r *http.Request) {
	kind, ok := rr.kind(w, r)
	if !ok {
		return
	}
	var draft platform.Draft
	if !decode(w, r, &draft) {
		return
	}
	res, err := rr.platform.Create(r.Context(), kind, draft)
	respond(w, http.StatusCreated, res, err)
}

func (rr *Routes) update(w http.ResponseWriter, r *http.Request) {
	kind, ok := rr.kind(w, r)
	if !ok {
		return
	}
	var draft platform.Draft
	if !decode(w, r, &draft) {
		return
	}
	res, err := rr.platform.Update(r.Context(), kind, pathParam(r, "id"), draft)
	respond(w, http.StatusOK, res, err)
}

func (rr *Routes) delete(w http.ResponseWriter, r *http.Request) {
	kind, ok := rr.kind(w, r)
	if !ok {
		return
	}
	err := rr.platform.Delete(r.Context(), kind, pathParam(r, "id"))
	respond(w, http.StatusNoContent, nil, err)
}

func (rr *Routes) setPublished(w http.ResponseWriter, r *http.Request) {
	kind, ok := rr.kind(w, r)
	if !ok {
		return
	}
	var body rest.PublishRequest
	if !decode(w, r, &body) {
		return
	}
	err := rr.platform.SetPublished(r.Context(), kind, pathParam(r, "id"), body.Published)
	respond(w, http.StatusNoContent, nil, err)
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

// respond writes data with status, or maps err onto the REST contract.
func respond(w http.ResponseWriter, status int, data any, err error) {
	switch {
	case err == nil && data == nil:
		w.WriteHeader(status)
	case err == nil:
		writeJSON(w, status, data)
	case errors.IsConflict(err):
		writeError(w, http.StatusConflict, "unique_key_conflict", err.Error())
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.IsValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, "invalid", err.Error())
	default:
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
			writeError(w, apiErr.StatusCode, apiErr.Reason, apiErr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}
