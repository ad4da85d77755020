package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/cache"
	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/id/uuid"
	"github.com/JakeFAU/calendar-sources/internal/metrics"
)

const requestTimeout = 60 * time.Second

// Registry is the subset of the calendar registry served over HTTP.
type Registry interface {
	LoadExternalCalendar(ctx context.Context, id string, opts calendar.LoadOptions) calendar.LoadResult
	CheckForUpdates(ctx context.Context, id string) bool
	CacheStats() cache.Stats
	ClearCache()
	Protocols() []string
	Sources() []calendar.ExternalSource
	AddSource(ctx context.Context, src calendar.ExternalSource) (bool, error)
	RemoveSource(ctx context.Context, protocolName, loc string) (bool, error)
}

// IDGenerator assigns request ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Options tunes the server.
//   - APIKey: when set, /v1 routes require it in X-API-Key or ?api_key=.
//   - IDs: request id source (default UUIDv7).
type Options struct {
	APIKey string
	IDs    IDGenerator
}

// Server wires HTTP handlers to the calendar registry.
type Server struct {
	router   chi.Router
	registry Registry
	ids      IDGenerator
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(registry Registry, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IDs == nil {
		opts.IDs = uuid.New()
	}
	s := &Server{
		registry: registry,
		ids:      opts.IDs,
		logger:   logger,
	}
	sources := NewSourceHandler(registry, logger)

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/protocols", s.listProtocols)
		r.Route("/calendars", func(r chi.Router) {
			r.Get("/", s.loadCalendar)
			r.Get("/updates", s.checkForUpdates)
		})
		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.cacheStats)
			r.Delete("/", s.clearCache)
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sources.List)
			r.Post("/", sources.Add)
			r.Delete("/", sources.Remove)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listProtocols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"protocols": s.registry.Protocols()})
}

// loadCalendar handles GET /v1/calendars?id=&calendar=&skip_cache=&force=.
// The body is always the load result; the status reflects its error kind.
func (s *Server) loadCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	skipCache, err := parseBool(q.Get("skip_cache"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "skip_cache must be a boolean")
		return
	}
	force, err := parseBool(q.Get("force"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "force must be a boolean")
		return
	}

	res := s.registry.LoadExternalCalendar(r.Context(), id, calendar.LoadOptions{
		CalendarID:   q.Get("calendar"),
		SkipCache:    skipCache,
		ForceRefresh: force,
	})
	status := http.StatusOK
	if !res.Success {
		status = statusForKind(res.ErrorKind)
	}
	writeJSON(w, status, res)
}

func (s *Server) checkForUpdates(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	changed := s.registry.CheckForUpdates(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "changed": changed})
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.CacheStats())
}

func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	s.registry.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

// statusForKind maps a load failure onto an HTTP status.
func statusForKind(kind calendar.ErrorKind) int {
	switch kind {
	case calendar.KindMalformedIdentifier, calendar.KindProtocolNotRegistered:
		return http.StatusBadRequest
	case calendar.KindNotFound, calendar.KindSelectionNotFound:
		return http.StatusNotFound
	case calendar.KindAccessDenied:
		return http.StatusForbidden
	case calendar.KindAmbiguousSelection:
		return http.StatusConflict
	case calendar.KindRateLimited:
		return http.StatusTooManyRequests
	case calendar.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse bool %q: %w", raw, err)
	}
	return v, nil
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			var err error
			if reqID, err = s.ids.NewID(); err != nil {
				s.logger.Warn("generate request id failed", zap.Error(err))
			}
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
