package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ideabot/api/internal/search"
	"ideabot/api/internal/util"
)

type HTTPServer struct {
	service *Service
	logger  zerolog.Logger
	next    http.Handler
	wg      sync.WaitGroup
}

type ServerOption func(*HTTPServer)

// WithFallthrough sets the handler that receives requests this server does
// not own, including interaction posts it does not recognize.
func WithFallthrough(next http.Handler) ServerOption {
	return func(s *HTTPServer) { s.next = next }
}

func NewHTTPServer(service *Service, logger zerolog.Logger, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{service: service, logger: logger, next: http.NotFoundHandler()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// Wait blocks until every workflow started after an acknowledgment has finished.
func (s *HTTPServer) Wait() {
	s.wg.Wait()
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/oauth" {
		if err := s.service.CompleteInstall(r.Context(), r.URL.Query().Get("code")); err != nil {
			s.failInteraction(w, r, err)
			return
		}
		http.Redirect(w, r, s.service.cfg.InstallPageURL(), http.StatusFound)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/install" {
		http.Redirect(w, r, s.service.InstallRedirectURL(util.NewRequestID()), http.StatusFound)
		return
	}

	if r.Method == http.MethodGet && (r.URL.Path == "/api/ideas" || r.URL.Path == "/api/ideas/search") && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ideas" {
		ideas, err := s.service.ListIdeas(r.Context(), r.URL.Query().Get("team_id"))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ideas": ideas})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ideas/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		resp, err := s.service.SearchIdeas(r.Context(), search.Query{
			TeamID: query.Get("team_id"),
			Text:   query.Get("q"),
			Limit:  limit,
		})
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/" {
		s.handleInteraction(w, r)
		return
	}

	s.next.ServeHTTP(w, r)
}

// authorized checks the read API bearer token. With no token configured the
// read API stays closed.
func (s *HTTPServer) authorized(r *http.Request) bool {
	want := s.service.cfg.APIToken
	got := bearerToken(r)
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// handleInteraction routes Slack's slash commands, dialog submissions and
// button actions. Submissions and actions are acknowledged before any work
// starts; failures after that point are only logged.
func (s *HTTPServer) handleInteraction(w http.ResponseWriter, r *http.Request) {
	values, err := readInteraction(r)
	if err != nil {
		s.failInteraction(w, r, err)
		return
	}

	kind, err := classify(values, s.service.cfg.SlashCommand)
	if err != nil {
		s.failInteraction(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Debug().Str("interaction", kind.kind()).Msg("interaction received")

	switch in := kind.(type) {
	case slashCommand:
		if err := s.service.OpenIdeaDialog(r.Context(), in.command); err != nil {
			s.failInteraction(w, r, err)
			return
		}
		acknowledge(w)
	case ideaSubmission:
		acknowledge(w)
		s.detach(r, in.kind(), func(ctx context.Context) error {
			return s.service.SubmitIdea(ctx, in.payload)
		})
	case likeAction:
		acknowledge(w)
		s.detach(r, in.kind(), func(ctx context.Context) error {
			return s.service.ToggleLike(ctx, in.payload, in.action)
		})
	case dialogCancellation:
		acknowledge(w)
	default:
		s.next.ServeHTTP(w, r)
	}
}

// detach runs fn after the response has been committed. It keeps the
// request's logger and id but not its cancellation.
func (s *HTTPServer) detach(r *http.Request, name string, fn func(ctx context.Context) error) {
	ctx := context.WithoutCancel(r.Context())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger := zerolog.Ctx(ctx)
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error().Str("workflow", name).Interface("panic", recovered).Msg("interaction workflow panicked")
			}
		}()
		if err := fn(ctx); err != nil {
			logger.Error().Err(err).Str("workflow", name).Msg("interaction workflow failed")
		}
	}()
}

// acknowledge sends Slack its empty 200 right away.
func acknowledge(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// failInteraction reports a pre-acknowledgment failure the way Slack shows
// it to the user: a 500 with a plain "ERROR: <message>" body.
func (s *HTTPServer) failInteraction(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("interaction failed")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprintf(w, "ERROR: %s", err.Error())
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = util.NewRequestID()
		}
		logger := s.logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
