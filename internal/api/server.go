package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/metrics"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
	"github.com/JakeFAU/paperfetch/internal/progress/sinks"
	"github.com/JakeFAU/paperfetch/internal/session"
	"github.com/JakeFAU/paperfetch/internal/sources"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	storeTimeout     = 5 * time.Second
)

// Sessions is the session manager surface the API drives.
type Sessions interface {
	Submit(ctx context.Context, req newspaper.Request) (string, error)
	Cancel(id string) error
	Get(ctx context.Context, id string) (newspaper.Record, error)
	List(ctx context.Context, limit int) ([]newspaper.Record, error)
}

// History returns the progress log lines of a session.
type History interface {
	Lines(sessionID string) []sinks.Line
}

// Options configures auth and readiness.
type Options struct {
	AuthEnabled bool
	APIKey      string
	// DefaultSources is used when a request names none.
	DefaultSources []string
	// Ready reports whether downstream dependencies are usable.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the session manager.
type Server struct {
	router   chi.Router
	sessions Sessions
	history  History
	registry *sources.Registry
	validate *validator.Validate
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sessions Sessions,
	history History,
	registry *sources.Registry,
	opts Options,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		history:  history,
		registry: registry,
		validate: validator.New(),
		opts:     opts,
		logger:   logger.Named("api"),
	}
	if err := s.validate.RegisterValidation("source", s.knownSource); err != nil {
		return nil, fmt.Errorf("register source validation: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(echoRequestID)
	r.Use(accessLog(s.logger))
	r.Use(recoverJSON(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(requireAPIKey(opts.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.submitSession)
			r.Get("/", s.listSessions)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/cancel", s.cancelSession)
				r.Get("/log", s.sessionLog)
			})
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) knownSource(fl validator.FieldLevel) bool {
	_, err := s.registry.Lookup(fl.Field().String())
	return err == nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sourceDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.All()
	out := make([]sourceDTO, 0, len(all))
	for _, src := range all {
		out = append(out, sourceDTO{ID: src.ID(), Name: src.Name()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

type sessionRequest struct {
	Date    string   `json:"date" validate:"required,datetime=2006-01-02"`
	Sources []string `json:"sources" validate:"omitempty,max=16,dive,required,source"`
}

func (s *Server) submitSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.logger.Debug("session request rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	date, err := time.Parse(newspaper.DateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	srcs := req.Sources
	if len(srcs) == 0 {
		srcs = s.opts.DefaultSources
	}
	if len(srcs) == 0 {
		writeError(w, http.StatusBadRequest, newspaper.ErrNoSources.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	id, err := s.sessions.Submit(ctx, newspaper.Request{Date: date, Sources: append([]string(nil), srcs...)})
	if err != nil {
		s.writeSessionError(w, "submit session", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": string(newspaper.StatusIdle)})
}

type sessionDTO struct {
	ID        string           `json:"id"`
	Date      string           `json:"date"`
	Sources   []string         `json:"sources"`
	Status    newspaper.Status `json:"status"`
	Submitted time.Time        `json:"submitted_at"`
	Started   *time.Time       `json:"started_at,omitempty"`
	Finished  *time.Time       `json:"finished_at,omitempty"`
	Counts    newspaper.Counts `json:"counts"`
	Error     string           `json:"error,omitempty"`
}

func toSessionDTO(rec newspaper.Record) sessionDTO {
	return sessionDTO{
		ID:        rec.ID,
		Date:      rec.Request.Date.Format(newspaper.DateLayout),
		Sources:   rec.Request.Sources,
		Status:    rec.Status,
		Submitted: rec.Submitted,
		Started:   rec.Started,
		Finished:  rec.Finished,
		Counts:    rec.Counts,
		Error:     rec.ErrorText,
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	recs, err := s.sessions.List(ctx, limit)
	if err != nil {
		s.writeSessionError(w, "list sessions", err)
		return
	}
	out := make([]sessionDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toSessionDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	rec, err := s.sessions.Get(ctx, chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeSessionError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(rec))
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if err := s.sessions.Cancel(id); err != nil {
		s.writeSessionError(w, "cancel session", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "cancelling"})
}

func (s *Server) sessionLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if _, err := s.sessions.Get(ctx, id); err != nil {
		s.writeSessionError(w, "session log", err)
		return
	}
	lines := []sinks.Line{}
	if s.history != nil {
		lines = append(lines, s.history.Lines(id)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "lines": lines})
}

func (s *Server) writeSessionError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, newspaper.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrFinished):
		writeError(w, http.StatusConflict, "session already finished")
	case errors.Is(err, session.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "session queue is full")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return strings.ToLower(fe.Field()) + " is required"
	case "datetime":
		return "date must be YYYY-MM-DD"
	case "source":
		return fmt.Sprintf("%s: %q", newspaper.ErrUnknownSource, fe.Value())
	default:
		return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
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
