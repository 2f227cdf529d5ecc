package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/jobsync/internal/ratelimit"
	"github.com/dunamismax/jobsync/internal/session"
)

type Sessions interface {
	Acquire(ctx context.Context, userID, token string) (*session.Session, error)
	Logout(userID string) bool
}

type Attachments interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type RateLimiter interface {
	Take(ctx context.Context, userID string, cost int) (ratelimit.Decision, error)
	Refund(ctx context.Context, userID string, cost int) error
}

type Options struct {
	Logger      *log.Logger
	Sessions    Sessions
	Auth        *TokenService
	Attachments Attachments
	PresignTTL  time.Duration
	RateLimiter RateLimiter
	Registry    *prometheus.Registry
	Tracer      trace.Tracer
	// PageSize is the number of rows per rendered page.
	PageSize int
	// FetchPageSize is how many records one remote listing call asks for.
	FetchPageSize int
}

type Server struct {
	logger        *log.Logger
	sessions      Sessions
	auth          *TokenService
	attachments   Attachments
	presignTTL    time.Duration
	rateLimiter   RateLimiter
	metrics       *metrics
	tracer        trace.Tracer
	pageSize      int
	fetchPageSize int
	mux           *http.ServeMux
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Attachments == nil {
		opts.Attachments = unavailableAttachments{}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 9
	}
	if opts.FetchPageSize <= 0 {
		opts.FetchPageSize = 100
	}

	s := &Server{
		logger:        opts.Logger,
		sessions:      opts.Sessions,
		auth:          opts.Auth,
		attachments:   opts.Attachments,
		presignTTL:    opts.PresignTTL,
		rateLimiter:   opts.RateLimiter,
		metrics:       newMetrics(opts.Registry),
		tracer:        opts.Tracer,
		pageSize:      opts.PageSize,
		fetchPageSize: opts.FetchPageSize,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

var errAttachmentsUnavailable = errors.New("attachment storage is unavailable")

type unavailableAttachments struct{}

func (unavailableAttachments) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errAttachmentsUnavailable
}

func (unavailableAttachments) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errAttachmentsUnavailable
}

func (unavailableAttachments) ObjectExists(context.Context, string) (bool, error) {
	return false, errAttachmentsUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.Handle("GET /v1/jobs", s.session(s.handleBrowse))
	s.mux.Handle("GET /v1/saved-jobs", s.session(s.handleSavedJobs))
	s.mux.Handle("GET /v1/applications", s.session(s.handleApplications))
	s.mux.Handle("GET /v1/jobs/{id}", s.session(s.handleJobDetail))
	s.mux.Handle("POST /v1/jobs/{id}/save", s.session(s.handleSave))
	s.mux.Handle("DELETE /v1/jobs/{id}/save", s.session(s.handleUnsave))
	s.mux.Handle("POST /v1/jobs/{id}/application", s.session(s.handleApply))
	s.mux.Handle("DELETE /v1/jobs/{id}/application", s.session(s.handleWithdraw))
	s.mux.Handle("POST /v1/resumes", s.session(s.handleResumeUpload))
	s.mux.Handle("GET /v1/journal", s.session(s.handleJournal))
	s.mux.Handle("POST /v1/session/logout", s.withAuth(http.HandlerFunc(s.handleLogout)))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// session authenticates the request, applies the mutation rate limit and
// resolves the caller's session.
func (s *Server) session(h sessionHandler) http.Handler {
	return s.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, token := userFrom(r.Context())
		cost, ok := s.spend(w, r, userID)
		if !ok {
			return
		}

		sess, err := s.sessions.Acquire(r.Context(), userID, token)
		if err != nil {
			s.logger.Printf("acquire session failed user_id=%s err=%v", userID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session unavailable"})
			return
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(recorder, r, sess)
		s.refund(r.Context(), userID, cost, recorder.status)
	}))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFrom(r.Context())
	ended := s.sessions.Logout(userID)
	writeJSON(w, http.StatusOK, map[string]bool{"ended": ended})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
