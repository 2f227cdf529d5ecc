package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/jobsync/internal/config"
	"github.com/dunamismax/jobsync/internal/queue"
	"github.com/dunamismax/jobsync/internal/session"
)

// Sessions is the part of session.Manager the worker drives.
type Sessions interface {
	ExpireIfIdle(sessionID, userID string) (session.ExpiryResult, time.Duration)
	Reschedule(ctx context.Context, sessionID, userID string, delay time.Duration)
	Len() int
}

type Server struct {
	logger   *log.Logger
	server   *asynq.Server
	sessions Sessions
	metrics  *metrics
	tracer   trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	sessions Sessions,
	reg prometheus.Registerer,
) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.WarnLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sessions: sessions,
		metrics:  newMetrics(reg, func() float64 { return float64(sessions.Len()) }),
		tracer:   otel.Tracer("jobsync/worker"),
	}
	return s, nil
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeSessionExpire, s.handleSessionExpire)
	return mux
}

// Start processes tasks in the background until Shutdown.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) handleSessionExpire(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	defer func() {
		s.metrics.taskDuration.WithLabelValues(task.Type()).Observe(time.Since(startedAt).Seconds())
	}()

	payload, err := queue.ParseSessionExpirePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.session_expire", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("session.id", payload.SessionID),
		attribute.String("user.id", payload.UserID),
	)
	defer span.End()

	result, remaining := s.sessions.ExpireIfIdle(payload.SessionID, payload.UserID)
	s.metrics.expiryChecksTotal.WithLabelValues(string(result)).Inc()
	span.SetAttributes(attribute.String("session.expiry_result", string(result)))

	switch result {
	case session.ExpiryExpired:
		s.logger.Printf("session expired session_id=%s user_id=%s scheduled_at=%s", payload.SessionID, payload.UserID, payload.ScheduledAt.Format(time.RFC3339))
	case session.ExpiryActive:
		s.sessions.Reschedule(ctx, payload.SessionID, payload.UserID, remaining)
	}

	span.SetStatus(codes.Ok, string(result))
	return nil
}
