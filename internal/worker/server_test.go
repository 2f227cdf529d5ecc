package worker

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/jobsync/internal/queue"
	"github.com/dunamismax/jobsync/internal/session"
)

type fakeSessions struct {
	result      session.ExpiryResult
	remaining   time.Duration
	rescheduled []time.Duration
	checked     []string
}

func (f *fakeSessions) ExpireIfIdle(sessionID, userID string) (session.ExpiryResult, time.Duration) {
	f.checked = append(f.checked, sessionID+"/"+userID)
	return f.result, f.remaining
}

func (f *fakeSessions) Reschedule(_ context.Context, _, _ string, delay time.Duration) {
	f.rescheduled = append(f.rescheduled, delay)
}

func (f *fakeSessions) Len() int { return 2 }

func newTestServer(sessions *fakeSessions) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return &Server{
		logger:   log.New(io.Discard, "", 0),
		sessions: sessions,
		metrics:  newMetrics(reg, func() float64 { return float64(sessions.Len()) }),
		tracer:   otel.Tracer("test"),
	}, reg
}

func expireTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := queue.NewSessionExpireTask(queue.SessionExpirePayload{SessionID: "s1", UserID: "u1", ScheduledAt: time.Now().UTC()})
	require.NoError(t, err)
	return task
}

func TestHandleSessionExpireReschedulesActiveSession(t *testing.T) {
	sessions := &fakeSessions{result: session.ExpiryActive, remaining: 4 * time.Minute}
	s, _ := newTestServer(sessions)

	require.NoError(t, s.handleSessionExpire(context.Background(), expireTask(t)))
	assert.Equal(t, []string{"s1/u1"}, sessions.checked)
	assert.Equal(t, []time.Duration{4 * time.Minute}, sessions.rescheduled)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.expiryChecksTotal.WithLabelValues("active")))
}

func TestHandleSessionExpireDoesNotRescheduleExpired(t *testing.T) {
	for _, result := range []session.ExpiryResult{session.ExpiryExpired, session.ExpiryGone} {
		sessions := &fakeSessions{result: result}
		s, _ := newTestServer(sessions)

		require.NoError(t, s.handleSessionExpire(context.Background(), expireTask(t)))
		assert.Empty(t, sessions.rescheduled)
	}
}

func TestHandleSessionExpireSkipsRetryOnBadPayload(t *testing.T) {
	s, _ := newTestServer(&fakeSessions{})

	err := s.handleSessionExpire(context.Background(), asynq.NewTask(queue.TypeSessionExpire, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestActiveSessionsGauge(t *testing.T) {
	_, reg := newTestServer(&fakeSessions{})
	count, err := testutil.GatherAndCount(reg, "jobsync_active_sessions")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
