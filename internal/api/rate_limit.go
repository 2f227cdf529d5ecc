package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/ratelimit"
)

// mutationKind names the mutation a request performs. Reads report false.
func mutationKind(r *http.Request) (domain.MutationKind, bool) {
	switch route := routeLabel(r.URL.Path); {
	case r.Method == http.MethodPost && route == "/v1/jobs/{id}/save":
		return domain.MutationSave, true
	case r.Method == http.MethodDelete && route == "/v1/jobs/{id}/save":
		return domain.MutationUnsave, true
	case r.Method == http.MethodPost && route == "/v1/jobs/{id}/application":
		return domain.MutationApply, true
	case r.Method == http.MethodDelete && route == "/v1/jobs/{id}/application":
		return domain.MutationWithdraw, true
	default:
		return "", false
	}
}

// spend takes the mutation's cost from the user's budget, writing a 429 when
// it is exhausted. It returns the tokens taken. Limiter failures let the
// request through.
func (s *Server) spend(w http.ResponseWriter, r *http.Request, userID string) (int, bool) {
	kind, ok := mutationKind(r)
	if s.rateLimiter == nil || !ok {
		return 0, true
	}

	cost := ratelimit.CostOf(kind)
	decision, err := s.rateLimiter.Take(r.Context(), userID, cost)
	if err != nil {
		s.logger.Printf("rate limiter check failed user_id=%s kind=%s err=%v", userID, kind, err)
		return 0, true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return cost, true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	})
	return 0, false
}

// refund gives tokens back when the mutation was refused before reaching the
// marketplace.
func (s *Server) refund(ctx context.Context, userID string, cost, status int) {
	if cost == 0 || (status != http.StatusConflict && status != http.StatusBadRequest) {
		return
	}
	if err := s.rateLimiter.Refund(context.WithoutCancel(ctx), userID, cost); err != nil {
		s.logger.Printf("rate limiter refund failed user_id=%s err=%v", userID, err)
	}
}
