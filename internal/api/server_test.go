package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/gateway"
	"github.com/dunamismax/jobsync/internal/projection"
	"github.com/dunamismax/jobsync/internal/ratelimit"
	"github.com/dunamismax/jobsync/internal/session"
	"github.com/dunamismax/jobsync/internal/store"
)

const testSecret = "test-secret-0123456789"

// marketplace is a stand-in for the remote jobs API.
type marketplace struct {
	mu        sync.Mutex
	jobs      map[string]map[string]any
	saved     map[string]bool
	applied   map[string]map[string]any
	failOps   map[string]int
	lastToken string
}

func newMarketplace() *marketplace {
	return &marketplace{
		jobs: map[string]map[string]any{
			"J1": {"_id": "J1", "job_title": "Backend Engineer", "company": "Acme", "skills": "go, sql"},
			"J2": {"_id": "J2", "job_title": "Data Analyst", "company_name": "Globex", "salary": map[string]any{"min": 50000, "max": 70000}},
			"J3": {"_id": "J3", "title": "Support Lead", "employer": "Initech"},
		},
		saved:   map[string]bool{},
		applied: map[string]map[string]any{},
		failOps: map[string]int{},
	}
}

func (m *marketplace) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
	track := func(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			m.mu.Lock()
			m.lastToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			status := m.failOps[r.Method+" "+r.URL.Path]
			m.mu.Unlock()
			if status != 0 {
				reply(w, status, map[string]string{"message": "marketplace unavailable"})
				return
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			next(w, r)
		}
	}

	mux.HandleFunc("GET /api/jobs", track(func(w http.ResponseWriter, _ *http.Request) {
		jobs := make([]any, 0, len(m.jobs))
		for _, id := range []string{"J1", "J2", "J3"} {
			jobs = append(jobs, m.jobs[id])
		}
		reply(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs), "totalPages": 1})
	}))
	mux.HandleFunc("GET /api/jobs/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		job, ok := m.jobs[r.PathValue("id")]
		if !ok {
			reply(w, http.StatusNotFound, map[string]string{"message": "job not found"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"job": job})
	}))
	mux.HandleFunc("GET /api/saved-jobs", track(func(w http.ResponseWriter, r *http.Request) {
		var entries []any
		for _, id := range m.jobIDs() {
			if m.saved[id] {
				entries = append(entries, map[string]any{"job": m.jobs[id]})
			}
		}
		page, _ := paginate(entries, r)
		reply(w, http.StatusOK, map[string]any{"savedJobs": page, "total": len(entries)})
	}))
	mux.HandleFunc("GET /api/applications/me", track(func(w http.ResponseWriter, r *http.Request) {
		var entries []any
		for _, id := range m.jobIDs() {
			if app, ok := m.applied[id]; ok {
				entries = append(entries, map[string]any{"job": m.jobs[id], "application": app})
			}
		}
		page, pages := paginate(entries, r)
		reply(w, http.StatusOK, map[string]any{"applications": page, "totalPages": pages})
	}))
	mux.HandleFunc("GET /api/saved-jobs/check/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"isSaved": m.saved[r.PathValue("id")]})
	}))
	mux.HandleFunc("GET /api/applications/check/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		app, ok := m.applied[r.PathValue("id")]
		if !ok {
			reply(w, http.StatusOK, map[string]any{"hasApplied": false})
			return
		}
		reply(w, http.StatusOK, map[string]any{"hasApplied": true, "application": app})
	}))
	mux.HandleFunc("POST /api/saved-jobs/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		m.saved[r.PathValue("id")] = true
		reply(w, http.StatusCreated, map[string]any{"success": true})
	}))
	mux.HandleFunc("DELETE /api/saved-jobs/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		delete(m.saved, r.PathValue("id"))
		reply(w, http.StatusOK, map[string]any{"success": true})
	}))
	mux.HandleFunc("POST /api/applications/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		var draft map[string]any
		_ = json.NewDecoder(r.Body).Decode(&draft)
		jobID := r.PathValue("id")
		app := map[string]any{"_id": "A-" + jobID, "resume": draft["resume_ref"], "status": "Submitted"}
		m.applied[jobID] = app
		reply(w, http.StatusCreated, map[string]any{"success": true, "application": app})
	}))
	mux.HandleFunc("DELETE /api/applications/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		delete(m.applied, r.PathValue("id"))
		reply(w, http.StatusOK, map[string]any{"success": true, "message": "withdrawn"})
	}))
	return mux
}

// jobIDs lists postings in a stable order. Callers hold m.mu.
func (m *marketplace) jobIDs() []string {
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// addPostings adds n saved postings, applying to every one when applied is
// set.
func (m *marketplace) addPostings(n int, applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range n {
		id := fmt.Sprintf("P%03d", i)
		m.jobs[id] = map[string]any{"_id": id, "title": "Posting " + id, "company": "Bulk Co"}
		m.saved[id] = true
		if applied {
			m.applied[id] = map[string]any{"_id": "A-" + id, "status": "Submitted"}
		}
	}
}

// paginate honors the page and limit query parameters the marketplace
// accepts. Without a limit the whole collection is one page.
func paginate(entries []any, r *http.Request) ([]any, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		return entries, 1
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	page = max(page, 1)
	pages := max((len(entries)+limit-1)/limit, 1)
	start := min((page-1)*limit, len(entries))
	end := min(start+limit, len(entries))
	return entries[start:end], pages
}

func (m *marketplace) setSaved(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[jobID] = true
}

func (m *marketplace) setApplied(jobID string, app map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[jobID] = app
}

func (m *marketplace) isSaved(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[jobID]
}

func (m *marketplace) applications() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

func (m *marketplace) fail(method, path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOps[method+" "+path] = status
}

func (m *marketplace) token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastToken
}

type fakeAttachments struct {
	mu       sync.Mutex
	uploaded map[string]bool
}

func (f *fakeAttachments) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.test/" + key + "?sig=get", nil
}

func (f *fakeAttachments) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.test/" + key + "?sig=put", nil
}

func (f *fakeAttachments) ObjectExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploaded[key], nil
}

type denyLimiter struct{}

func (denyLimiter) Take(context.Context, string, int) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 1500 * time.Millisecond}, nil
}

func (denyLimiter) Refund(context.Context, string, int) error {
	return nil
}

type ledgerLimiter struct {
	mu       sync.Mutex
	taken    int
	refunded int
}

func (l *ledgerLimiter) Take(_ context.Context, _ string, cost int) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taken += cost
	return ratelimit.Decision{Allowed: true, Remaining: 10}, nil
}

func (l *ledgerLimiter) Refund(_ context.Context, _ string, cost int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunded += cost
	return nil
}

type harness struct {
	t      *testing.T
	market *marketplace
	files  *fakeAttachments
	tokens *TokenService
	server *Server
	reg    *prometheus.Registry
}

func newHarness(t *testing.T, limiter RateLimiter) *harness {
	t.Helper()
	market := newMarketplace()
	upstream := httptest.NewServer(market.handler())
	t.Cleanup(upstream.Close)

	sessions := session.NewManager(session.Config{IdleTimeout: time.Minute}, func(token gateway.TokenSource) (gateway.RemoteJobGateway, error) {
		return gateway.NewClient(gateway.Config{BaseURL: upstream.URL + "/api", MaxAttempts: 1}, token)
	}, nil)
	t.Cleanup(sessions.Close)

	h := &harness{
		t:      t,
		market: market,
		files:  &fakeAttachments{uploaded: map[string]bool{}},
		tokens: NewTokenService(testSecret, "jobsync"),
		reg:    prometheus.NewRegistry(),
	}
	h.server = NewServer(Options{
		Sessions:    sessions,
		Auth:        h.tokens,
		Attachments: h.files,
		RateLimiter: limiter,
		Registry:    h.reg,
	})
	return h
}

func (h *harness) token(userID string) string {
	h.t.Helper()
	token, err := h.tokens.Issue(userID, time.Hour)
	require.NoError(h.t, err)
	return token
}

func (h *harness) do(method, target, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, target, &payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

type testRow struct {
	Position    int                      `json:"position"`
	Job         domain.JobRef            `json:"job"`
	Interaction domain.InteractionRecord `json:"interaction"`
	Controls    projection.Controls      `json:"controls"`
}

type testView struct {
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
	Total      int       `json:"total"`
	Rows       []testRow `json:"rows"`
	Warnings   []warning `json:"warnings"`
}

type testRecord struct {
	Interaction domain.InteractionRecord `json:"interaction"`
	Controls    projection.Controls      `json:"controls"`
}

type testDetail struct {
	Job         domain.JobRef            `json:"job"`
	Interaction domain.InteractionRecord `json:"interaction"`
	Controls    projection.Controls      `json:"controls"`
	ResumeURL   string                   `json:"resume_url"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthzNeedsNoToken(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectsMissingAndForeignTokens(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/v1/saved-jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	foreign, err := NewTokenService("another-secret-987654321", "jobsync").Issue("u1", time.Hour)
	require.NoError(t, err)
	rec = h.do(http.MethodGet, "/v1/saved-jobs", foreign, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := h.tokens.Issue("u1", -time.Minute)
	require.NoError(t, err)
	rec = h.do(http.MethodGet, "/v1/saved-jobs", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSavedViewIsEnrichedWithApplications(t *testing.T) {
	h := newHarness(t, nil)
	h.market.setSaved("J1")
	h.market.setSaved("J2")
	h.market.setApplied("J2", map[string]any{"_id": "A-J2", "coverLetter": "hello"})
	token := h.token("u1")

	rec := h.do(http.MethodGet, "/v1/saved-jobs?sort=alphabetical", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[testView](t, rec)

	require.Len(t, view.Rows, 2)
	assert.Equal(t, 1, view.TotalPages)
	assert.Empty(t, view.Warnings)
	assert.Equal(t, "J1", view.Rows[0].Job.ID)
	assert.Equal(t, "Acme", view.Rows[0].Job.Employer)
	assert.Equal(t, projection.ControlApply, view.Rows[0].Controls.Application)
	assert.Equal(t, projection.ControlUnsave, view.Rows[0].Controls.Save)
	assert.Equal(t, "J2", view.Rows[1].Job.ID)
	assert.Equal(t, projection.ControlEditWithdraw, view.Rows[1].Controls.Application)
	require.NotNil(t, view.Rows[1].Interaction.Application)
	assert.Equal(t, "hello", view.Rows[1].Interaction.Application.CoverLetter)
	assert.Equal(t, token, h.market.token())
}

func TestSavedViewReportsFailedChecksAsWarnings(t *testing.T) {
	h := newHarness(t, nil)
	h.market.setSaved("J1")
	h.market.fail(http.MethodGet, "/api/applications/check/J1", http.StatusInternalServerError)

	rec := h.do(http.MethodGet, "/v1/saved-jobs", h.token("u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[testView](t, rec)

	require.Len(t, view.Rows, 1)
	assert.Equal(t, projection.ControlLoading, view.Rows[0].Controls.Application)
	require.Len(t, view.Warnings, 1)
	assert.Equal(t, "J1", view.Warnings[0].JobID)
	assert.Equal(t, domain.KindNetworkFailure, view.Warnings[0].Kind)
}

func TestSavedViewSpansEveryRemotePage(t *testing.T) {
	h := newHarness(t, nil)
	h.market.addPostings(150, false)

	rec := h.do(http.MethodGet, "/v1/saved-jobs?page=17", h.token("u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[testView](t, rec)

	assert.Equal(t, 150, view.Total)
	assert.Equal(t, 17, view.TotalPages)
	assert.Equal(t, 17, view.Page)
	assert.Len(t, view.Rows, 6)
	for _, row := range view.Rows {
		assert.Equal(t, domain.True, row.Interaction.Saved)
		assert.Equal(t, domain.False, row.Interaction.Applied)
	}
}

func TestApplicationsViewSpansEveryRemotePage(t *testing.T) {
	h := newHarness(t, nil)
	h.market.addPostings(120, true)

	rec := h.do(http.MethodGet, "/v1/applications?page=14&q=posting", h.token("u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[testView](t, rec)

	assert.Equal(t, 120, view.Total)
	assert.Equal(t, 14, view.TotalPages)
	require.Len(t, view.Rows, 3)
	assert.Equal(t, domain.True, view.Rows[0].Interaction.Saved)
	assert.Equal(t, domain.True, view.Rows[0].Interaction.Applied)
}

func TestFailedListingMapsToBadGateway(t *testing.T) {
	h := newHarness(t, nil)
	h.market.fail(http.MethodGet, "/api/saved-jobs", http.StatusServiceUnavailable)

	rec := h.do(http.MethodGet, "/v1/saved-jobs", h.token("u1"), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, domain.KindNetworkFailure, body.Kind)
}

func TestBrowseShowsKnownStateOnly(t *testing.T) {
	h := newHarness(t, nil)
	token := h.token("u1")

	rec := h.do(http.MethodPost, "/v1/jobs/J3/save", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/v1/jobs?sort=alphabetical", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[testView](t, rec)

	require.Len(t, view.Rows, 3)
	assert.Equal(t, 3, view.Total)
	byID := map[string]testRow{}
	for _, row := range view.Rows {
		byID[row.Job.ID] = row
	}
	assert.Equal(t, domain.True, byID["J3"].Interaction.Saved)
	assert.Equal(t, domain.Unknown, byID["J1"].Interaction.Saved)
	assert.Equal(t, projection.ControlLoading, byID["J1"].Controls.Save)
}

func TestSaveThenUnsave(t *testing.T) {
	h := newHarness(t, nil)
	token := h.token("u1")

	rec := h.do(http.MethodPost, "/v1/jobs/J1/save", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[testRecord](t, rec)
	assert.Equal(t, domain.True, saved.Interaction.Saved)
	assert.Equal(t, projection.ControlUnsave, saved.Controls.Save)
	assert.Nil(t, saved.Interaction.Pending)

	rec = h.do(http.MethodDelete, "/v1/jobs/J1/save", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unsaved := decode[testRecord](t, rec)
	assert.Equal(t, domain.False, unsaved.Interaction.Saved)
	assert.Greater(t, unsaved.Interaction.Version, saved.Interaction.Version)
	assert.False(t, h.market.isSaved("J1"))

	rec = h.do(http.MethodGet, "/v1/journal?job_id=J1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	journal := decode[struct {
		Entries []store.JournalEntry `json:"entries"`
	}](t, rec)
	require.Len(t, journal.Entries, 2)
	assert.Equal(t, domain.MutationUnsave, journal.Entries[0].Kind)
	assert.Equal(t, store.OutcomeSucceeded, journal.Entries[0].Outcome)
}

func TestApplyRequiresUploadedResume(t *testing.T) {
	h := newHarness(t, nil)
	token := h.token("u1")

	rec := h.do(http.MethodPost, "/v1/resumes", token, map[string]string{"filename": "cv.pdf"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	upload := decode[resumeUploadResponse](t, rec)
	assert.True(t, strings.HasPrefix(upload.ResumeRef, "resumes/u1/"))
	assert.Contains(t, upload.UploadURL, "sig=put")

	draft := domain.ApplicationDraft{ResumeRef: upload.ResumeRef, CoverLetter: "Keen to join."}
	rec = h.do(http.MethodPost, "/v1/jobs/J2/application", token, draft)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.market.applications())

	h.files.mu.Lock()
	h.files.uploaded[upload.ResumeRef] = true
	h.files.mu.Unlock()

	rec = h.do(http.MethodPost, "/v1/jobs/J2/application", token, draft)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := decode[testRecord](t, rec)
	assert.Equal(t, domain.True, applied.Interaction.Applied)
	assert.Equal(t, projection.ControlEditWithdraw, applied.Controls.Application)

	rec = h.do(http.MethodGet, "/v1/jobs/J2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decode[testDetail](t, rec)
	assert.Equal(t, "Data Analyst", detail.Job.Title)
	assert.Equal(t, 60000.0, detail.Job.Salary.Midpoint())
	assert.Equal(t, domain.False, detail.Interaction.Saved)
	assert.Contains(t, detail.ResumeURL, upload.ResumeRef)
}

func TestApplyRejectsInvalidDraft(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/v1/jobs/J1/application", h.token("u1"), domain.ApplicationDraft{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, domain.KindInvalid, body.Kind)
}

func TestFailedWithdrawKeepsApplication(t *testing.T) {
	h := newHarness(t, nil)
	h.market.setApplied("J1", map[string]any{"_id": "A-J1"})
	token := h.token("u1")

	rec := h.do(http.MethodGet, "/v1/jobs/J1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h.market.fail(http.MethodDelete, "/api/applications/J1", http.StatusInternalServerError)
	rec = h.do(http.MethodDelete, "/v1/jobs/J1/application", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = h.do(http.MethodGet, "/v1/applications", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[testView](t, rec)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, domain.True, view.Rows[0].Interaction.Applied)
	require.NotNil(t, view.Rows[0].Interaction.Application)
	assert.Equal(t, "A-J1", view.Rows[0].Interaction.Application.ID)
}

func TestWithdrawShowsApplyControl(t *testing.T) {
	h := newHarness(t, nil)
	h.market.setApplied("J1", map[string]any{"_id": "A-J1"})
	token := h.token("u1")

	rec := h.do(http.MethodDelete, "/v1/jobs/J1/application", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	withdrawn := decode[testRecord](t, rec)
	assert.Equal(t, domain.False, withdrawn.Interaction.Applied)
	assert.Nil(t, withdrawn.Interaction.Application)
	assert.Equal(t, projection.ControlApply, withdrawn.Controls.Application)
}

func TestRateLimitedMutation(t *testing.T) {
	h := newHarness(t, denyLimiter{})
	token := h.token("u1")

	rec := h.do(http.MethodPost, "/v1/jobs/J1/save", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.False(t, h.market.isSaved("J1"))

	rec = h.do(http.MethodGet, "/v1/saved-jobs", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefusedMutationIsRefunded(t *testing.T) {
	limiter := &ledgerLimiter{}
	h := newHarness(t, limiter)
	token := h.token("u1")

	rec := h.do(http.MethodPost, "/v1/jobs/J1/application", token, domain.ApplicationDraft{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPost, "/v1/jobs/J1/save", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodGet, "/v1/saved-jobs", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Equal(t, 3, limiter.taken)
	assert.Equal(t, 2, limiter.refunded)
}

func TestLogoutEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	token := h.token("u1")

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/saved-jobs", token, nil).Code)
	rec := h.do(http.MethodPost, "/v1/session/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"ended": true}, decode[map[string]bool](t, rec))

	rec = h.do(http.MethodPost, "/v1/session/logout", token, nil)
	assert.Equal(t, map[string]bool{"ended": false}, decode[map[string]bool](t, rec))
}

func TestMetricsEndpointReportsRoutes(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/healthz", "", nil)

	rec := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `jobsync_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		domain.NewError(domain.KindConflict, "save", "J1", "busy", nil):          http.StatusConflict,
		domain.NewError(domain.KindRejected, "save", "J1", "no", nil):            http.StatusUnprocessableEntity,
		domain.NewError(domain.KindInvalid, "apply", "J1", "bad", nil):           http.StatusBadRequest,
		domain.NewError(domain.KindNetworkFailure, "save", "J1", "offline", nil): http.StatusBadGateway,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs":                 "/v1/jobs",
		"/v1/jobs/abc":             "/v1/jobs/{id}",
		"/v1/jobs/abc/save":        "/v1/jobs/{id}/save",
		"/v1/jobs/abc/application": "/v1/jobs/{id}/application",
		"/v1/saved-jobs":           "/v1/saved-jobs",
		"/wp-admin":                "other",
	}
	for path, want := range cases {
		assert.Equal(t, want, routeLabel(path), path)
	}
}
