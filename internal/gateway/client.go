package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/jobsync/internal/domain"
)

const maxResponseBytes = 4 << 20

// TokenSource returns the bearer token for the signed-in user.
type TokenSource func() string

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	UserAgent      string
	Logger         *log.Logger
}

// Client talks to the marketplace REST API. Reads are retried with
// exponential backoff; mutations are sent once.
type Client struct {
	httpClient     *http.Client
	baseURL        *url.URL
	token          TokenSource
	userAgent      string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *log.Logger
}

var _ RemoteJobGateway = (*Client)(nil)

func NewClient(cfg Config, token TokenSource) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway base url %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 200 * time.Millisecond
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "jobsync/1"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if token == nil {
		token = func() string { return "" }
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:        base,
		token:          token,
		userAgent:      userAgent,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		logger:         logger,
	}, nil
}

func (c *Client) ListJobs(ctx context.Context, query domain.JobQuery) (JobsResponse, error) {
	q := pageQuery(query.Page, query.PageSize)
	if query.Search != "" {
		q.Set("search", query.Search)
	}
	if query.Category != "" {
		q.Set("category", query.Category)
	}
	obj, err := c.do(ctx, request{op: "list jobs", method: http.MethodGet, path: []string{"jobs"}, query: q})
	if err != nil {
		return JobsResponse{}, err
	}

	out := JobsResponse{
		Total:      obj.int("total", "totalJobs", "total_jobs", "count"),
		TotalPages: obj.int("totalPages", "total_pages", "pages"),
	}
	for _, item := range obj.objects("jobs", "data", "results") {
		job, err := normalizeJob(item)
		if err != nil {
			c.logger.Printf("skipping job entry err=%v", err)
			continue
		}
		out.Jobs = append(out.Jobs, job)
	}
	return out, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (domain.JobRef, error) {
	obj, err := c.do(ctx, request{op: "get job", jobID: jobID, method: http.MethodGet, path: []string{"jobs", jobID}})
	if err != nil {
		return domain.JobRef{}, err
	}
	if nested, ok := obj.object("job", "data"); ok {
		obj = nested
	}
	job, err := normalizeJob(obj)
	if err != nil {
		return domain.JobRef{}, domain.NewError(domain.KindRejected, "get job", jobID, "malformed job payload", err)
	}
	return job, nil
}

func (c *Client) ListSavedJobs(ctx context.Context, page, pageSize int) (SavedJobsResponse, error) {
	obj, err := c.do(ctx, request{op: "list saved jobs", method: http.MethodGet, path: []string{"saved-jobs"}, query: pageQuery(page, pageSize)})
	if err != nil {
		return SavedJobsResponse{}, err
	}

	out := SavedJobsResponse{Total: obj.int("total", "totalSaved", "count")}
	for _, item := range obj.objects("savedJobs", "saved_jobs", "jobs", "data") {
		if nested, ok := item.object("job", "jobId", "job_id"); ok {
			item = nested
		}
		job, err := normalizeJob(item)
		if err != nil {
			c.logger.Printf("skipping saved job entry err=%v", err)
			continue
		}
		out.Jobs = append(out.Jobs, job)
	}
	if out.Total == 0 {
		out.Total = len(out.Jobs)
	}
	return out, nil
}

func (c *Client) ListMyApplications(ctx context.Context, page, pageSize int) (ApplicationsResponse, error) {
	obj, err := c.do(ctx, request{op: "list applications", method: http.MethodGet, path: []string{"applications", "me"}, query: pageQuery(page, pageSize)})
	if err != nil {
		return ApplicationsResponse{}, err
	}

	out := ApplicationsResponse{TotalPages: obj.int("totalPages", "total_pages", "pages")}
	for _, item := range obj.objects("applications", "data", "results") {
		entry, err := normalizeApplicationEntry(item)
		if err != nil {
			c.logger.Printf("skipping application entry err=%v", err)
			continue
		}
		out.Applications = append(out.Applications, entry)
	}
	return out, nil
}

func (c *Client) CheckSaved(ctx context.Context, jobID string) (CheckSavedResponse, error) {
	obj, err := c.do(ctx, request{op: "check saved", jobID: jobID, method: http.MethodGet, path: []string{"saved-jobs", "check", jobID}})
	if err != nil {
		return CheckSavedResponse{}, err
	}
	return CheckSavedResponse{IsSaved: obj.boolean("isSaved", "is_saved", "saved")}, nil
}

func (c *Client) CheckApplied(ctx context.Context, jobID string) (CheckAppliedResponse, error) {
	obj, err := c.do(ctx, request{op: "check applied", jobID: jobID, method: http.MethodGet, path: []string{"applications", "check", jobID}})
	if err != nil {
		return CheckAppliedResponse{}, err
	}

	out := CheckAppliedResponse{HasApplied: obj.boolean("hasApplied", "has_applied", "applied")}
	if appObj, ok := obj.object("application"); ok && out.HasApplied {
		app, err := normalizeApplication(appObj, jobID)
		if err != nil {
			c.logger.Printf("dropping application snapshot job_id=%s err=%v", jobID, err)
		} else {
			out.Application = &app
		}
	}
	return out, nil
}

func (c *Client) Save(ctx context.Context, jobID string) (SaveResponse, error) {
	obj, err := c.do(ctx, request{op: "save job", jobID: jobID, method: http.MethodPost, path: []string{"saved-jobs", jobID}, mutation: true})
	if err != nil {
		if isAlready(err, "already saved") {
			return SaveResponse{Success: true, AlreadySaved: true}, nil
		}
		return SaveResponse{}, err
	}
	return SaveResponse{Success: true, AlreadySaved: obj.boolean("alreadySaved", "already_saved")}, nil
}

func (c *Client) Unsave(ctx context.Context, jobID string) (MutationResponse, error) {
	obj, err := c.do(ctx, request{op: "unsave job", jobID: jobID, method: http.MethodDelete, path: []string{"saved-jobs", jobID}, mutation: true})
	if err != nil {
		return MutationResponse{}, err
	}
	return MutationResponse{Success: true, Message: obj.str("message", "msg")}, nil
}

func (c *Client) Apply(ctx context.Context, jobID string, draft domain.ApplicationDraft) (ApplyResponse, error) {
	obj, err := c.do(ctx, request{op: "apply", jobID: jobID, method: http.MethodPost, path: []string{"applications", jobID}, body: draft, mutation: true})
	if err != nil {
		if isAlready(err, "already applied") {
			return ApplyResponse{Success: true, AlreadyApplied: true}, nil
		}
		return ApplyResponse{}, err
	}

	out := ApplyResponse{Success: true, AlreadyApplied: obj.boolean("alreadyApplied", "already_applied")}
	if appObj, ok := obj.object("application", "data"); ok {
		app, err := normalizeApplication(appObj, jobID)
		if err != nil {
			c.logger.Printf("dropping application snapshot job_id=%s err=%v", jobID, err)
		} else {
			out.Application = &app
		}
	}
	return out, nil
}

func (c *Client) WithdrawApplication(ctx context.Context, jobID string) (MutationResponse, error) {
	obj, err := c.do(ctx, request{op: "withdraw application", jobID: jobID, method: http.MethodDelete, path: []string{"applications", jobID}, mutation: true})
	if err != nil {
		return MutationResponse{}, err
	}
	return MutationResponse{Success: true, Message: obj.str("message", "msg")}, nil
}

type request struct {
	op       string
	jobID    string
	method   string
	path     []string
	query    url.Values
	body     any
	mutation bool
}

func (c *Client) do(ctx context.Context, r request) (rawObject, error) {
	var payload []byte
	if r.body != nil {
		var err error
		payload, err = json.Marshal(r.body)
		if err != nil {
			return nil, domain.NewError(domain.KindInvalid, r.op, r.jobID, "encode request body", err)
		}
	}

	segments := make([]string, len(r.path))
	for i, s := range r.path {
		segments[i] = url.PathEscape(s)
	}
	endpoint := c.baseURL.JoinPath(segments...)
	if len(r.query) > 0 {
		endpoint.RawQuery = r.query.Encode()
	}

	attempts := c.maxAttempts
	if r.mutation {
		attempts = 1
	}

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewError(domain.KindNetworkFailure, r.op, r.jobID, "request canceled", err)
		}

		obj, retry, err := c.attempt(ctx, r, endpoint.String(), payload)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		if !retry || attempt == attempts {
			break
		}

		c.logger.Printf("retrying op=%q job_id=%s attempt=%d err=%v", r.op, r.jobID, attempt, err)
		select {
		case <-ctx.Done():
			return nil, domain.NewError(domain.KindNetworkFailure, r.op, r.jobID, "request canceled", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = minDuration(backoff*2, c.maxBackoff)
	}
	return nil, lastErr
}

// attempt performs one round trip. retry reports whether the failure is
// transient.
func (c *Client) attempt(ctx context.Context, r request, endpoint string, payload []byte) (rawObject, bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return nil, false, domain.NewError(domain.KindInvalid, r.op, r.jobID, "build request", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, domain.NewError(domain.KindNetworkFailure, r.op, r.jobID, "marketplace unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, domain.NewError(domain.KindNetworkFailure, r.op, r.jobID, "read response", err)
	}

	obj, decodeErr := decodeObject(data)
	if len(bytes.TrimSpace(data)) == 0 {
		obj, decodeErr = rawObject{}, nil
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, domain.NewError(domain.KindNetworkFailure, r.op, r.jobID, serverMessage(obj, resp.StatusCode), statusError(resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, false, domain.NewError(domain.KindRejected, r.op, r.jobID, serverMessage(obj, resp.StatusCode), statusError(resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, domain.NewError(domain.KindNetworkFailure, r.op, r.jobID, "unexpected response", statusError(resp.StatusCode))
	}

	if decodeErr != nil {
		return nil, false, domain.NewError(domain.KindNetworkFailure, r.op, r.jobID, "malformed response", decodeErr)
	}
	if _, ok := obj.raw("success"); ok && !obj.boolean("success") {
		return nil, false, domain.NewError(domain.KindRejected, r.op, r.jobID, serverMessage(obj, resp.StatusCode), nil)
	}
	return obj, false, nil
}

func serverMessage(obj rawObject, status int) string {
	if msg := obj.str("message", "error", "msg", "detail"); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

type statusError int

func (s statusError) Error() string {
	return "status=" + strconv.Itoa(int(s))
}

func isAlready(err error, phrase string) bool {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindRejected {
		return false
	}
	return strings.Contains(strings.ToLower(de.Message), phrase)
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("limit", strconv.Itoa(pageSize))
	}
	return q
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
