package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/id"
	"github.com/dunamismax/jobsync/internal/projection"
	"github.com/dunamismax/jobsync/internal/session"
	"github.com/dunamismax/jobsync/internal/storage"
	"github.com/dunamismax/jobsync/internal/store"
	"github.com/dunamismax/jobsync/internal/syncer"
)

type rowView struct {
	projection.Row
	Controls projection.Controls `json:"controls"`
}

type viewResponse struct {
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
	Total      int       `json:"total"`
	Rows       []rowView `json:"rows"`
	Warnings   []warning `json:"warnings"`
}

func newViewResponse(page projection.Page, report *syncer.Report) viewResponse {
	rows := make([]rowView, 0, len(page.Rows))
	for _, row := range page.Rows {
		rows = append(rows, rowView{Row: row, Controls: row.Controls()})
	}
	return viewResponse{
		Page:       page.Number,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
		Total:      page.Total,
		Rows:       rows,
		Warnings:   warningsFrom(report),
	}
}

type recordResponse struct {
	JobID       string                   `json:"job_id"`
	Interaction domain.InteractionRecord `json:"interaction"`
	Controls    projection.Controls      `json:"controls"`
}

func newRecordResponse(jobID string, rec domain.InteractionRecord) recordResponse {
	return recordResponse{JobID: jobID, Interaction: rec, Controls: projection.DetailControls(rec)}
}

type detailResponse struct {
	Job         domain.JobRef            `json:"job"`
	Interaction domain.InteractionRecord `json:"interaction"`
	Controls    projection.Controls      `json:"controls"`
	ResumeURL   string                   `json:"resume_url,omitempty"`
	Warnings    []warning                `json:"warnings"`
}

type resumeUploadRequest struct {
	Filename string `json:"filename"`
}

type resumeUploadResponse struct {
	ResumeRef string `json:"resume_ref"`
	UploadURL string `json:"upload_url"`
}

// viewFilters reads q, sort, reverse and page from the query string.
func (s *Server) viewFilters(r *http.Request) (projection.Filters, int) {
	query := r.URL.Query()
	filters := projection.Filters{
		Search:   strings.TrimSpace(query.Get("q")),
		Sort:     projection.ParseSortKey(query.Get("sort")),
		PageSize: s.pageSize,
	}
	filters.Reverse, _ = strconv.ParseBool(query.Get("reverse"))
	return filters, parsePositiveInt(query.Get("page"), 1)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filters, page := s.viewFilters(r)
	query := domain.JobQuery{
		Page:     page,
		PageSize: s.pageSize,
		Search:   filters.Search,
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
	}

	listing, err := sess.Engine.BrowseJobs(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The marketplace already searched and paginated; only ordering is
	// applied here.
	filters.Search = ""
	filters.PageSize = max(len(listing.Jobs), 1)
	view := projection.Project(listing.Jobs, sess.Store, filters).Page(1)
	view.Number = page
	view.PageSize = s.pageSize
	view.Total = listing.Total
	view.TotalPages = listing.TotalPages
	writeJSON(w, http.StatusOK, newViewResponse(view, nil))
}

func (s *Server) handleSavedJobs(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filters, page := s.viewFilters(r)

	listing, report, err := sess.Engine.ReconcileAllSaved(r.Context(), s.fetchPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := projection.Project(listing.Jobs, sess.Store, filters).Page(page)
	writeJSON(w, http.StatusOK, newViewResponse(view, report))
}

func (s *Server) handleApplications(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	filters, page := s.viewFilters(r)

	listing, report, err := sess.Engine.ReconcileAllApplications(r.Context(), s.fetchPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := projection.Project(listing.Jobs, sess.Store, filters).Page(page)
	writeJSON(w, http.StatusOK, newViewResponse(view, report))
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	jobID := r.PathValue("id")

	job, report, err := sess.Engine.RefreshJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec := sess.Store.Get(jobID)
	resp := detailResponse{
		Job:         job,
		Interaction: rec,
		Controls:    projection.DetailControls(rec),
		Warnings:    warningsFrom(report),
	}
	if rec.Application != nil && storage.OwnedBy(rec.Application.ResumeRef, sess.UserID) {
		url, err := s.attachments.PresignedGetURL(r.Context(), rec.Application.ResumeRef, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign resume download failed job_id=%s err=%v", jobID, err)
		} else {
			resp.ResumeURL = url
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	jobID := r.PathValue("id")
	rec, err := sess.Engine.Save(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(jobID, rec))
}

func (s *Server) handleUnsave(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	jobID := r.PathValue("id")
	rec, err := sess.Engine.Unsave(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(jobID, rec))
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	jobID := r.PathValue("id")

	var draft domain.ApplicationDraft
	if err := decodeJSON(r, &draft); err != nil {
		s.writeError(w, r, domain.NewError(domain.KindInvalid, "apply", jobID, err.Error(), err))
		return
	}

	// Uploaded resumes must exist before the marketplace sees the reference.
	// Refs the marketplace issued itself are passed through.
	if storage.OwnedBy(draft.ResumeRef, sess.UserID) {
		ok, err := s.attachments.ObjectExists(r.Context(), draft.ResumeRef)
		if err != nil {
			s.logger.Printf("resume lookup failed job_id=%s err=%v", jobID, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "resume storage unavailable"})
			return
		}
		if !ok {
			s.writeError(w, r, domain.NewError(domain.KindInvalid, "apply", jobID, "resume has not been uploaded", nil))
			return
		}
	}

	rec, err := sess.Engine.Apply(r.Context(), jobID, draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(jobID, rec))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	jobID := r.PathValue("id")
	rec, err := sess.Engine.Withdraw(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(jobID, rec))
}

func (s *Server) handleResumeUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req resumeUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filename is required"})
		return
	}

	key := storage.ResumeKey(sess.UserID, id.New(), req.Filename)
	url, err := s.attachments.PresignedPutURL(r.Context(), key, s.presignTTL)
	if err != nil {
		if errors.Is(err, errAttachmentsUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Printf("presign resume upload failed user_id=%s err=%v", sess.UserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to prepare upload"})
		return
	}
	writeJSON(w, http.StatusCreated, resumeUploadResponse{ResumeRef: key, UploadURL: url})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	query := r.URL.Query()
	limit := min(parsePositiveInt(query.Get("limit"), 50), 500)

	entries, err := sess.Engine.Journal().List(r.Context(), sess.UserID, query.Get("job_id"), limit)
	if err != nil {
		s.logger.Printf("list journal failed user_id=%s err=%v", sess.UserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list journal"})
		return
	}
	if entries == nil {
		entries = []store.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func parsePositiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
