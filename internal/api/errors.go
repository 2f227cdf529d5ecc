package api

import (
	"errors"
	"net/http"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/syncer"
)

// HTTPStatus maps an engine error to the status the pages expect.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNetworkFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("request failed route=%s status=%d err=%v", routeLabel(r.URL.Path), status, err)
	}
	writeJSON(w, status, errorBody{Error: domain.MessageOf(err), Kind: domain.KindOf(err)})
}

type warning struct {
	Collection syncer.Collection `json:"collection"`
	JobID      string            `json:"job_id,omitempty"`
	Kind       domain.ErrorKind  `json:"kind"`
	Message    string            `json:"message"`
}

// warningsFrom lists the parts of a reconciliation that failed. Everything
// else in the response is current.
func warningsFrom(report *syncer.Report) []warning {
	out := []warning{}
	if report == nil {
		return out
	}
	for _, f := range report.Failures {
		out = append(out, warning{
			Collection: f.Collection,
			JobID:      f.JobID,
			Kind:       domain.KindOf(f.Err),
			Message:    domain.MessageOf(f.Err),
		})
	}
	return out
}
