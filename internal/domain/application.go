package domain

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type WorkExperience struct {
	Title       string `json:"title" validate:"required"`
	Employer    string `json:"employer,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

// ApplicationSnapshot is the canonical application payload. Backend field
// variants are resolved by the gateway before a snapshot is built.
type ApplicationSnapshot struct {
	ID             string           `json:"id" validate:"required"`
	JobID          string           `json:"job_id" validate:"required"`
	ResumeRef      string           `json:"resume_ref,omitempty"`
	CoverLetter    string           `json:"cover_letter,omitempty"`
	ProposedSalary float64          `json:"proposed_salary,omitempty" validate:"gte=0"`
	WorkHistory    []WorkExperience `json:"work_history,omitempty" validate:"dive"`
	PortfolioLinks []string         `json:"portfolio_links,omitempty"`
	SubmittedAt    time.Time        `json:"submitted_at,omitempty"`
	Status         string           `json:"status,omitempty"`
}

func (a ApplicationSnapshot) Validate() error {
	return validate.Struct(a)
}

func (a *ApplicationSnapshot) Clone() *ApplicationSnapshot {
	if a == nil {
		return nil
	}
	out := *a
	out.WorkHistory = append([]WorkExperience(nil), a.WorkHistory...)
	out.PortfolioLinks = append([]string(nil), a.PortfolioLinks...)
	return &out
}

// ApplicationDraft is what the job seeker submits when applying.
type ApplicationDraft struct {
	ResumeRef      string           `json:"resume_ref" validate:"required"`
	CoverLetter    string           `json:"cover_letter,omitempty" validate:"max=10000"`
	ProposedSalary float64          `json:"proposed_salary,omitempty" validate:"gte=0"`
	WorkHistory    []WorkExperience `json:"work_history,omitempty" validate:"dive"`
	PortfolioLinks []string         `json:"portfolio_links,omitempty" validate:"dive,url"`
}

func (d ApplicationDraft) Validate() error {
	return validate.Struct(d)
}
