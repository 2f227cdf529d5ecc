package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationDraftValidate(t *testing.T) {
	tests := []struct {
		name    string
		draft   ApplicationDraft
		wantErr bool
	}{
		{
			name:  "minimal draft",
			draft: ApplicationDraft{ResumeRef: "resumes/u1/cv.pdf"},
		},
		{
			name: "full draft",
			draft: ApplicationDraft{
				ResumeRef:      "resumes/u1/cv.pdf",
				CoverLetter:    "Hello",
				ProposedSalary: 85000,
				WorkHistory:    []WorkExperience{{Title: "Engineer", Employer: "Acme"}},
				PortfolioLinks: []string{"https://example.com/me"},
			},
		},
		{
			name:    "missing resume",
			draft:   ApplicationDraft{CoverLetter: "Hello"},
			wantErr: true,
		},
		{
			name:    "negative salary",
			draft:   ApplicationDraft{ResumeRef: "cv.pdf", ProposedSalary: -1},
			wantErr: true,
		},
		{
			name:    "bad portfolio link",
			draft:   ApplicationDraft{ResumeRef: "cv.pdf", PortfolioLinks: []string{"not a url"}},
			wantErr: true,
		},
		{
			name:    "work history without title",
			draft:   ApplicationDraft{ResumeRef: "cv.pdf", WorkHistory: []WorkExperience{{Employer: "Acme"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobRefValidate(t *testing.T) {
	assert.NoError(t, JobRef{ID: "J1", Title: "Backend Engineer"}.Validate())
	assert.Error(t, JobRef{Title: "Backend Engineer"}.Validate())
	assert.Error(t, JobRef{ID: "J1"}.Validate())
}

func TestSalaryMidpoint(t *testing.T) {
	assert.Equal(t, 75000.0, SalaryRange{Min: 50000, Max: 100000}.Midpoint())
	assert.Equal(t, 40000.0, SalaryRange{Min: 40000}.Midpoint())
	assert.Equal(t, 90000.0, SalaryRange{Max: 90000}.Midpoint())
	assert.Zero(t, SalaryRange{}.Midpoint())
}

func TestExperienceRank(t *testing.T) {
	assert.Less(t, ExperienceRank(LevelEntry), ExperienceRank(LevelMid))
	assert.Less(t, ExperienceRank(LevelMid), ExperienceRank("Senior"))
	assert.Equal(t, -1, ExperienceRank("wizard"))
}

func TestTristateJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A Tristate `json:"a"`
		B Tristate `json:"b"`
		C Tristate `json:"c"`
	}{A: Unknown, B: False, C: True})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":false,"c":true}`, string(out))

	var got struct {
		A Tristate `json:"a"`
		C Tristate `json:"c"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, Unknown, got.A)
	assert.Equal(t, True, got.C)
}

func TestMutationKindField(t *testing.T) {
	assert.Equal(t, FieldSaved, MutationSave.Field())
	assert.Equal(t, FieldSaved, MutationUnsave.Field())
	assert.Equal(t, FieldApplied, MutationApply.Field())
	assert.Equal(t, FieldApplied, MutationWithdraw.Field())
	assert.Equal(t, True, MutationSave.Optimistic())
	assert.Equal(t, False, MutationWithdraw.Optimistic())
}

func TestPatchWithout(t *testing.T) {
	p := Patch{}.WithField(FieldSaved, True).WithField(FieldApplied, True)
	p.Application = &ApplicationSnapshot{ID: "A1", JobID: "J1"}

	saved := p.Without(FieldApplied)
	assert.NotNil(t, saved.Saved)
	assert.Nil(t, saved.Applied)
	assert.Nil(t, saved.Application)

	applied := p.Without(FieldSaved)
	assert.Nil(t, applied.Saved)
	assert.NotNil(t, applied.Applied)
	assert.True(t, Patch{}.Empty())
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := InteractionRecord{
		JobID:       "J1",
		Application: &ApplicationSnapshot{ID: "A1", JobID: "J1", PortfolioLinks: []string{"https://a.example"}},
		Pending:     &PendingMutation{Kind: MutationSave, RequestID: "r1"},
	}
	clone := rec.Clone()
	clone.Application.PortfolioLinks[0] = "changed"
	clone.Pending.RequestID = "r2"

	assert.Equal(t, "https://a.example", rec.Application.PortfolioLinks[0])
	assert.Equal(t, "r1", rec.Pending.RequestID)
}

func TestErrorKinds(t *testing.T) {
	err := NewError(KindConflict, "save", "J1", "", nil)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrRejected))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "job_id=J1")

	cause := errors.New("connection reset")
	netErr := NewError(KindNetworkFailure, "list saved jobs", "", "", cause)
	assert.True(t, errors.Is(netErr, ErrNetworkFailure))
	assert.True(t, errors.Is(netErr, cause))

	assert.Equal(t, KindNetworkFailure, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, "already withdrawn", MessageOf(NewError(KindRejected, "withdraw", "J1", "already withdrawn", nil)))
}
