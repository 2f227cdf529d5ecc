package projection

import "github.com/dunamismax/jobsync/internal/domain"

type Control string

const (
	ControlLoading      Control = "loading"
	ControlApply        Control = "apply"
	ControlEditWithdraw Control = "edit_withdraw"
	ControlSave         Control = "save"
	ControlUnsave       Control = "unsave"
)

// Controls is what the job detail page offers for one record. An unknown
// fact always renders as ControlLoading, never as a guess.
type Controls struct {
	Application Control             `json:"application"`
	Save        Control             `json:"save"`
	Busy        bool                `json:"busy"`
	PendingKind domain.MutationKind `json:"pending_kind,omitempty"`
}

func DetailControls(rec domain.InteractionRecord) Controls {
	c := Controls{
		Application: ControlLoading,
		Save:        ControlLoading,
	}
	switch rec.Applied {
	case domain.True:
		c.Application = ControlEditWithdraw
	case domain.False:
		c.Application = ControlApply
	}
	switch rec.Saved {
	case domain.True:
		c.Save = ControlUnsave
	case domain.False:
		c.Save = ControlSave
	}
	if rec.Pending != nil {
		c.Busy = true
		c.PendingKind = rec.Pending.Kind
	}
	return c
}
