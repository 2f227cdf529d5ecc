package domain

import (
	"encoding/json"
	"time"
)

// Tristate is a fact that may not have been resolved yet. The zero value is
// Unknown.
type Tristate int8

const (
	Unknown Tristate = iota
	False
	True
)

func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

func (t Tristate) Known() bool {
	return t == True || t == False
}

// IsTrue reports a resolved true. Unknown is never true.
func (t Tristate) IsTrue() bool {
	return t == True
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

func (t Tristate) MarshalJSON() ([]byte, error) {
	if !t.Known() {
		return []byte("null"), nil
	}
	return json.Marshal(t == True)
}

func (t *Tristate) UnmarshalJSON(data []byte) error {
	var v *bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*t = Unknown
		return nil
	}
	*t = TristateOf(*v)
	return nil
}

// Ptr returns a pointer to t, for building patches.
func (t Tristate) Ptr() *Tristate {
	return &t
}

type MutationKind string

const (
	MutationSave     MutationKind = "save"
	MutationUnsave   MutationKind = "unsave"
	MutationApply    MutationKind = "apply"
	MutationWithdraw MutationKind = "withdraw"
)

type Field string

const (
	FieldSaved   Field = "saved"
	FieldApplied Field = "applied"
)

// Field is the record field a mutation of this kind governs.
func (k MutationKind) Field() Field {
	switch k {
	case MutationApply, MutationWithdraw:
		return FieldApplied
	default:
		return FieldSaved
	}
}

func (k MutationKind) Optimistic() Tristate {
	switch k {
	case MutationSave, MutationApply:
		return True
	default:
		return False
	}
}

type PendingMutation struct {
	Kind              MutationKind `json:"kind"`
	RequestID         string       `json:"request_id"`
	OptimisticApplied bool         `json:"optimistic_applied"`
	Prior             Tristate     `json:"-"`
	StartedAt         time.Time    `json:"started_at"`
}

type InteractionRecord struct {
	JobID       string               `json:"job_id"`
	Saved       Tristate             `json:"is_saved"`
	Applied     Tristate             `json:"has_applied"`
	Application *ApplicationSnapshot `json:"application,omitempty"`
	Version     uint64               `json:"version"`
	Pending     *PendingMutation     `json:"pending_mutation,omitempty"`
}

func NewInteractionRecord(jobID string) InteractionRecord {
	return InteractionRecord{JobID: jobID}
}

func (r InteractionRecord) IsPending() bool {
	return r.Pending != nil
}

func (r InteractionRecord) FieldValue(f Field) Tristate {
	if f == FieldApplied {
		return r.Applied
	}
	return r.Saved
}

// Clone returns a copy that shares no pointers with r.
func (r InteractionRecord) Clone() InteractionRecord {
	out := r
	out.Application = r.Application.Clone()
	if r.Pending != nil {
		p := *r.Pending
		out.Pending = &p
	}
	return out
}

// Patch carries the fields of a partial update. Nil pointers leave a field
// untouched; the Clear flags remove optional fields.
type Patch struct {
	Saved            *Tristate
	Applied          *Tristate
	Application      *ApplicationSnapshot
	ClearApplication bool
	Pending          *PendingMutation
	ClearPending     bool
}

func (p Patch) Empty() bool {
	return p.Saved == nil && p.Applied == nil && p.Application == nil &&
		!p.ClearApplication && p.Pending == nil && !p.ClearPending
}

// WithField sets the tri-state field f.
func (p Patch) WithField(f Field, v Tristate) Patch {
	if f == FieldApplied {
		p.Applied = v.Ptr()
	} else {
		p.Saved = v.Ptr()
	}
	return p
}

// Without drops any write to field f, including the snapshot for FieldApplied.
func (p Patch) Without(f Field) Patch {
	if f == FieldApplied {
		p.Applied = nil
		p.Application = nil
		p.ClearApplication = false
	} else {
		p.Saved = nil
	}
	return p
}
