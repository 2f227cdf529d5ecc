package domain

import (
	"strings"
	"time"
)

const (
	LevelInternship = "internship"
	LevelEntry      = "entry"
	LevelMid        = "mid"
	LevelSenior     = "senior"
	LevelLead       = "lead"
	LevelExecutive  = "executive"
)

var experienceRanks = map[string]int{
	LevelInternship: 0,
	LevelEntry:      1,
	LevelMid:        2,
	LevelSenior:     3,
	LevelLead:       4,
	LevelExecutive:  5,
}

type SalaryRange struct {
	Min      float64 `json:"min,omitempty" validate:"gte=0"`
	Max      float64 `json:"max,omitempty" validate:"gte=0"`
	Currency string  `json:"currency,omitempty"`
}

// Midpoint falls back to whichever bound is set when the range is open.
func (s SalaryRange) Midpoint() float64 {
	switch {
	case s.Min > 0 && s.Max > 0:
		return (s.Min + s.Max) / 2
	case s.Max > 0:
		return s.Max
	default:
		return s.Min
	}
}

// JobRef is a job posting as the marketplace API reports it. It is never
// mutated after the gateway produces it.
type JobRef struct {
	ID                string      `json:"id" validate:"required"`
	Title             string      `json:"title" validate:"required"`
	Employer          string      `json:"employer"`
	Location          string      `json:"location,omitempty"`
	Category          string      `json:"category,omitempty"`
	Salary            SalaryRange `json:"salary"`
	Skills            []string    `json:"skills,omitempty"`
	AccessibilityTags []string    `json:"accessibility_tags,omitempty"`
	ExperienceLevel   string      `json:"experience_level,omitempty"`
	PostedAt          time.Time   `json:"posted_at,omitempty"`
}

func (j JobRef) Validate() error {
	return validate.Struct(j)
}

// ExperienceRank orders levels from internship upward. Unrecognized levels
// report -1.
func ExperienceRank(level string) int {
	rank, ok := experienceRanks[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return -1
	}
	return rank
}

type JobQuery struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
}
