// Package projection derives the rows a page renders from a fetched
// collection, the interaction store and local filters. Nothing here performs
// I/O.
package projection

import (
	"iter"
	"sort"
	"strings"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/interaction"
)

const DefaultPageSize = 9

type SortKey string

const (
	SortNone         SortKey = ""
	SortRecency      SortKey = "recency"
	SortSalary       SortKey = "salary"
	SortExperience   SortKey = "experience"
	SortAlphabetical SortKey = "alphabetical"
)

// ParseSortKey accepts the names used in query strings. Unknown names keep
// the collection order.
func ParseSortKey(s string) SortKey {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recency", "recent", "newest", "date":
		return SortRecency
	case "salary", "pay":
		return SortSalary
	case "experience", "level":
		return SortExperience
	case "alphabetical", "alpha", "title", "name":
		return SortAlphabetical
	default:
		return SortNone
	}
}

// Filters is the page-local UI state.
//
// Sort orders are newest first, highest salary midpoint first, lowest
// experience level first and titles A to Z. Reverse flips the comparison;
// ties keep collection order either way.
type Filters struct {
	Search   string  `json:"search,omitempty"`
	Sort     SortKey `json:"sort,omitempty"`
	Reverse  bool    `json:"reverse,omitempty"`
	PageSize int     `json:"page_size,omitempty"`
}

type Row struct {
	// Position is the row's zero-based index in the filtered, sorted list.
	Position int                      `json:"position"`
	Job      domain.JobRef            `json:"job"`
	Record   domain.InteractionRecord `json:"interaction"`
}

func (r Row) Controls() Controls {
	return DetailControls(r.Record)
}

type Page struct {
	Number     int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
	Total      int   `json:"total"`
	Rows       []Row `json:"rows"`
}

// Projection is an immutable filtered and sorted view. Any page can be read
// any number of times.
type Projection struct {
	filters  Filters
	pageSize int
	rows     []Row
}

func Project(jobs []domain.JobRef, store interaction.Reader, filters Filters) *Projection {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	needle := strings.ToLower(strings.TrimSpace(filters.Search))
	matched := make([]domain.JobRef, 0, len(jobs))
	for _, job := range jobs {
		if matches(job, needle) {
			matched = append(matched, job)
		}
	}

	if less := comparator(filters.Sort); less != nil {
		sort.SliceStable(matched, func(i, j int) bool {
			if filters.Reverse {
				return less(matched[j], matched[i])
			}
			return less(matched[i], matched[j])
		})
	}

	rows := make([]Row, len(matched))
	for i, job := range matched {
		rows[i] = Row{Position: i, Job: job, Record: store.Get(job.ID)}
	}
	return &Projection{filters: filters, pageSize: pageSize, rows: rows}
}

func (p *Projection) Filters() Filters {
	return p.filters
}

func (p *Projection) Total() int {
	return len(p.rows)
}

// TotalPages counts pages of the filtered list. It is 0 when nothing
// matched.
func (p *Projection) TotalPages() int {
	return (len(p.rows) + p.pageSize - 1) / p.pageSize
}

// Page returns page n, counted from 1. Numbers below 1 read page 1; pages
// past the end are empty.
func (p *Projection) Page(n int) Page {
	if n < 1 {
		n = 1
	}
	page := Page{
		Number:     n,
		PageSize:   p.pageSize,
		TotalPages: p.TotalPages(),
		Total:      len(p.rows),
		Rows:       []Row{},
	}
	start := (n - 1) * p.pageSize
	if start >= len(p.rows) {
		return page
	}
	end := min(start+p.pageSize, len(p.rows))
	page.Rows = append(page.Rows, p.rows[start:end]...)
	return page
}

// All yields every row in order. The sequence can be ranged over again.
func (p *Projection) All() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for i, row := range p.rows {
			if !yield(i, row) {
				return
			}
		}
	}
}

// Find returns the row for jobID if it survived filtering.
func (p *Projection) Find(jobID string) (Row, bool) {
	for _, row := range p.All() {
		if row.Job.ID == jobID {
			return row, true
		}
	}
	return Row{}, false
}

func matches(job domain.JobRef, needle string) bool {
	if needle == "" {
		return true
	}
	if containsFold(job.Title, needle) || containsFold(job.Employer, needle) || containsFold(job.Category, needle) {
		return true
	}
	for _, skill := range job.Skills {
		if containsFold(skill, needle) {
			return true
		}
	}
	return false
}

func containsFold(s, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}

func comparator(key SortKey) func(a, b domain.JobRef) bool {
	switch key {
	case SortRecency:
		return func(a, b domain.JobRef) bool { return a.PostedAt.After(b.PostedAt) }
	case SortSalary:
		return func(a, b domain.JobRef) bool { return a.Salary.Midpoint() > b.Salary.Midpoint() }
	case SortExperience:
		return func(a, b domain.JobRef) bool {
			ra, rb := domain.ExperienceRank(a.ExperienceLevel), domain.ExperienceRank(b.ExperienceLevel)
			// unranked levels go last
			if ra < 0 || rb < 0 {
				return ra >= 0 && rb < 0
			}
			return ra < rb
		}
	case SortAlphabetical:
		return func(a, b domain.JobRef) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	default:
		return nil
	}
}
