package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/jobsync/internal/domain"
)

// rawObject is a decoded JSON object whose keys are looked up by a list of
// accepted spellings, first match wins.
type rawObject map[string]json.RawMessage

func decodeObject(data []byte) (rawObject, error) {
	var obj rawObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode response object: %w", err)
	}
	if obj == nil {
		obj = rawObject{}
	}
	return obj, nil
}

func (o rawObject) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := o[k]
		if ok && len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func (o rawObject) str(keys ...string) string {
	v, ok := o.raw(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func (o rawObject) num(keys ...string) float64 {
	v, ok := o.raw(keys...)
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f
	}
	return parseAmount(o.str(keys...))
}

func (o rawObject) boolean(keys ...string) bool {
	v, ok := o.raw(keys...)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	parsed, _ := strconv.ParseBool(o.str(keys...))
	return parsed
}

func (o rawObject) int(keys ...string) int {
	return int(o.num(keys...))
}

// strings accepts either a JSON array of strings or a comma separated string.
func (o rawObject) strings(keys ...string) []string {
	v, ok := o.raw(keys...)
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal(v, &list); err == nil {
		return compact(list)
	}
	var objs []rawObject
	if err := json.Unmarshal(v, &objs); err == nil {
		out := make([]string, 0, len(objs))
		for _, item := range objs {
			out = append(out, item.str("name", "label", "value", "url"))
		}
		return compact(out)
	}
	return compact(strings.Split(o.str(keys...), ","))
}

func (o rawObject) object(keys ...string) (rawObject, bool) {
	v, ok := o.raw(keys...)
	if !ok {
		return nil, false
	}
	var obj rawObject
	if err := json.Unmarshal(v, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func (o rawObject) objects(keys ...string) []rawObject {
	v, ok := o.raw(keys...)
	if !ok {
		return nil
	}
	var out []rawObject
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

func (o rawObject) time(keys ...string) time.Time {
	s := o.str(keys...)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func normalizeJob(o rawObject) (domain.JobRef, error) {
	job := domain.JobRef{
		ID:                o.str("id", "_id", "job_id", "jobId"),
		Title:             o.str("title", "job_title", "jobTitle", "position"),
		Employer:          employerOf(o),
		Location:          o.str("location", "job_location", "city"),
		Category:          o.str("category", "job_category", "industry"),
		Salary:            salaryOf(o),
		Skills:            o.strings("skills", "required_skills", "requiredSkills", "tags"),
		AccessibilityTags: o.strings("accessibility_tags", "accessibilityTags", "accessibility_features", "accessibility"),
		ExperienceLevel:   strings.ToLower(o.str("experience_level", "experienceLevel", "level", "seniority")),
		PostedAt:          o.time("posted_at", "postedAt", "created_at", "createdAt"),
	}
	if err := job.Validate(); err != nil {
		return domain.JobRef{}, fmt.Errorf("normalize job %q: %w", job.ID, err)
	}
	return job, nil
}

func employerOf(o rawObject) string {
	if company, ok := o.object("company", "employer"); ok {
		return company.str("name", "company_name", "companyName")
	}
	return o.str("employer", "company", "company_name", "companyName", "employer_name")
}

func salaryOf(o rawObject) domain.SalaryRange {
	if s, ok := o.object("salary", "salary_range", "salaryRange"); ok {
		return domain.SalaryRange{
			Min:      s.num("min", "minimum", "from"),
			Max:      s.num("max", "maximum", "to"),
			Currency: s.str("currency"),
		}
	}
	r := domain.SalaryRange{
		Min:      o.num("salary_min", "salaryMin", "min_salary", "minSalary"),
		Max:      o.num("salary_max", "salaryMax", "max_salary", "maxSalary"),
		Currency: o.str("salary_currency", "currency"),
	}
	if r.Min == 0 && r.Max == 0 {
		r.Min, r.Max = parseSalaryText(o.str("salary", "salary_range", "salaryRange"))
	}
	return r
}

// parseSalaryText handles "50000-70000", "$50,000 - $70,000" and single values.
func parseSalaryText(s string) (float64, float64) {
	if s == "" {
		return 0, 0
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '–' })
	switch len(parts) {
	case 0:
		return 0, 0
	case 1:
		v := parseAmount(parts[0])
		return v, v
	default:
		return parseAmount(parts[0]), parseAmount(parts[1])
	}
}

func parseAmount(s string) float64 {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1.0
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * mult
}

// normalizeApplication builds the canonical snapshot. jobID is used when the
// payload nests the job rather than naming it.
func normalizeApplication(o rawObject, jobID string) (domain.ApplicationSnapshot, error) {
	app := domain.ApplicationSnapshot{
		ID:             o.str("id", "_id", "application_id", "applicationId"),
		JobID:          o.str("job_id", "jobId"),
		ResumeRef:      o.str("resume_ref", "resume", "resume_url", "resumeUrl", "resume_key"),
		CoverLetter:    o.str("cover_letter", "coverLetter"),
		ProposedSalary: o.num("proposed_salary", "proposedSalary", "expected_salary", "expectedSalary", "salary_expectation"),
		PortfolioLinks: o.strings("portfolio_links", "portfolioLinks", "portfolio", "links"),
		SubmittedAt:    o.time("submitted_at", "submittedAt", "applied_at", "appliedAt", "created_at", "createdAt"),
		Status:         strings.ToLower(o.str("status", "state")),
	}
	if app.JobID == "" {
		app.JobID = jobID
	}
	for _, exp := range o.objects("work_history", "workHistory", "experience", "experiences") {
		w := domain.WorkExperience{
			Title:       exp.str("title", "job_title", "jobTitle", "position", "role"),
			Employer:    exp.str("employer", "company", "company_name", "companyName"),
			StartDate:   exp.str("start_date", "startDate", "from"),
			EndDate:     exp.str("end_date", "endDate", "to"),
			Description: exp.str("description", "summary"),
		}
		if w.Title == "" {
			continue
		}
		app.WorkHistory = append(app.WorkHistory, w)
	}
	if err := app.Validate(); err != nil {
		return domain.ApplicationSnapshot{}, fmt.Errorf("normalize application %q: %w", app.ID, err)
	}
	return app, nil
}

// normalizeApplicationEntry accepts both {job: {...}, ...application} and
// {application: {...}, job: {...}} layouts. A populated job reference may
// also arrive under jobId.
func normalizeApplicationEntry(o rawObject) (ApplicationEntry, error) {
	jobObj, ok := o.object("job", "jobId", "job_id", "jobDetails")
	if !ok {
		return ApplicationEntry{}, fmt.Errorf("application entry has no job")
	}
	job, err := normalizeJob(jobObj)
	if err != nil {
		return ApplicationEntry{}, err
	}

	appObj := o
	if nested, ok := o.object("application"); ok {
		appObj = nested
	}
	app, err := normalizeApplication(withoutKeys(appObj, "job", "jobId", "job_id", "jobDetails"), job.ID)
	if err != nil {
		return ApplicationEntry{}, err
	}
	return ApplicationEntry{Job: job, Application: app}, nil
}

func withoutKeys(o rawObject, keys ...string) rawObject {
	out := make(rawObject, len(o))
	for k, v := range o {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
