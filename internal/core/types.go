package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Section identifies one independently extractable data domain within a run.
type Section string

const (
	SectionRevenue     Section = "revenue"
	SectionCampaigns   Section = "campaigns"
	SectionFlows       Section = "flows"
	SectionAttribution Section = "attribution"
	SectionListGrowth  Section = "list_growth"
	SectionForms       Section = "forms"
)

// AllSections returns every section in report order.
func AllSections() []Section {
	return []Section{
		SectionRevenue,
		SectionCampaigns,
		SectionFlows,
		SectionAttribution,
		SectionListGrowth,
		SectionForms,
	}
}

// SectionStatus reports how complete a section's extraction is.
type SectionStatus string

const (
	SectionOK      SectionStatus = "ok"
	SectionPartial SectionStatus = "partial"
	SectionFailed  SectionStatus = "failed"
)

// RunStatus is the composite state of one extraction run.
type RunStatus string

const (
	RunPending           RunStatus = "pending"
	RunRunning           RunStatus = "running"
	RunCompleted         RunStatus = "completed"
	RunCompletedWithGaps RunStatus = "completed_with_gaps"
	RunFailed            RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCompletedWithGaps, RunFailed:
		return true
	default:
		return false
	}
}

// ExtractionResult is the immutable output of one section for one run.
type ExtractionResult struct {
	Section     Section        `json:"section"`
	Status      SectionStatus  `json:"status"`
	Data        map[string]any `json:"data,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	Fatal       bool           `json:"fatal,omitempty"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// DateRange is the timeframe a run extracts over. An explicitly supplied
// range is used verbatim; Explicit distinguishes it from a derived lookback.
type DateRange struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Explicit bool      `json:"explicit"`
}

// ExplicitRange builds a verbatim range from caller-supplied bounds.
func ExplicitRange(start, end time.Time) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, errors.New("range start and end are required")
	}
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("range end %s precedes start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return DateRange{Start: start, End: end, Explicit: true}, nil
}

// RangeFromDays derives a lookback range ending at the most recent UTC
// midnight. The derivation depends only on days and now, so repeating it
// yields the same range.
func RangeFromDays(days int, now time.Time) DateRange {
	if days < 1 {
		days = 1
	}
	end := now.UTC().Truncate(24 * time.Hour)
	return DateRange{
		Start: end.AddDate(0, 0, -days),
		End:   end,
	}
}

// Days returns the whole-day span of the range, never below 1.
func (r DateRange) Days() int {
	days := int(r.End.Sub(r.Start) / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}

// Months splits the range into calendar-month sub-ranges, capped at limit.
// Used only by fallback paths when no explicit range was supplied.
func (r DateRange) Months(limit int) []DateRange {
	if limit < 1 {
		limit = 1
	}

	periods := make([]DateRange, 0, limit)
	cursor := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(r.End) && len(periods) < limit {
		next := cursor.AddDate(0, 1, 0)
		end := next
		if end.After(r.End) {
			end = r.End
		}
		start := cursor
		if start.Before(r.Start) {
			start = r.Start
		}
		periods = append(periods, DateRange{Start: start, End: end})
		cursor = next
	}
	return periods
}

// Dataset is the composite result handed to the report renderer.
type Dataset struct {
	RunID       string                        `json:"run_id"`
	Timeframe   DateRange                     `json:"timeframe"`
	Status      RunStatus                     `json:"status"`
	Sections    map[Section]*ExtractionResult `json:"sections"`
	Summary     string                        `json:"summary"`
	StartedAt   time.Time                     `json:"started_at"`
	CompletedAt time.Time                     `json:"completed_at"`
}

// Gaps returns the sections that did not complete cleanly, in report order.
func (d *Dataset) Gaps() []Section {
	if d == nil {
		return nil
	}
	gaps := make([]Section, 0)
	for _, section := range AllSections() {
		result, ok := d.Sections[section]
		if !ok || result == nil {
			gaps = append(gaps, section)
			continue
		}
		if result.Status != SectionOK {
			gaps = append(gaps, section)
		}
	}
	return gaps
}

// Summarize renders the human-readable run summary, e.g.
// "4 of 6 sections completed; gaps: flows, forms".
func (d *Dataset) Summarize() string {
	if d == nil {
		return ""
	}
	total := len(AllSections())
	gaps := d.Gaps()
	completed := total - len(gaps)
	if len(gaps) == 0 {
		return fmt.Sprintf("%d of %d sections completed", completed, total)
	}

	names := make([]string, 0, len(gaps))
	for _, gap := range gaps {
		names = append(names, string(gap))
	}
	sort.Strings(names)
	return fmt.Sprintf("%d of %d sections completed; gaps: %s",
		completed, total, strings.Join(names, ", "))
}
