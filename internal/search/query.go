package search

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/apptindex/internal/document"
)

// Status constrains the cancellation flag.
type Status int

const (
	// StatusAny matches cancelled and active appointments.
	StatusAny Status = iota
	// StatusActive matches appointments that are not cancelled.
	StatusActive
	// StatusCancelled matches cancelled appointments.
	StatusCancelled
)

// ParseStatus accepts "", "any", "active" and "cancelled".
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "", "any", "all":
		return StatusAny, nil
	case "active":
		return StatusActive, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	}
	return StatusAny, fmt.Errorf("unknown status %q", s)
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCancelled:
		return "cancelled"
	default:
		return "any"
	}
}

// Filter selects appointments. Zero fields do not constrain the result.
// Only the calendar day of StartingDate and EndingDate is used; the time
// of day comes from StartingTime and EndingTime ("15:04" or "15:04:05").
type Filter struct {
	FormID       int       `json:"id_form,omitempty"`
	CategoryID   int       `json:"id_category,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	StartingDate time.Time `json:"starting_date,omitempty"`
	StartingTime string    `json:"starting_time,omitempty"`
	EndingDate   time.Time `json:"ending_date,omitempty"`
	EndingTime   string    `json:"ending_time,omitempty"`
	Status       Status    `json:"status,omitempty"`
}

// IsEmpty reports whether the filter has no constraint at all.
func (f Filter) IsEmpty() bool {
	return f.FormID <= 0 &&
		f.CategoryID <= 0 &&
		f.FirstName == "" &&
		f.LastName == "" &&
		f.Email == "" &&
		f.PhoneNumber == "" &&
		f.StartingDate.IsZero() &&
		f.EndingDate.IsZero() &&
		f.Status == StatusAny
}

var (
	minMillis = float64(math.MinInt64)
	maxMillis = float64(math.MaxInt64)
)

// BuildQuery translates f into an index query. An empty filter matches
// every document. Otherwise every present field adds a clause, and a
// start_date range clause is always present: open-ended on a missing
// bound, covering the whole domain when no date is given.
func BuildQuery(f Filter, loc *time.Location) (query.Query, error) {
	if f.IsEmpty() {
		return bleve.NewMatchAllQuery(), nil
	}
	if loc == nil {
		loc = time.Local
	}

	var clauses []query.Query
	if f.FormID > 0 {
		clauses = append(clauses, numericEquals(document.FieldFormID, f.FormID))
	}
	if f.CategoryID > 0 {
		clauses = append(clauses, numericEquals(document.FieldCategoryID, f.CategoryID))
	}
	if f.FirstName != "" {
		clauses = append(clauses, term(document.FieldFirstNameSearch, strings.ToLower(f.FirstName)))
	}
	if f.LastName != "" {
		clauses = append(clauses, term(document.FieldLastNameSearch, strings.ToLower(f.LastName)))
	}
	if f.Email != "" {
		clauses = append(clauses, term(document.FieldMailSearch, strings.ToLower(f.Email)))
	}
	if f.PhoneNumber != "" {
		clauses = append(clauses, term(document.FieldPhoneSearch, strings.ToLower(f.PhoneNumber)))
	}

	dates, err := dateRange(f, loc)
	if err != nil {
		return nil, err
	}
	clauses = append(clauses, dates)

	switch f.Status {
	case StatusActive:
		clauses = append(clauses, term(document.FieldCancelled, "false"))
	case StatusCancelled:
		clauses = append(clauses, term(document.FieldCancelled, "true"))
	}

	return bleve.NewConjunctionQuery(clauses...), nil
}

func dateRange(f Filter, loc *time.Location) (query.Query, error) {
	lo, hi := minMillis, maxMillis

	if !f.StartingDate.IsZero() {
		start, err := atTime(f.StartingDate, f.StartingTime, 0, loc)
		if err != nil {
			return nil, fmt.Errorf("starting time: %w", err)
		}
		lo = float64(document.EpochMillis(start))
	}
	if !f.EndingDate.IsZero() {
		end, err := atTime(f.EndingDate, f.EndingTime, endOfDay, loc)
		if err != nil {
			return nil, fmt.Errorf("ending time: %w", err)
		}
		hi = float64(document.EpochMillis(end))
	}

	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &inclusive, &inclusive)
	q.SetField(document.FieldStartDate)
	return q, nil
}

// endOfDay is 23:59:59.999 as an offset from midnight.
const endOfDay = 24*time.Hour - time.Millisecond

// atTime places the calendar day of day at clock in loc, or at fallback
// past midnight when clock is empty.
func atTime(day time.Time, clock string, fallback time.Duration, loc *time.Location) (time.Time, error) {
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if clock == "" {
		return midnight.Add(fallback), nil
	}

	var parsed time.Time
	var err error
	for _, layout := range []string{document.TimeLayout, "15:04:05", "15:04:05.000"} {
		if parsed, err = time.Parse(layout, clock); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q", clock)
	}
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), parsed.Second(), parsed.Nanosecond(), loc), nil
}

func numericEquals(field string, v int) query.Query {
	f := float64(v)
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&f, &f, &inclusive, &inclusive)
	q.SetField(field)
	return q
}

func term(field, value string) query.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}
