// Package validation runs data-driven search checks against an index.
// Cases are loaded from YAML so the expected behavior of filters, date
// ranges, status and sorting can be extended without code changes.
package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/apptindex/internal/search"
)

// FilterSpec is the YAML form of search.Filter. Dates are YYYY-MM-DD.
type FilterSpec struct {
	Form      int    `yaml:"form"`
	Category  int    `yaml:"category"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email"`
	Phone     string `yaml:"phone"`
	From      string `yaml:"from"`
	FromTime  string `yaml:"from_time"`
	To        string `yaml:"to"`
	ToTime    string `yaml:"to_time"`
	Status    string `yaml:"status"`
}

// Filter converts s into a search filter, reading dates in loc.
func (s FilterSpec) Filter(loc *time.Location) (search.Filter, error) {
	status, err := search.ParseStatus(s.Status)
	if err != nil {
		return search.Filter{}, err
	}
	f := search.Filter{
		FormID:       s.Form,
		CategoryID:   s.Category,
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		Email:        s.Email,
		PhoneNumber:  s.Phone,
		StartingTime: s.FromTime,
		EndingTime:   s.ToTime,
		Status:       status,
	}
	if s.From != "" {
		if f.StartingDate, err = time.ParseInLocation(time.DateOnly, s.From, loc); err != nil {
			return search.Filter{}, fmt.Errorf("from: %w", err)
		}
	}
	if s.To != "" {
		if f.EndingDate, err = time.ParseInLocation(time.DateOnly, s.To, loc); err != nil {
			return search.Filter{}, fmt.Errorf("to: %w", err)
		}
	}
	return f, nil
}

// Case is one search and the appointment ids it must return.
type Case struct {
	ID     string     `yaml:"id"`
	Name   string     `yaml:"name"`
	Filter FilterSpec `yaml:"filter"`
	Sort   string     `yaml:"sort"`
	Desc   bool       `yaml:"desc"`
	Start  int        `yaml:"start"`
	Limit  int        `yaml:"limit"`

	// Expected lists the ids of the returned page. With Ordered unset
	// only membership is compared.
	Expected []int `yaml:"expected"`
	Ordered  bool  `yaml:"ordered"`
	// Total is the expected match count; nil skips the check.
	Total *int   `yaml:"total"`
	Notes string `yaml:"notes"`
}

// Suite is a list of cases.
type Suite struct {
	TimeZone string `yaml:"time_zone"`
	Cases    []Case `yaml:"cases"`
}

// Load reads a suite from a YAML file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and checks a suite.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	var errs []error
	seen := map[string]bool{}
	for i, c := range s.Cases {
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("case %d: id is required", i))
		case seen[c.ID]:
			errs = append(errs, fmt.Errorf("case %s: duplicate id", c.ID))
		}
		seen[c.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &s, nil
}

// Location returns the suite's zone, or fallback when none is set.
func (s *Suite) Location(fallback *time.Location) (*time.Location, error) {
	if s.TimeZone == "" {
		return fallback, nil
	}
	return time.LoadLocation(s.TimeZone)
}

// Searcher answers searches. *search.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, f search.Filter, start, pageSize int, sort *search.SortSpec) search.Page
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Case     Case          `json:"case"`
	Passed   bool          `json:"passed"`
	Got      []int         `json:"got"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the outcome of a suite run.
type Result struct {
	Timestamp time.Time    `json:"timestamp"`
	Cases     []CaseResult `json:"cases"`
	Passed    int          `json:"passed"`
	Failed    int          `json:"failed"`
}

// OK reports whether every case passed.
func (r *Result) OK() bool {
	return r.Failed == 0
}

// Run executes every case against s.
func Run(ctx context.Context, s Searcher, suite *Suite, loc *time.Location) *Result {
	res := &Result{Timestamp: time.Now()}
	for _, c := range suite.Cases {
		cr := RunCase(ctx, s, c, loc)
		if cr.Passed {
			res.Passed++
		} else {
			res.Failed++
		}
		res.Cases = append(res.Cases, cr)
	}
	return res
}

// RunCase executes a single case.
func RunCase(ctx context.Context, s Searcher, c Case, loc *time.Location) CaseResult {
	cr := CaseResult{Case: c}

	f, err := c.Filter.Filter(loc)
	if err != nil {
		cr.Error = err.Error()
		return cr
	}
	var sort *search.SortSpec
	if c.Sort != "" {
		sort = &search.SortSpec{Attribute: c.Sort, Ascending: !c.Desc}
	}

	began := time.Now()
	page := s.Search(ctx, f, c.Start, c.Limit, sort)
	cr.Duration = time.Since(began)
	cr.Total = page.Total
	cr.Got = make([]int, 0, len(page.Items))
	for _, item := range page.Items {
		cr.Got = append(cr.Got, item.ID)
	}

	cr.Passed = matches(cr.Got, c.Expected, c.Ordered)
	if c.Total != nil && *c.Total != page.Total {
		cr.Passed = false
		cr.Error = fmt.Sprintf("total %d, expected %d", page.Total, *c.Total)
	}
	return cr
}

func matches(got, expected []int, ordered bool) bool {
	if len(got) != len(expected) {
		return false
	}
	if ordered {
		return slices.Equal(got, expected)
	}
	a, b := slices.Clone(got), slices.Clone(expected)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
