package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/apptindex/internal/document"
	"github.com/Aman-CERP/apptindex/internal/search"
)

const suiteYAML = `
time_zone: Europe/Paris
cases:
  - id: by-name
    name: last name substring
    filter:
      last_name: love
    expected: [10]
  - id: sorted
    filter:
      from: 2024-03-01
      status: active
    sort: start_date
    desc: true
    expected: [12, 10]
    ordered: true
    total: 2
`

// fakeSearcher returns ids and records the last request.
type fakeSearcher struct {
	ids   []int
	total int
	last  search.Filter
	sort  *search.SortSpec
}

func (f *fakeSearcher) Search(_ context.Context, filter search.Filter, _, _ int, sort *search.SortSpec) search.Page {
	f.last, f.sort = filter, sort
	page := search.Page{Total: f.total}
	for _, id := range f.ids {
		page.Items = append(page.Items, document.SearchItem{ID: id})
	}
	return page
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(suiteYAML))
	require.NoError(t, err)

	require.Len(t, s.Cases, 2)
	assert.Equal(t, "love", s.Cases[0].Filter.LastName)
	assert.Nil(t, s.Cases[0].Total)
	require.NotNil(t, s.Cases[1].Total)
	assert.Equal(t, 2, *s.Cases[1].Total)

	loc, err := s.Location(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("cases:\n  - name: anonymous\n"))
	assert.ErrorContains(t, err, "id is required")

	_, err = Parse([]byte("cases:\n  - id: a\n  - id: a\n"))
	assert.ErrorContains(t, err, "duplicate id")

	_, err = Parse([]byte("cases: {"))
	assert.Error(t, err)
}

func TestFilterSpec_Filter(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	f, err := FilterSpec{Form: 2, Email: "x", From: "2024-03-01", FromTime: "09:00", Status: "cancelled"}.Filter(paris)

	require.NoError(t, err)
	assert.Equal(t, 2, f.FormID)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, paris), f.StartingDate)
	assert.Equal(t, "09:00", f.StartingTime)
	assert.Equal(t, search.StatusCancelled, f.Status)

	_, err = FilterSpec{To: "march"}.Filter(paris)
	assert.Error(t, err)
	_, err = FilterSpec{Status: "maybe"}.Filter(paris)
	assert.Error(t, err)
}

func TestRunCase(t *testing.T) {
	tests := []struct {
		name   string
		c      Case
		ids    []int
		total  int
		passed bool
	}{
		{name: "membership", c: Case{Expected: []int{1, 2}}, ids: []int{2, 1}, total: 2, passed: true},
		{name: "order required", c: Case{Expected: []int{1, 2}, Ordered: true}, ids: []int{2, 1}, total: 2},
		{name: "missing id", c: Case{Expected: []int{1, 2}}, ids: []int{1}, total: 1},
		{name: "empty expected", c: Case{}, passed: true},
		{name: "total mismatch", c: Case{Expected: []int{1}, Total: ptr(5)}, ids: []int{1}, total: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSearcher{ids: tt.ids, total: tt.total}
			cr := RunCase(context.Background(), s, tt.c, time.UTC)
			assert.Equal(t, tt.passed, cr.Passed)
			assert.Len(t, cr.Got, len(tt.ids))
		})
	}
}

func TestRun_CountsAndPassesSort(t *testing.T) {
	suite, err := Parse([]byte(suiteYAML))
	require.NoError(t, err)
	s := &fakeSearcher{ids: []int{12, 10}, total: 2}

	res := Run(context.Background(), s, suite, time.UTC)

	// by-name expects only 10, so it fails; sorted passes
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.OK())
	require.NotNil(t, s.sort)
	assert.Equal(t, "start_date", s.sort.Attribute)
	assert.False(t, s.sort.Ascending)
	assert.Equal(t, search.StatusActive, s.last.Status)
}

func TestRunCase_BadFilterFails(t *testing.T) {
	cr := RunCase(context.Background(), &fakeSearcher{}, Case{ID: "x", Filter: FilterSpec{From: "soon"}}, time.UTC)

	assert.False(t, cr.Passed)
	assert.Contains(t, cr.Error, "from")
}

func ptr(n int) *int { return &n }
