package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/apptindex/internal/config"
	"github.com/Aman-CERP/apptindex/internal/search"
)

func utcConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Search.TimeZone = "UTC"
	cfg.Search.DefaultPageSize = 25
	return cfg
}

func TestBuildSearchParams(t *testing.T) {
	// Given: flags for a last name, a date range and a sort
	opts := searchOptions{
		formID:   3,
		lastName: "dupont",
		from:     "2024-05-01",
		fromTime: "08:00",
		to:       "2024-05-31",
		status:   "active",
		sortBy:   "start_date",
		desc:     true,
	}

	// When: building request parameters
	params, err := buildSearchParams(utcConfig(), opts)

	// Then: the filter carries every field and the defaults apply
	require.NoError(t, err)
	assert.Equal(t, 3, params.Filter.FormID)
	assert.Equal(t, "dupont", params.Filter.LastName)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), params.Filter.StartingDate)
	assert.Equal(t, "08:00", params.Filter.StartingTime)
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), params.Filter.EndingDate)
	assert.Equal(t, search.StatusActive, params.Filter.Status)
	assert.Equal(t, 25, params.PageSize)
	require.NotNil(t, params.Sort)
	assert.Equal(t, "start_date", params.Sort.Attribute)
	assert.False(t, params.Sort.Ascending)
}

func TestBuildSearchParams_NoSort(t *testing.T) {
	params, err := buildSearchParams(utcConfig(), searchOptions{status: "any", limit: 5, start: 10})

	require.NoError(t, err)
	assert.Nil(t, params.Sort)
	assert.Equal(t, 5, params.PageSize)
	assert.Equal(t, 10, params.Start)
	assert.True(t, params.Filter.StartingDate.IsZero())
}

func TestBuildSearchParams_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts searchOptions
		want string
	}{
		{name: "bad from", opts: searchOptions{from: "05/01/2024"}, want: "--from"},
		{name: "bad to", opts: searchOptions{to: "tomorrow"}, want: "--to"},
		{name: "bad status", opts: searchOptions{status: "archived"}},
		{name: "negative start", opts: searchOptions{start: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildSearchParams(utcConfig(), tt.opts)
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestParseDay_UsesLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	day, err := parseDay("2024-07-14", paris)

	require.NoError(t, err)
	assert.Equal(t, paris, day.Location())
	assert.Equal(t, 14, day.Day())

	zero, err := parseDay("", paris)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}
