package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/apptindex/internal/document"
	"github.com/Aman-CERP/apptindex/internal/source"
	"github.com/Aman-CERP/apptindex/internal/store"
)

type lookups struct {
	forms      []source.Form
	categories []source.Category
	states     []source.State
	formsErr   error
}

func (l *lookups) FindForm(_ context.Context, id int) (source.Form, error) {
	for _, f := range l.forms {
		if f.ID == id {
			return f, nil
		}
	}
	return source.Form{}, source.ErrNotFound
}

func (l *lookups) ListForms(context.Context) ([]source.Form, error) {
	return l.forms, l.formsErr
}

func (l *lookups) ListCategories(context.Context) ([]source.Category, error) {
	return l.categories, nil
}

func (l *lookups) FindState(_ context.Context, _, _ int) (source.State, error) {
	return source.State{}, source.ErrNotFound
}

func (l *lookups) ListStates(context.Context) ([]source.State, error) {
	return l.states, nil
}

func serviceIndex(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(store.MemoryPath)
	t.Cleanup(func() { _ = s.Close() })
	w, err := s.Open(false)
	require.NoError(t, err)

	state := 12
	withState := record(1)
	withState.FormID = 1
	unknownForm := record(2)
	unknownForm.FormID = 99
	w.Add(document.Encode(withState, &state, 5), document.Encode(unknownForm, nil, 6))
	require.NoError(t, w.Commit())
	return s
}

func TestService_AnnotatesTitles(t *testing.T) {
	// Given: lookups for forms, categories and states
	l := &lookups{
		forms:      []source.Form{{ID: 1, Title: "Passport renewal"}},
		categories: []source.Category{{ID: 5, Label: "Civil status"}},
		states:     []source.State{{ID: 12, Name: "Confirmed"}},
	}
	svc := NewService(ServiceConfig{
		Engine:     NewEngine(serviceIndex(t)),
		Forms:      l,
		Categories: source.Some[source.Categories](l),
		States:     source.Some[source.StateResolver](l),
	})

	// When: searching everything
	page := svc.Search(context.Background(), Filter{}, 0, 0, nil)

	// Then: known ids get titles, unknown ones stay empty
	require.Len(t, page.Items, 2)
	byID := map[int]document.SearchItem{}
	for _, item := range page.Items {
		byID[item.ID] = item
	}
	assert.Equal(t, "Passport renewal", byID[1].FormTitle)
	assert.Equal(t, "Civil status", byID[1].CategoryTitle)
	assert.Equal(t, "Confirmed", byID[1].StateTitle)
	assert.Empty(t, byID[2].FormTitle)
	assert.Empty(t, byID[2].CategoryTitle)
	assert.Empty(t, byID[2].StateTitle)
}

func TestService_WithoutOptionalLookups(t *testing.T) {
	l := &lookups{forms: []source.Form{{ID: 1, Title: "Passport renewal"}}}
	svc := NewService(ServiceConfig{
		Engine: NewEngine(serviceIndex(t)),
		Forms:  l,
	})

	page := svc.Search(context.Background(), Filter{FormID: 1}, 0, 0, nil)

	require.Len(t, page.Items, 1)
	assert.Equal(t, "Passport renewal", page.Items[0].FormTitle)
	assert.Empty(t, page.Items[0].StateTitle)
	assert.Same(t, svc.engine, svc.Engine())
}

func TestService_FailedLookupDegrades(t *testing.T) {
	// Given: a form lookup that fails
	l := &lookups{
		formsErr: errors.New("database gone"),
		states:   []source.State{{ID: 12, Name: "Confirmed"}},
	}
	svc := NewService(ServiceConfig{
		Engine: NewEngine(serviceIndex(t)),
		Forms:  l,
		States: source.Some[source.StateResolver](l),
	})

	// When: searching
	page := svc.Search(context.Background(), Filter{FormID: 1}, 0, 0, nil)

	// Then: results still come back with the titles that could be loaded
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.Items[0].FormTitle)
	assert.Equal(t, "Confirmed", page.Items[0].StateTitle)
}

type observed struct {
	filter Filter
	sort   *SortSpec
	total  int
}

type observer struct{ calls []observed }

func (o *observer) ObserveQuery(f Filter, sort *SortSpec, total int, _ time.Duration) {
	o.calls = append(o.calls, observed{f, sort, total})
}

func TestService_ReportsToObserver(t *testing.T) {
	obs := &observer{}
	svc := NewService(ServiceConfig{
		Engine:   NewEngine(serviceIndex(t)),
		Observer: obs,
	})
	sort := &SortSpec{Attribute: "start_date", Ascending: true}

	svc.Search(context.Background(), Filter{FormID: 1}, 0, 0, sort)
	svc.Search(context.Background(), Filter{FormID: 404}, 0, 0, nil)

	require.Len(t, obs.calls, 2)
	assert.Equal(t, observed{Filter{FormID: 1}, sort, 1}, obs.calls[0])
	assert.Equal(t, 0, obs.calls[1].total)
}
