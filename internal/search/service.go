package search

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/apptindex/internal/source"
)

// ServiceConfig holds the lookups used to annotate results.
type ServiceConfig struct {
	Engine     *Engine
	Forms      source.Forms
	Categories source.Option[source.Categories]
	States     source.Option[source.StateResolver]
	Observer   QueryObserver
	Logger     *slog.Logger
}

// QueryObserver is told about every answered search.
type QueryObserver interface {
	ObserveQuery(f Filter, sort *SortSpec, total int, elapsed time.Duration)
}

// Service runs engine queries and fills in form, category and workflow
// state titles on every returned item.
type Service struct {
	engine     *Engine
	forms      source.Forms
	categories source.Option[source.Categories]
	states     source.Option[source.StateResolver]
	observer   QueryObserver
	logger     *slog.Logger
}

// NewService creates a search service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		engine:     cfg.Engine,
		forms:      cfg.Forms,
		categories: cfg.Categories,
		states:     cfg.States,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

type titles struct {
	forms      map[int]string
	categories map[int]string
	states     map[int]string
}

// Search runs the query and annotates the page. A lookup that fails is
// logged and its titles are left empty.
func (s *Service) Search(ctx context.Context, f Filter, start, pageSize int, sort *SortSpec) Page {
	began := time.Now()
	page := s.engine.Search(ctx, f, start, pageSize, sort)
	if s.observer != nil {
		s.observer.ObserveQuery(f, sort, page.Total, time.Since(began))
	}
	if len(page.Items) == 0 {
		return page
	}

	t := s.loadTitles(ctx)
	for i := range page.Items {
		item := &page.Items[i]
		if title, ok := t.forms[item.FormID]; ok {
			item.FormTitle = title
		}
		if title, ok := t.categories[item.CategoryID]; ok {
			item.CategoryTitle = title
		}
		if title, ok := t.states[item.StateID]; ok {
			item.StateTitle = title
		}
	}
	return page
}

func (s *Service) loadTitles(ctx context.Context) titles {
	t := titles{
		forms:      map[int]string{},
		categories: map[int]string{},
		states:     map[int]string{},
	}

	// Each goroutine fills its own map; lookup errors never cancel the others.
	var g errgroup.Group

	if s.forms != nil {
		g.Go(func() error {
			forms, err := s.forms.ListForms(ctx)
			if err != nil {
				s.logger.Warn("form_titles_unavailable", slog.String("error", err.Error()))
				return nil
			}
			for _, form := range forms {
				t.forms[form.ID] = form.Title
			}
			return nil
		})
	}

	if categories, ok := s.categories.Get(); ok {
		g.Go(func() error {
			list, err := categories.ListCategories(ctx)
			if err != nil {
				s.logger.Warn("category_titles_unavailable", slog.String("error", err.Error()))
				return nil
			}
			for _, c := range list {
				t.categories[c.ID] = c.Label
			}
			return nil
		})
	}

	if states, ok := s.states.Get(); ok {
		g.Go(func() error {
			list, err := states.ListStates(ctx)
			if err != nil {
				s.logger.Warn("state_titles_unavailable", slog.String("error", err.Error()))
				return nil
			}
			for _, st := range list {
				t.states[st.ID] = st.Name
			}
			return nil
		})
	}

	_ = g.Wait()
	return t
}
