// Package source defines the source-of-truth collaborators the indexer
// reads from (appointments, forms, categories, workflow states) and
// provides a SQLite reference implementation.
package source

import (
	"context"
	"errors"

	"github.com/Aman-CERP/apptindex/internal/document"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Form is the form an appointment was booked through. WorkflowID is zero
// when the form has no workflow.
type Form struct {
	ID         int    `json:"id_form" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	CategoryID int    `json:"id_category" yaml:"category"`
	WorkflowID int    `json:"id_workflow" yaml:"workflow"`
}

// Category groups forms.
type Category struct {
	ID    int    `json:"id_category" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// State is a workflow state.
type State struct {
	ID         int    `json:"id_state" yaml:"id"`
	WorkflowID int    `json:"id_workflow" yaml:"workflow"`
	Name       string `json:"name" yaml:"name"`
}

// Appointments reads appointment records with their person fields joined.
type Appointments interface {
	ListAllIDs(ctx context.Context) ([]int, error)
	FindByID(ctx context.Context, id int) (document.Record, error)
	// FindByIDs returns the records that exist among ids. Missing ids are
	// skipped, not reported.
	FindByIDs(ctx context.Context, ids []int) ([]document.Record, error)
}

// Forms reads forms.
type Forms interface {
	FindForm(ctx context.Context, id int) (Form, error)
	ListForms(ctx context.Context) ([]Form, error)
}

// Categories reads form categories.
type Categories interface {
	ListCategories(ctx context.Context) ([]Category, error)
}

// StateResolver resolves workflow states. Deployments without a workflow
// engine have none.
type StateResolver interface {
	// FindState returns the current state of resourceID in workflowID.
	FindState(ctx context.Context, resourceID, workflowID int) (State, error)
	ListStates(ctx context.Context) ([]State, error)
}

// Option holds an optional value.
type Option[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, ok: true}
}

// None is the absent value.
func None[T any]() Option[T] {
	return Option[T]{}
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSome reports whether a value is present.
func (o Option[T]) IsSome() bool {
	return o.ok
}
