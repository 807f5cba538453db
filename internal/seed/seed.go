// Package seed loads appointments, forms, categories and workflow states
// from a YAML file into the source database and announces every change to
// the indexer.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/apptindex/internal/document"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/source"
)

// Dataset is the content of a seed file.
type Dataset struct {
	Categories   []source.Category `yaml:"categories"`
	States       []source.State    `yaml:"states"`
	Forms        []source.Form     `yaml:"forms"`
	Appointments []Appointment     `yaml:"appointments"`
}

// Appointment is one appointment of a seed file. Deleted removes it
// instead of writing it.
type Appointment struct {
	ID        int       `yaml:"id"`
	Form      int       `yaml:"form"`
	FirstName string    `yaml:"first_name"`
	LastName  string    `yaml:"last_name"`
	Email     string    `yaml:"email"`
	Phone     string    `yaml:"phone"`
	Start     time.Time `yaml:"start"`
	End       time.Time `yaml:"end"`
	Admin     string    `yaml:"admin"`
	Cancelled bool      `yaml:"cancelled"`
	Seats     int       `yaml:"seats"`
	Taken     time.Time `yaml:"taken"`
	State     int       `yaml:"state"`
	Deleted   bool      `yaml:"deleted"`
}

// Record converts a to a source record. Seats default to one.
func (a Appointment) Record() document.Record {
	seats := a.Seats
	if seats == 0 {
		seats = 1
	}
	return document.Record{
		ID:          a.ID,
		FormID:      a.Form,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Email:       a.Email,
		PhoneNumber: a.Phone,
		StartDate:   a.Start,
		EndDate:     a.End,
		Admin:       a.Admin,
		Cancelled:   a.Cancelled,
		NbSeats:     seats,
		DateTaken:   a.Taken,
	}
}

// Load reads and validates the seed file at path.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks ids and date ranges.
func (ds *Dataset) Validate() error {
	var errs []error
	for i, c := range ds.Categories {
		if c.ID <= 0 {
			errs = append(errs, fmt.Errorf("categories[%d]: id must be positive", i))
		}
	}
	for i, st := range ds.States {
		if st.ID <= 0 || st.WorkflowID <= 0 {
			errs = append(errs, fmt.Errorf("states[%d]: id and workflow must be positive", i))
		}
	}
	for i, f := range ds.Forms {
		if f.ID <= 0 {
			errs = append(errs, fmt.Errorf("forms[%d]: id must be positive", i))
		}
	}
	for i, a := range ds.Appointments {
		switch {
		case a.ID <= 0:
			errs = append(errs, fmt.Errorf("appointments[%d]: id must be positive", i))
		case a.Deleted:
		case a.Form <= 0:
			errs = append(errs, fmt.Errorf("appointment %d: form must be positive", a.ID))
		case a.Start.IsZero() || a.End.IsZero():
			errs = append(errs, fmt.Errorf("appointment %d: start and end are required", a.ID))
		case a.End.Before(a.Start):
			errs = append(errs, fmt.Errorf("appointment %d: end is before start", a.ID))
		}
	}
	return errors.Join(errs...)
}

// Writer is the source database surface the seed writes through.
type Writer interface {
	PutCategory(ctx context.Context, c source.Category) error
	PutState(ctx context.Context, st source.State) error
	PutForm(ctx context.Context, f source.Form) error
	FindForm(ctx context.Context, id int) (source.Form, error)
	SetResourceState(ctx context.Context, resourceID, workflowID, stateID int) error
	PutAppointment(ctx context.Context, r document.Record) (existed bool, err error)
	DeleteAppointment(ctx context.Context, id int) error
}

// Notifier announces a changed appointment to the indexer.
type Notifier interface {
	Notify(ctx context.Context, id int, kind ledger.Kind) error
}

// Result counts what Apply wrote.
type Result struct {
	Categories int `json:"categories"`
	States     int `json:"states"`
	Forms      int `json:"forms"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Deleted    int `json:"deleted"`
}

// Appointments returns the number of appointment actions announced.
func (r Result) Appointments() int {
	return r.Created + r.Updated + r.Deleted
}

// ProgressFunc is called after each appointment.
type ProgressFunc func(done, total int)

// Apply writes ds through w and notifies n of every appointment it
// creates, updates or deletes. Reference data is written first so joins
// resolve on the first pass.
func Apply(ctx context.Context, ds *Dataset, w Writer, n Notifier, progress ProgressFunc) (Result, error) {
	var res Result

	for _, c := range ds.Categories {
		if err := w.PutCategory(ctx, c); err != nil {
			return res, fmt.Errorf("category %d: %w", c.ID, err)
		}
		res.Categories++
	}
	for _, st := range ds.States {
		if err := w.PutState(ctx, st); err != nil {
			return res, fmt.Errorf("state %d: %w", st.ID, err)
		}
		res.States++
	}
	forms := make(map[int]source.Form, len(ds.Forms))
	for _, f := range ds.Forms {
		if err := w.PutForm(ctx, f); err != nil {
			return res, fmt.Errorf("form %d: %w", f.ID, err)
		}
		forms[f.ID] = f
		res.Forms++
	}

	for i, a := range ds.Appointments {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		kind, err := applyAppointment(ctx, a, w, forms)
		if err != nil {
			return res, fmt.Errorf("appointment %d: %w", a.ID, err)
		}
		if err := n.Notify(ctx, a.ID, kind); err != nil {
			return res, fmt.Errorf("notify appointment %d: %w", a.ID, err)
		}
		switch kind {
		case ledger.Create:
			res.Created++
		case ledger.Modify:
			res.Updated++
		case ledger.Delete:
			res.Deleted++
		}
		if progress != nil {
			progress(i+1, len(ds.Appointments))
		}
	}
	return res, nil
}

func applyAppointment(ctx context.Context, a Appointment, w Writer, forms map[int]source.Form) (ledger.Kind, error) {
	if a.Deleted {
		if err := w.DeleteAppointment(ctx, a.ID); err != nil && !errors.Is(err, source.ErrNotFound) {
			return 0, err
		}
		return ledger.Delete, nil
	}

	existed, err := w.PutAppointment(ctx, a.Record())
	if err != nil {
		return 0, err
	}

	if a.State > 0 {
		form, ok := forms[a.Form]
		if !ok {
			if form, err = w.FindForm(ctx, a.Form); err != nil {
				return 0, fmt.Errorf("form %d: %w", a.Form, err)
			}
		}
		if form.WorkflowID <= 0 {
			return 0, fmt.Errorf("form %d has no workflow for state %d", a.Form, a.State)
		}
		if err := w.SetResourceState(ctx, a.ID, form.WorkflowID, a.State); err != nil {
			return 0, err
		}
	}

	if existed {
		return ledger.Modify, nil
	}
	return ledger.Create, nil
}
