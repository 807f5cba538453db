package source

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/apptindex/internal/document"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the reference source of truth. It implements
// Appointments, Forms, Categories and StateResolver.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Appointments  = (*SQLiteStore)(nil)
	_ Forms         = (*SQLiteStore)(nil)
	_ Categories    = (*SQLiteStore)(nil)
	_ StateResolver = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates the source tables if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply source schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const selectRecord = `
SELECT a.id_appointment, a.id_form, u.first_name, u.last_name, u.email, u.phone_number,
       a.starting_date, a.ending_date, a.admin, a.is_cancelled, a.nb_seats, a.date_taken
FROM appointments a
JOIN users u ON u.id_user = a.id_user`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (document.Record, error) {
	var (
		r                 document.Record
		start, end, taken int64
		cancelled         int
	)
	err := row.Scan(&r.ID, &r.FormID, &r.FirstName, &r.LastName, &r.Email, &r.PhoneNumber,
		&start, &end, &r.Admin, &cancelled, &r.NbSeats, &taken)
	if err != nil {
		return document.Record{}, err
	}
	r.StartDate = time.UnixMilli(start)
	r.EndDate = time.UnixMilli(end)
	r.DateTaken = time.UnixMilli(taken)
	r.Cancelled = cancelled != 0
	return r, nil
}

// ListAllIDs implements Appointments.
func (s *SQLiteStore) ListAllIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id_appointment FROM appointments ORDER BY id_appointment`)
	if err != nil {
		return nil, fmt.Errorf("list appointment ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan appointment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindByID implements Appointments.
func (s *SQLiteStore) FindByID(ctx context.Context, id int) (document.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE a.id_appointment = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Record{}, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return document.Record{}, fmt.Errorf("find appointment %d: %w", id, err)
	}
	return r, nil
}

// FindByIDs implements Appointments.
func (s *SQLiteStore) FindByIDs(ctx context.Context, ids []int) ([]document.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := selectRecord + ` WHERE a.id_appointment IN (?` + strings.Repeat(",?", len(ids)-1) + `) ORDER BY a.id_appointment`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %d appointments: %w", len(ids), err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]document.Record, 0, len(ids))
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// FindForm implements Forms.
func (s *SQLiteStore) FindForm(ctx context.Context, id int) (Form, error) {
	var f Form
	err := s.db.QueryRowContext(ctx,
		`SELECT id_form, title, id_category, id_workflow FROM forms WHERE id_form = ?`, id).
		Scan(&f.ID, &f.Title, &f.CategoryID, &f.WorkflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return Form{}, fmt.Errorf("form %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Form{}, fmt.Errorf("find form %d: %w", id, err)
	}
	return f, nil
}

// ListForms implements Forms.
func (s *SQLiteStore) ListForms(ctx context.Context) ([]Form, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id_form, title, id_category, id_workflow FROM forms ORDER BY id_form`)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var forms []Form
	for rows.Next() {
		var f Form
		if err := rows.Scan(&f.ID, &f.Title, &f.CategoryID, &f.WorkflowID); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// ListCategories implements Categories.
func (s *SQLiteStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id_category, label FROM categories ORDER BY id_category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Label); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// FindState implements StateResolver.
func (s *SQLiteStore) FindState(ctx context.Context, resourceID, workflowID int) (State, error) {
	var st State
	err := s.db.QueryRowContext(ctx, `
SELECT ws.id_state, ws.id_workflow, ws.name
FROM resource_states rs
JOIN workflow_states ws ON ws.id_state = rs.id_state
WHERE rs.id_resource = ? AND rs.id_workflow = ?`, resourceID, workflowID).
		Scan(&st.ID, &st.WorkflowID, &st.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, fmt.Errorf("state of %d in workflow %d: %w", resourceID, workflowID, ErrNotFound)
	}
	if err != nil {
		return State{}, fmt.Errorf("find state of %d: %w", resourceID, err)
	}
	return st, nil
}

// ListStates implements StateResolver.
func (s *SQLiteStore) ListStates(ctx context.Context) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id_state, id_workflow, name FROM workflow_states ORDER BY id_state`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []State
	for rows.Next() {
		var st State
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Name); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// PutCategory inserts or replaces a category.
func (s *SQLiteStore) PutCategory(ctx context.Context, c Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id_category, label) VALUES (?, ?)
		 ON CONFLICT (id_category) DO UPDATE SET label = excluded.label`, c.ID, c.Label)
	if err != nil {
		return fmt.Errorf("put category %d: %w", c.ID, err)
	}
	return nil
}

// PutForm inserts or replaces a form.
func (s *SQLiteStore) PutForm(ctx context.Context, f Form) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forms (id_form, title, id_category, id_workflow) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id_form) DO UPDATE SET
		   title = excluded.title, id_category = excluded.id_category, id_workflow = excluded.id_workflow`,
		f.ID, f.Title, f.CategoryID, f.WorkflowID)
	if err != nil {
		return fmt.Errorf("put form %d: %w", f.ID, err)
	}
	return nil
}

// PutState inserts or replaces a workflow state.
func (s *SQLiteStore) PutState(ctx context.Context, st State) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_states (id_state, id_workflow, name) VALUES (?, ?, ?)
		 ON CONFLICT (id_state) DO UPDATE SET id_workflow = excluded.id_workflow, name = excluded.name`,
		st.ID, st.WorkflowID, st.Name)
	if err != nil {
		return fmt.Errorf("put state %d: %w", st.ID, err)
	}
	return nil
}

// SetResourceState records the current state of an appointment in a
// workflow.
func (s *SQLiteStore) SetResourceState(ctx context.Context, resourceID, workflowID, stateID int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_states (id_resource, id_workflow, id_state) VALUES (?, ?, ?)
		 ON CONFLICT (id_resource, id_workflow) DO UPDATE SET id_state = excluded.id_state`,
		resourceID, workflowID, stateID)
	if err != nil {
		return fmt.Errorf("set state of %d: %w", resourceID, err)
	}
	return nil
}

// PutAppointment inserts or replaces an appointment. The person fields
// are upserted into users keyed by email. It reports whether the
// appointment already existed.
func (s *SQLiteStore) PutAppointment(ctx context.Context, r document.Record) (existed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("put appointment %d: %w", r.ID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var n int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments WHERE id_appointment = ?`, r.ID).Scan(&n); err != nil {
		return false, fmt.Errorf("put appointment %d: %w", r.ID, err)
	}

	var userID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (email, first_name, last_name, phone_number) VALUES (?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET
		   first_name = excluded.first_name, last_name = excluded.last_name, phone_number = excluded.phone_number
		 RETURNING id_user`,
		r.Email, r.FirstName, r.LastName, r.PhoneNumber).Scan(&userID)
	if err != nil {
		return false, fmt.Errorf("put user for appointment %d: %w", r.ID, err)
	}

	cancelled := 0
	if r.Cancelled {
		cancelled = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments
		   (id_appointment, id_form, id_user, starting_date, ending_date, admin, is_cancelled, nb_seats, date_taken)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id_appointment) DO UPDATE SET
		   id_form = excluded.id_form, id_user = excluded.id_user,
		   starting_date = excluded.starting_date, ending_date = excluded.ending_date,
		   admin = excluded.admin, is_cancelled = excluded.is_cancelled,
		   nb_seats = excluded.nb_seats, date_taken = excluded.date_taken`,
		r.ID, r.FormID, userID, r.StartDate.UnixMilli(), r.EndDate.UnixMilli(),
		r.Admin, cancelled, r.NbSeats, r.DateTaken.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("put appointment %d: %w", r.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("put appointment %d: %w", r.ID, err)
	}
	return n > 0, nil
}

// DeleteAppointment removes an appointment and its workflow states. It
// returns ErrNotFound when the appointment does not exist.
func (s *SQLiteStore) DeleteAppointment(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE id_appointment = ?`, id)
	if err != nil {
		return fmt.Errorf("delete appointment %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resource_states WHERE id_resource = ?`, id); err != nil {
		return fmt.Errorf("delete states of appointment %d: %w", id, err)
	}
	return nil
}
