package document

import (
	"strconv"
	"strings"
	"time"
)

// Record is an appointment as read from the source of truth, with the
// person fields already joined.
type Record struct {
	ID          int
	FormID      int
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	StartDate   time.Time
	EndDate     time.Time
	Admin       string
	Cancelled   bool
	NbSeats     int
	DateTaken   time.Time
}

// Document is the indexed projection of a Record. It is written whole and
// never partially updated.
type Document struct {
	ID              int
	FormID          int
	FirstName       string
	LastName        string
	Email           string
	PhoneNumber     string
	StartDate       time.Time
	EndDate         time.Time
	Admin           string
	Cancelled       bool
	WorkflowStateID *int
	NbSeats         int
	DateTaken       time.Time
	CategoryID      int
}

// Encode builds the document for r. stateID is nil when no workflow state
// is known for the appointment.
func Encode(r Record, stateID *int, categoryID int) Document {
	doc := Document{
		ID:          r.ID,
		FormID:      r.FormID,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		Admin:       r.Admin,
		Cancelled:   r.Cancelled,
		NbSeats:     r.NbSeats,
		DateTaken:   r.DateTaken,
		CategoryID:  categoryID,
	}
	if stateID != nil {
		id := *stateID
		doc.WorkflowStateID = &id
	}
	return doc
}

// DocID is the index identity of the document, also used to delete it.
func (d Document) DocID() string {
	return DocID(d.ID)
}

// DocID formats an appointment id as an index document id.
func DocID(id int) string {
	return strconv.Itoa(id)
}

// Fields flattens the document into the map handed to the index. Numbers
// are float64 and dates are millisecond epochs.
func (d Document) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		FieldID:              float64(d.ID),
		FieldFormID:          float64(d.FormID),
		FieldFirstName:       d.FirstName,
		FieldFirstNameSearch: strings.ToLower(d.FirstName),
		FieldLastName:        d.LastName,
		FieldLastNameSearch:  strings.ToLower(d.LastName),
		FieldMail:            d.Email,
		FieldMailSearch:      strings.ToLower(d.Email),
		FieldPhoneNumber:     d.PhoneNumber,
		FieldPhoneSearch:     strings.ToLower(d.PhoneNumber),
		FieldStartDate:       float64(EpochMillis(d.StartDate)),
		FieldEndDate:         float64(EpochMillis(d.EndDate)),
		FieldAdmin:           d.Admin,
		FieldCancelled:       strconv.FormatBool(d.Cancelled),
		FieldNbSeats:         float64(d.NbSeats),
		FieldDateTaken:       float64(EpochMillis(d.DateTaken)),
		FieldCategoryID:      float64(d.CategoryID),
	}
	if d.WorkflowStateID != nil {
		fields[FieldWorkflowStateID] = float64(*d.WorkflowStateID)
	}
	return fields
}

// EpochMillis returns t as milliseconds since the Unix epoch.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
