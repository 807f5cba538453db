package document

import (
	"log/slog"
	"math"
	"strconv"
	"time"
)

// SearchItem is a decoded index hit. The title fields are filled in
// afterwards by the search service.
type SearchItem struct {
	ID                int       `json:"id_appointment"`
	FormID            int       `json:"id_form"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Email             string    `json:"mail"`
	PhoneNumber       string    `json:"phone_number"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	Admin             string    `json:"admin"`
	Cancelled         bool      `json:"cancelled"`
	StateID           int       `json:"id_workflow_state"`
	NbSeats           int       `json:"nb_seats"`
	DateTaken         time.Time `json:"appointment_taken_date"`
	DateOfAppointment string    `json:"date_of_appointment"`
	StartingTime      string    `json:"starting_time"`
	EndingTime        string    `json:"ending_time"`
	CategoryID        int       `json:"id_category"`
	StateTitle        string    `json:"state_title"`
	FormTitle         string    `json:"form_title"`
	CategoryTitle     string    `json:"category_title"`
}

// Decoder turns stored index fields into SearchItems.
type Decoder struct {
	loc    *time.Location
	logger *slog.Logger
}

// NewDecoder creates a decoder rendering dates in loc. A nil loc uses the
// process local zone and a nil logger uses slog.Default().
func NewDecoder(loc *time.Location, logger *slog.Logger) *Decoder {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{loc: loc, logger: logger}
}

// Decode never fails. Malformed integers become Missing and malformed dates
// the zero time, each with an error log.
func (d *Decoder) Decode(fields map[string]interface{}) SearchItem {
	item := SearchItem{
		ID:          d.intField(fields, FieldID),
		FormID:      d.intField(fields, FieldFormID),
		FirstName:   stringField(fields, FieldFirstName),
		LastName:    stringField(fields, FieldLastName),
		Email:       stringField(fields, FieldMail),
		PhoneNumber: stringField(fields, FieldPhoneNumber),
		StartDate:   d.dateField(fields, FieldStartDate),
		EndDate:     d.dateField(fields, FieldEndDate),
		Admin:       stringField(fields, FieldAdmin),
		StateID:     d.intField(fields, FieldWorkflowStateID),
		NbSeats:     d.intField(fields, FieldNbSeats),
		DateTaken:   d.dateField(fields, FieldDateTaken),
		CategoryID:  d.intField(fields, FieldCategoryID),
	}
	item.Cancelled, _ = strconv.ParseBool(stringField(fields, FieldCancelled))

	if !item.StartDate.IsZero() {
		item.DateOfAppointment = item.StartDate.Format(DateLayout)
		item.StartingTime = item.StartDate.Format(TimeLayout)
	}
	if !item.EndDate.IsZero() {
		item.EndingTime = item.EndDate.Format(TimeLayout)
	}
	return item
}

func stringField(fields map[string]interface{}, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// number reads a stored numeric value. ok is false when the field is
// absent; err is set when it is present but not a number.
func number(fields map[string]interface{}, name string) (n int64, ok bool, err error) {
	raw, present := fields[name]
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, true, strconv.ErrSyntax
		}
		return int64(v), true, nil
	case int:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case string:
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return n, true, err
	case []interface{}:
		if len(v) == 0 {
			return 0, false, nil
		}
		return number(map[string]interface{}{name: v[0]}, name)
	default:
		return 0, true, strconv.ErrSyntax
	}
}

func (d *Decoder) intField(fields map[string]interface{}, name string) int {
	n, ok, err := number(fields, name)
	if err != nil {
		d.logger.Error("document_field_invalid",
			slog.String("field", name),
			slog.Any("value", fields[name]),
			slog.String("error", err.Error()))
		return Missing
	}
	if !ok || n < math.MinInt32 || n > math.MaxInt32 {
		return Missing
	}
	return int(n)
}

func (d *Decoder) dateField(fields map[string]interface{}, name string) time.Time {
	ms, ok, err := number(fields, name)
	if err != nil {
		d.logger.Error("document_field_invalid",
			slog.String("field", name),
			slog.Any("value", fields[name]),
			slog.String("error", err.Error()))
		return time.Time{}
	}
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms).In(d.loc)
}
