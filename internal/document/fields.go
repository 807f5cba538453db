// Package document converts appointment records into flat index documents
// and index hits back into typed search items.
package document

// Field suffixes that select the sort comparison for an attribute.
const (
	FieldDateSuffix = "_date"
	FieldIntSuffix  = "_int"
)

// Index field names.
const (
	FieldID              = "id_appointment"
	FieldFormID          = "id_form"
	FieldFirstName       = "first_name"
	FieldFirstNameSearch = "first_name_search"
	FieldLastName        = "last_name"
	FieldLastNameSearch  = "last_name_search"
	FieldMail            = "mail"
	FieldMailSearch      = "mail_search"
	FieldPhoneNumber     = "phone_number"
	FieldPhoneSearch     = "phone_number_search"
	FieldStartDate       = "start_date"
	FieldEndDate         = "end_date"
	FieldAdmin           = "admin"
	FieldCancelled       = "cancelled"
	FieldWorkflowStateID = "id_workflow_state"
	FieldNbSeats         = "nb_seats" + FieldIntSuffix
	FieldDateTaken       = "appointment_taken" + FieldDateSuffix
	FieldCategoryID      = "id_category"
)

// NumericFields are indexed as numbers; every other field is a keyword.
var NumericFields = []string{
	FieldID,
	FieldFormID,
	FieldStartDate,
	FieldEndDate,
	FieldWorkflowStateID,
	FieldNbSeats,
	FieldDateTaken,
	FieldCategoryID,
}

// KeywordFields are indexed verbatim as single terms.
var KeywordFields = []string{
	FieldFirstName,
	FieldFirstNameSearch,
	FieldLastName,
	FieldLastNameSearch,
	FieldMail,
	FieldMailSearch,
	FieldPhoneNumber,
	FieldPhoneSearch,
	FieldAdmin,
	FieldCancelled,
}

// Missing is substituted for integer fields that are absent or unparsable.
const Missing = -1

// DateLayout renders the calendar day of an appointment.
const DateLayout = "02/01/2006"

// TimeLayout renders start and end times of day.
const TimeLayout = "15:04"
