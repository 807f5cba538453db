package daemon

import (
	"fmt"

	"github.com/Aman-CERP/apptindex/internal/app"
	"github.com/Aman-CERP/apptindex/internal/index"
	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing    = "ping"
	MethodStatus  = "status"
	MethodSearch  = "search"
	MethodNotify  = "notify"
	MethodRebuild = "rebuild"
	MethodCheck   = "check"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeIndexerDisabled = -32001
	ErrCodeSearchFailed    = -32002
	ErrCodeNotifyFailed    = -32003
	ErrCodeCheckFailed     = -32004
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// SearchParams are the parameters for the search method.
type SearchParams struct {
	Filter search.Filter `json:"filter"`

	// Start is the zero-based offset of the first item.
	Start int `json:"start,omitempty"`

	// PageSize is the number of items to return. Zero returns every item
	// from Start up to the result cap.
	PageSize int `json:"page_size,omitempty"`

	Sort *search.SortSpec `json:"sort,omitempty"`
}

// Validate checks the paging parameters.
func (p *SearchParams) Validate() error {
	if p.Start < 0 {
		return fmt.Errorf("start cannot be negative, got %d", p.Start)
	}
	if p.PageSize < 0 {
		return fmt.Errorf("page_size cannot be negative, got %d", p.PageSize)
	}
	return nil
}

// NotifyParams announce one appointment mutation.
type NotifyParams struct {
	AppointmentID int `json:"id_appointment"`

	// Action is "create", "modify" or "delete".
	Action string `json:"action"`
}

// Validate checks the id and parses the action.
func (p *NotifyParams) Validate() (ledger.Kind, error) {
	if p.AppointmentID <= 0 {
		return 0, fmt.Errorf("id_appointment must be positive, got %d", p.AppointmentID)
	}
	return ledger.ParseKind(p.Action)
}

// NotifyResult acknowledges a recorded notification.
type NotifyResult struct {
	Recorded bool `json:"recorded"`
}

// RebuildResult acknowledges a queued full rebuild.
type RebuildResult struct {
	Queued bool `json:"queued"`
}

// CheckParams are the parameters for the check method.
type CheckParams struct {
	// Repair queues ledger entries for every inconsistency found.
	Repair bool `json:"repair,omitempty"`
}

// CheckResult reports index consistency against the source.
type CheckResult struct {
	index.CheckResult
	Repaired int `json:"repaired"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running bool       `json:"running"`
	PID     int        `json:"pid"`
	Uptime  string     `json:"uptime"`
	Indexer app.Status `json:"indexer"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
