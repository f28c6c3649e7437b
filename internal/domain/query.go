package domain

import (
	"fmt"
	"time"
)

// ResultSource tags which path produced a query result row.
type ResultSource string

const (
	SourceSQL    ResultSource = "sql"
	SourceVector ResultSource = "vector"
)

// QueryResult is the normalized, engine-internal row produced by either the
// SQL path or the vector path. It is transient and never persisted.
type QueryResult struct {
	InvoiceID  int64          `json:"invoice_id,omitempty"`
	ItemID     int64          `json:"item_id,omitempty"`
	Fields     map[string]any `json:"fields"`
	Source     ResultSource   `json:"source"`
	Similarity *float64       `json:"similarity,omitempty"`
	Date       *time.Time     `json:"-"`
}

// Key returns the stable identifying key used for merge deduplication.
// Rows without ids (aggregates) fall back to their field content.
func (r QueryResult) Key() string {
	if r.InvoiceID != 0 || r.ItemID != 0 {
		return fmt.Sprintf("%d:%d", r.InvoiceID, r.ItemID)
	}
	return fmt.Sprintf("%v", r.Fields)
}

// SourceBreakdown counts how many rows each path contributed.
type SourceBreakdown struct {
	SQLCount    int `json:"sql_count"`
	VectorCount int `json:"vector_count"`
}

// Resolution is the terminal output of the hybrid resolver. Rows is always
// non-nil, possibly empty.
type Resolution struct {
	RequestID       string          `json:"request_id"`
	Rows            []QueryResult   `json:"rows"`
	SourceBreakdown SourceBreakdown `json:"source_breakdown"`
	ExecutionTime   time.Duration   `json:"execution_time"`
	InternalError   bool            `json:"internal_error,omitempty"`
}

// QAPair is one prior question/answer exchange supplied as conversation
// context to the synthesizer.
type QAPair struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Intent classifies an inbound message before routing.
type Intent string

const (
	IntentInvoiceQuery  Intent = "invoice_query"
	IntentInvoiceUpload Intent = "invoice_upload"
	IntentGreeting      Intent = "greeting"
	IntentUnknown       Intent = "unknown"
)
