package domain

import "time"

// Invoice is the header entity owning zero-or-more line items.
type Invoice struct {
	ID            int64      `json:"id"             db:"id"`
	UserID        int64      `json:"user_id"        db:"user_id"`
	InvoiceNumber string     `json:"invoice_number" db:"invoice_number"`
	InvoiceDate   *time.Time `json:"invoice_date"   db:"invoice_date"`
	Vendor        string     `json:"vendor"         db:"vendor"`
	TotalAmount   float64    `json:"total_amount"   db:"total_amount"`
	TaxAmount     *float64   `json:"tax_amount"     db:"tax_amount"`
	Currency      string     `json:"currency"       db:"currency"`
	Notes         string     `json:"notes"          db:"notes"`
	CreatedAt     time.Time  `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"     db:"updated_at"`
}

// LineItem is a purchased entity on an invoice. The description embedding is
// populated lazily by the backfill job; the query engine never mutates it.
type LineItem struct {
	ID          int64     `json:"id"            db:"id"`
	InvoiceID   int64     `json:"invoice_id"    db:"invoice_id"`
	Description string    `json:"description"   db:"description"`
	Quantity    float64   `json:"quantity"      db:"quantity"`
	UnitPrice   float64   `json:"unit_price"    db:"unit_price"`
	TotalPrice  float64   `json:"total_price"   db:"total_price"`
	Category    *string   `json:"item_category" db:"item_category"`
	ItemCode    *string   `json:"item_code"     db:"item_code"`
	Vector      []float32 `json:"-"             db:"description_embedding"`
	CreatedAt   time.Time `json:"created_at"    db:"created_at"`
}

// ExtractedInvoice is the structured result of LLM entity extraction from an
// uploaded document, before it is persisted.
type ExtractedInvoice struct {
	Vendor        string          `json:"vendor"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"`
	TotalAmount   float64         `json:"total_amount"`
	TaxAmount     *float64        `json:"tax_amount"`
	Currency      string          `json:"currency"`
	Items         []ExtractedItem `json:"items"`
}

// ExtractedItem is a single line item produced by entity extraction.
type ExtractedItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
	Category    string  `json:"category,omitempty"`
}
