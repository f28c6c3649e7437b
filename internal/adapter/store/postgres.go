package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/port"
)

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Users ---

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT id, whatsapp_number, name, email, is_active, created_at
	          FROM users WHERE id = $1`

	var user domain.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.WhatsAppNumber, &user.Name, &user.Email,
		&user.IsActive, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByWhatsAppNumber retrieves a user by their WhatsApp number.
func (s *PostgresStore) GetUserByWhatsAppNumber(ctx context.Context, number string) (*domain.User, error) {
	query := `SELECT id, whatsapp_number, name, email, is_active, created_at
	          FROM users WHERE whatsapp_number = $1`

	var user domain.User
	err := s.db.QueryRowContext(ctx, query, number).Scan(
		&user.ID, &user.WhatsAppNumber, &user.Name, &user.Email,
		&user.IsActive, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by whatsapp number: %w", err)
	}
	return &user, nil
}

// UpsertUser inserts or updates a user keyed by WhatsApp number.
func (s *PostgresStore) UpsertUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (whatsapp_number, name, email, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (whatsapp_number) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)
		RETURNING id, whatsapp_number, name, email, is_active, created_at`

	var user domain.User
	err := s.db.QueryRowContext(ctx, query, u.WhatsAppNumber, u.Name, u.Email).Scan(
		&user.ID, &user.WhatsAppNumber, &user.Name, &user.Email,
		&user.IsActive, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &user, nil
}

// --- Invoices ---

// CreateInvoice inserts a new invoice header for a user.
func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	query := `INSERT INTO invoices (user_id, invoice_number, invoice_date, vendor, total_amount, tax_amount, currency, notes)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id, user_id, invoice_number, invoice_date, vendor, total_amount, tax_amount, currency, notes, created_at, updated_at`

	var result domain.Invoice
	err := s.db.QueryRowContext(ctx, query,
		inv.UserID, inv.InvoiceNumber, inv.InvoiceDate, inv.Vendor,
		inv.TotalAmount, inv.TaxAmount, inv.Currency, inv.Notes,
	).Scan(
		&result.ID, &result.UserID, &result.InvoiceNumber, &result.InvoiceDate,
		&result.Vendor, &result.TotalAmount, &result.TaxAmount, &result.Currency,
		&result.Notes, &result.CreatedAt, &result.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return &result, nil
}

// GetInvoiceByID returns an invoice, scoped to its owner.
func (s *PostgresStore) GetInvoiceByID(ctx context.Context, userID, invoiceID int64) (*domain.Invoice, error) {
	query := `SELECT id, user_id, invoice_number, invoice_date, vendor, total_amount, tax_amount, currency, notes, created_at, updated_at
	          FROM invoices WHERE id = $1 AND user_id = $2`

	var inv domain.Invoice
	err := s.db.QueryRowContext(ctx, query, invoiceID, userID).Scan(
		&inv.ID, &inv.UserID, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.Vendor, &inv.TotalAmount, &inv.TaxAmount, &inv.Currency,
		&inv.Notes, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return &inv, nil
}

// ListInvoicesByUser returns all invoices for a user, newest first.
func (s *PostgresStore) ListInvoicesByUser(ctx context.Context, userID int64, limit int) ([]domain.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, user_id, invoice_number, invoice_date, vendor, total_amount, tax_amount, currency, notes, created_at, updated_at
	          FROM invoices WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(
			&inv.ID, &inv.UserID, &inv.InvoiceNumber, &inv.InvoiceDate,
			&inv.Vendor, &inv.TotalAmount, &inv.TaxAmount, &inv.Currency,
			&inv.Notes, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// DeleteInvoice removes an invoice and (via cascade) its items, scoped to the owner.
func (s *PostgresStore) DeleteInvoice(ctx context.Context, userID, invoiceID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invoices WHERE id = $1 AND user_id = $2`, invoiceID, userID)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return port.ErrInvoiceNotFound
	}
	return nil
}

// --- Line Items ---

// CreateLineItems inserts all items for an invoice in one transaction.
func (s *PostgresStore) CreateLineItems(ctx context.Context, invoiceID int64, items []domain.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (invoice_id, description, quantity, unit_price, total_price, item_category, item_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx,
			invoiceID, it.Description, it.Quantity, it.UnitPrice, it.TotalPrice, it.Category, it.ItemCode,
		); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}

	return tx.Commit()
}

// ListItemsByInvoice returns the line items of one invoice, scoped to the owner.
func (s *PostgresStore) ListItemsByInvoice(ctx context.Context, userID, invoiceID int64) ([]domain.LineItem, error) {
	query := `SELECT i.id, i.invoice_id, i.description, i.quantity, i.unit_price, i.total_price, i.item_category, i.item_code, i.created_at
	          FROM items i
	          JOIN invoices inv ON inv.id = i.invoice_id
	          WHERE i.invoice_id = $1 AND inv.user_id = $2
	          ORDER BY i.id`

	rows, err := s.db.QueryContext(ctx, query, invoiceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(
			&it.ID, &it.InvoiceID, &it.Description, &it.Quantity,
			&it.UnitPrice, &it.TotalPrice, &it.Category, &it.ItemCode, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

// ListItemsMissingEmbeddings returns items whose description embedding has not
// been populated yet, for the backfill job.
func (s *PostgresStore) ListItemsMissingEmbeddings(ctx context.Context, limit int) ([]domain.LineItem, error) {
	query := `SELECT id, invoice_id, description, quantity, unit_price, total_price, item_category, item_code, created_at
	          FROM items
	          WHERE description_embedding IS NULL AND description IS NOT NULL AND description <> ''
	          ORDER BY id
	          LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list items missing embeddings: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(
			&it.ID, &it.InvoiceID, &it.Description, &it.Quantity,
			&it.UnitPrice, &it.TotalPrice, &it.Category, &it.ItemCode, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

// --- Stats ---

// UserStats summarizes one tenant's data footprint.
type UserStats struct {
	InvoiceCount       int `json:"invoice_count"`
	ItemCount          int `json:"item_count"`
	ItemsWithEmbedding int `json:"items_with_embedding"`
}

// GetUserStats returns invoice/item counts and embedding coverage for a user.
func (s *PostgresStore) GetUserStats(ctx context.Context, userID int64) (*UserStats, error) {
	query := `SELECT
	            (SELECT COUNT(*) FROM invoices WHERE user_id = $1),
	            (SELECT COUNT(*) FROM items i JOIN invoices inv ON inv.id = i.invoice_id WHERE inv.user_id = $1),
	            (SELECT COUNT(*) FROM items i JOIN invoices inv ON inv.id = i.invoice_id
	             WHERE inv.user_id = $1 AND i.description_embedding IS NOT NULL)`

	var stats UserStats
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.InvoiceCount, &stats.ItemCount, &stats.ItemsWithEmbedding,
	)
	if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	return &stats, nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	query := `INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	_, err := s.db.ExecContext(context.Background(), query,
		userID, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns one tenant's recent audit logs with optional filters.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, userID string, limit int, action string) ([]domain.AuditLog, error) {
	query, args := buildAuditQuery(userID, limit, action)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// buildAuditQuery assembles the tenant-scoped audit listing statement. The
// user filter is unconditional; action and limit are optional.
func buildAuditQuery(userID string, limit int, action string) (string, []interface{}) {
	query := `SELECT id, user_id, action, resource, resource_id, details, ip, user_agent, created_at
	          FROM audit_logs WHERE user_id = $1`
	args := []interface{}{userID}
	argIdx := 2

	if action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	return query, args
}
