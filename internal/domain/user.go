package domain

import "time"

// User is the tenant: every invoice, item and embedding row belongs to
// exactly one user, and no query may ever cross that boundary.
type User struct {
	ID             int64     `json:"id"              db:"id"`
	WhatsAppNumber string    `json:"whatsapp_number" db:"whatsapp_number"`
	Name           string    `json:"name"            db:"name"`
	Email          string    `json:"email"           db:"email"`
	IsActive       bool      `json:"is_active"       db:"is_active"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}

// UserContext carries the authenticated tenant through a request.
type UserContext struct {
	UserID int64
	Email  string
	Name   string
	Role   string
}
