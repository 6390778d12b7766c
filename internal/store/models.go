package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("page not found")

// Page is a stored page row. Content holds the string-encoded content tree.
type Page struct {
	ID         string
	OwnerID    string
	Title      string
	Content    string
	SearchText string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PageFields is a partial page update; nil fields are left unchanged.
type PageFields struct {
	Title      *string
	Content    *string
	SearchText *string
}

func (f PageFields) empty() bool {
	return f.Title == nil && f.Content == nil && f.SearchText == nil
}
