package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From, To *T
}

// CursorPage wraps a page of results together with the next page token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role enumerates the account roles recognised across the API.
type Role string

const (
	// RoleClient identifies company buyers assembling quotations.
	RoleClient Role = "client"
	// RoleCommercial identifies sales staff managing assigned clients.
	RoleCommercial Role = "commercial"
	// RoleAdmin identifies back-office administrators.
	RoleAdmin Role = "admin"
)

// User is an account document keyed by the Firebase UID.
type User struct {
	UID         string
	Email       string
	Role        Role
	CompanyName string
	NIT         string
	ContactName string
	WhatsApp    string
	City        string
	// AssignedTo holds the UID of the commercial responsible for a client
	// account. Empty for staff accounts.
	AssignedTo string
	Active     bool
	CreatedAt  time.Time
	LastLogin  *time.Time
}

// IsStaff reports whether the user may operate on other accounts' records.
func (u User) IsStaff() bool {
	return u.Role == RoleCommercial || u.Role == RoleAdmin
}
