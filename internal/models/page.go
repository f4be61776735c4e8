package models

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Pagination is a 1-based page request.
type Pagination struct {
	Page  int
	Limit int
}

// Normalize clamps the request into the supported range.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Pagination) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

// Page is one slice of a newest-first listing.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// NewPage builds a page and computes the page count.
func NewPage[T any](items []T, total int, p Pagination) Page[T] {
	p = p.Normalize()
	if items == nil {
		items = []T{}
	}
	pages := (total + p.Limit - 1) / p.Limit
	return Page[T]{Items: items, Total: total, Page: p.Page, Limit: p.Limit, Pages: pages}
}
