package domain

import (
	"errors"
	"math"
)

var ErrInvalidPage = errors.New("page and size must be positive")

// Page is one slice of an ordered, offset-paginated listing.
type Page[T any] struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	Data        []T   `json:"data"`
}

// PageRequest validates a 1-based page request.
type PageRequest struct {
	Page int
	Size int
}

func (p PageRequest) Validate() error {
	if p.Page < 1 || p.Size < 1 {
		return ErrInvalidPage
	}
	return nil
}

// Offset is the number of items before the page. A page past the end of
// the int range saturates to math.MaxInt so stores return an empty page.
func (p PageRequest) Offset() int {
	if p.Page < 1 || p.Size < 1 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Size
}

// NewPage assembles a page; total pages is zero when there are no items.
func NewPage[T any](req PageRequest, total int64, items []T) Page[T] {
	if items == nil {
		items = []T{}
	}
	var pages int64
	if total > 0 && req.Size > 0 {
		pages = (total + int64(req.Size) - 1) / int64(req.Size)
	}
	return Page[T]{
		TotalItems:  total,
		TotalPages:  pages,
		CurrentPage: req.Page,
		PageSize:    req.Size,
		Data:        items,
	}
}
