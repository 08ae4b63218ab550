package entity

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Service is the CRUD surface of one business entity.
type Service[T any] interface {
	List(ctx context.Context, q ListQuery) (Page[T], error)
	Get(ctx context.Context, id string) (T, error)
	Count(ctx context.Context, f Filters) (int, error)
	Create(ctx context.Context, record T) (T, error)
	// Update applies the non zero fields of patch to the record with id.
	Update(ctx context.Context, id string, patch T) (T, error)
	Remove(ctx context.Context, id string) error
}

// Page is one page of a list query.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// SearchSuffix marks a filter that matches by case insensitive substring.
const SearchSuffix = "_search"

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Filters are column constraints. A key ending in SearchSuffix matches the
// column before the suffix with ILIKE, any other key matches by equality.
// Nil and empty string values are ignored.
type Filters map[string]any

// Normalize drops ignored values so equal constraints build equal keys.
func (f Filters) Normalize() Filters {
	if len(f) == 0 {
		return nil
	}
	out := make(Filters, len(f))
	for k, v := range f {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Keys returns the filter names in sorted order.
func (f Filters) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every filter name is a plain column identifier.
func (f Filters) Validate() error {
	for _, k := range f.Keys() {
		if err := validation.Validate(k, validation.Required, validation.Match(identifier)); err != nil {
			return fmt.Errorf("filter %q: %w", k, err)
		}
	}
	return nil
}

// MaxLimit caps the page size.
const MaxLimit = 500

// Pagination controls paging and ordering of list queries.
type Pagination struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
}

// DefaultPagination returns the first page of 20 rows, newest first.
func DefaultPagination() Pagination {
	return Pagination{Page: 1, Limit: 20, SortBy: "created_at", SortOrder: "desc"}
}

// Normalize fills unset fields from DefaultPagination.
func (p Pagination) Normalize() Pagination {
	def := DefaultPagination()
	if p.Page == 0 {
		p.Page = def.Page
	}
	if p.Limit == 0 {
		p.Limit = def.Limit
	}
	if p.SortBy == "" {
		p.SortBy = def.SortBy
	}
	if p.SortOrder == "" {
		p.SortOrder = def.SortOrder
	}
	return p
}

// Validate checks the pagination bounds.
func (p Pagination) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Page, validation.Min(1)),
		validation.Field(&p.Limit, validation.Min(1), validation.Max(MaxLimit)),
		validation.Field(&p.SortBy, validation.Match(identifier)),
		validation.Field(&p.SortOrder, validation.In("asc", "desc")),
	)
}

// Offset is the number of rows skipped before the page.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// ListQuery is the full parameter set of a list read. Its normalized form is
// used as a cache key segment.
type ListQuery struct {
	Filters    Filters    `json:"filters,omitempty"`
	Pagination Pagination `json:"pagination"`
}

// Normalize returns the canonical form of q.
func (q ListQuery) Normalize() ListQuery {
	return ListQuery{
		Filters:    q.Filters.Normalize(),
		Pagination: q.Pagination.Normalize(),
	}
}

// Validate checks filters and pagination.
func (q ListQuery) Validate() error {
	if err := q.Filters.Validate(); err != nil {
		return err
	}
	return q.Pagination.Validate()
}
