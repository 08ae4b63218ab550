package entity

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository is the subset of repository.Repository[T] the service adapter
// needs. Every go-repository-bun repository satisfies it.
type Repository[T any] interface {
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error)
	Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
	Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error)
	Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error
}

var _ Repository[any] = (repository.Repository[any])(nil)

// repositoryService adapts a Repository to Service.
type repositoryService[T any] struct {
	repo  Repository[T]
	kind  string
	setID func(T, uuid.UUID)
}

// RepositoryOption configures FromRepository.
type RepositoryOption[T any] func(*repositoryService[T])

// WithKind overrides the kind used in error messages.
func WithKind[T any](kind string) RepositoryOption[T] {
	return func(s *repositoryService[T]) { s.kind = kind }
}

// WithIDSetter is how Update stamps the target id onto a patch, usually the
// SetID of the model handlers.
func WithIDSetter[T any](fn func(T, uuid.UUID)) RepositoryOption[T] {
	return func(s *repositoryService[T]) { s.setID = fn }
}

// FromRepository exposes repo as an entity Service.
func FromRepository[T any](repo Repository[T], opts ...RepositoryOption[T]) Service[T] {
	s := &repositoryService[T]{repo: repo, kind: KindOf[T]()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *repositoryService[T]) List(ctx context.Context, q ListQuery) (Page[T], error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return Page[T]{}, Invalid(err, "invalid list query")
	}

	records, total, err := s.repo.List(ctx, SelectCriteria(q)...)
	if err != nil {
		return Page[T]{}, wrapSource(err, s.kind, "list", "")
	}
	return Page[T]{
		Items: records,
		Total: total,
		Page:  q.Pagination.Page,
		Limit: q.Pagination.Limit,
	}, nil
}

func (s *repositoryService[T]) Get(ctx context.Context, id string) (T, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		var zero T
		return zero, wrapSource(err, s.kind, "get", id)
	}
	return record, nil
}

func (s *repositoryService[T]) Count(ctx context.Context, f Filters) (int, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return 0, Invalid(err, "invalid filters")
	}

	n, err := s.repo.Count(ctx, filterCriteria(f)...)
	if err != nil {
		return 0, wrapSource(err, s.kind, "count", "")
	}
	return n, nil
}

func (s *repositoryService[T]) Create(ctx context.Context, record T) (T, error) {
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		var zero T
		return zero, wrapSource(err, s.kind, "create", "")
	}
	return created, nil
}

func (s *repositoryService[T]) Update(ctx context.Context, id string, patch T) (T, error) {
	var zero T

	uid, err := uuid.Parse(id)
	if err != nil {
		return zero, Invalid(err, fmt.Sprintf("invalid %s id", s.kind))
	}
	if s.setID == nil {
		return zero, fmt.Errorf("%s: update needs an id setter", s.kind)
	}
	s.setID(patch, uid)

	if _, err := s.repo.Update(ctx, patch, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.OmitZero().WherePK()
	}); err != nil {
		return zero, wrapSource(err, s.kind, "update", id)
	}

	// re-read so the caller gets the whole row, not just the patched columns
	return s.Get(ctx, id)
}

func (s *repositoryService[T]) Remove(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return Invalid(err, fmt.Sprintf("invalid %s id", s.kind))
	}

	err := s.repo.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("id = ?", id)
	})
	return wrapSource(err, s.kind, "remove", id)
}

// SelectCriteria turns a normalized list query into repository criteria.
func SelectCriteria(q ListQuery) []repository.SelectCriteria {
	criteria := filterCriteria(q.Filters)

	p := q.Pagination
	criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
		sq = sq.OrderExpr("? "+strings.ToUpper(p.SortOrder), bun.Ident(p.SortBy))
		return sq.Limit(p.Limit).Offset(p.Offset())
	})
	return criteria
}

func filterCriteria(f Filters) []repository.SelectCriteria {
	criteria := make([]repository.SelectCriteria, 0, len(f)+1)
	for _, key := range f.Keys() {
		value := f[key]
		if column, ok := strings.CutSuffix(key, SearchSuffix); ok {
			pattern := "%" + fmt.Sprint(value) + "%"
			criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Where("? ILIKE ?", bun.Ident(column), pattern)
			})
			continue
		}
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("? = ?", bun.Ident(key), value)
		})
	}
	return criteria
}
