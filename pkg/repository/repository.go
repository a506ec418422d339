package repository

import (
	"context"
	"errors"

	"wecodesec-tools/pkg/db/option"

	"gorm.io/gorm"
)

// Repository is a generic gorm store for one model type. Query structs follow
// gorm semantics: zero-valued fields are not part of the condition.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, id any, values any) error
	UpdateWhere(ctx context.Context, query *T, values map[string]any, opts ...option.QueryOption) (int64, error)
	BatchCreate(ctx context.Context, entities []*T) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx}
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	tx := s.db.WithContext(ctx).Model(new(T))
	if query != nil {
		tx = tx.Where(query)
	}
	tx = option.Apply(tx, opts...)

	var out []*T
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns (nil, nil) when no row matches.
func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	tx := s.db.WithContext(ctx).Model(new(T))
	if query != nil {
		tx = tx.Where(query)
	}
	tx = option.Apply(tx, opts...)

	var out T
	if err := tx.Take(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (s *store[T]) Create(ctx context.Context, entity *T) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	return s.db.WithContext(ctx).Create(entity).Error
}

func (s *store[T]) Update(ctx context.Context, id any, values any) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}

	res := s.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateWhere applies values to every row matching query and reports how many
// rows changed. A zero count is not an error.
func (s *store[T]) UpdateWhere(ctx context.Context, query *T, values map[string]any, opts ...option.QueryOption) (int64, error) {
	if s.db == nil {
		return 0, gorm.ErrInvalidDB
	}
	if query == nil {
		return 0, gorm.ErrMissingWhereClause
	}

	tx := option.Apply(s.db.WithContext(ctx).Model(new(T)).Where(query), opts...)
	res := tx.Updates(values)
	return res.RowsAffected, res.Error
}

func (s *store[T]) BatchCreate(ctx context.Context, entities []*T) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	if len(entities) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(entities).Error
}

func (s *store[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	if s.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	tx := s.db.WithContext(ctx).Model(new(T))
	if query != nil {
		tx = tx.Where(query)
	}
	tx = option.Apply(tx, opts...)

	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
