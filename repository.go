package gormext

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by Repository.Find when no row matches.
var ErrNotFound = errors.New("not found")

// Repository is a typed entry point over a model table tying the query
// helpers together.
type Repository[T any] struct {
	db *gorm.DB
}

func NewRepository[T any](db *gorm.DB) *Repository[T] {
	return &Repository[T]{db: db}
}

// QueryBuilder starts a query over T bound to ctx.
func (r *Repository[T]) QueryBuilder(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(new(T))
}

// Find loads the row with the given primary key.
func (r *Repository[T]) Find(ctx context.Context, id any) (*T, error) {
	model := new(T)

	err := r.QueryBuilder(ctx).
		Where(clause.Eq{Column: clause.PrimaryColumn, Value: id}).
		Take(model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	} else if err != nil {
		return nil, err
	}

	return model, nil
}

// FindAll loads every row ordered by sort, ascending unless stated otherwise.
func (r *Repository[T]) FindAll(ctx context.Context, sort Sort) ([]T, error) {
	qb, err := r.Order(r.QueryBuilder(ctx), sort, nil, DirectionASC)
	if err != nil {
		return nil, err
	}

	ret := make([]T, 0)
	if err = qb.Find(&ret).Error; err != nil {
		return nil, err
	}

	return ret, nil
}

// Save inserts or updates model.
func (r *Repository[T]) Save(ctx context.Context, model *T) error {
	return r.db.WithContext(ctx).Save(model).Error
}

// Create inserts models.
func (r *Repository[T]) Create(ctx context.Context, models ...*T) error {
	if len(models) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Create(models).Error
}

// Delete removes model, softly when T is soft-deletable.
func (r *Repository[T]) Delete(ctx context.Context, model *T) error {
	return r.db.WithContext(ctx).Delete(model).Error
}

// Page loads one page of qb. A nil qb pages over the whole table.
func (r *Repository[T]) Page(ctx context.Context, qb *gorm.DB, pager *Pager) (*PageResult[T], error) {
	if qb == nil {
		qb = r.QueryBuilder(ctx)
	}

	return FetchPage[T](qb, pager)
}

// Search narrows qb with SearchWhere.
func (r *Repository[T]) Search(qb *gorm.DB, field string, values []string, strict bool) *gorm.DB {
	return qb.Scopes(Search(field, values, strict))
}

// Order adds ORDER BY columns to qb, see AddOrder.
func (r *Repository[T]) Order(qb *gorm.DB, sort Sort, aliasMapping map[string]string, defaultDirection Direction) (*gorm.DB, error) {
	return AddOrder(qb, sort, "", aliasMapping, defaultDirection)
}
