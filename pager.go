package gormext

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

const (
	NoLimit      = -1
	MaxLimit     = 100
	DefaultLimit = 10
	FirstPage    = 1
)

func IsNormalizedLimitMax(limit int, maxLimit int) (int, bool) {
	if limit <= 0 {
		return DefaultLimit, false
	} else if limit > maxLimit {
		return maxLimit, false
	}

	return limit, true
}

func NormalizeLimitMax(limit int, maxLimit int) int {
	ret, _ := IsNormalizedLimitMax(limit, maxLimit)
	return ret
}

func NormalizeLimit(limit int) int {
	return NormalizeLimitMax(limit, MaxLimit)
}

// RawPager is intended for API payloads. For proper code generation, inline it:
//
//	type MyFilter struct {
//	    Paging RawPager `json:",inline"`
//	}
type RawPager struct {
	// Limit - maximum number of records on a page. NoLimit returns everything.
	Limit int `json:"limit"`
	// Page - 1-based page number. Values below FirstPage select the first page.
	Page int `json:"page"`
}

// Decode converts RawPager into *Pager, normalizing Limit and Page.
func (p RawPager) Decode(orderBy ...OrderBy) *Pager {
	return NewPager().
		WithLimit(p.Limit).
		WithPage(p.Page).
		WithSubstitutedSort(orderBy...)
}

// Pager is a page-number pager: LIMIT limit OFFSET (page-1)*limit.
type Pager struct {
	limit int
	page  int
	sort  Orderings
}

func NewPager() *Pager {
	return &Pager{limit: DefaultLimit, page: FirstPage}
}

// WithUnlimited allows returning all records on a single page.
func (p *Pager) WithUnlimited() *Pager {
	if p == nil {
		p = NewPager()
	}

	p.limit = NoLimit

	return p
}

// WithLimit sets the page size. The value is normalized, NoLimit switches
// the pager to unlimited mode.
func (p *Pager) WithLimit(limit int) *Pager {
	if p == nil {
		p = NewPager()
	}

	if limit == NoLimit {
		return p.WithUnlimited()
	}
	p.limit = NormalizeLimit(limit)

	return p
}

// WithPage sets the 1-based page number.
func (p *Pager) WithPage(page int) *Pager {
	if p == nil {
		p = NewPager()
	}

	p.page = max(page, FirstPage)

	return p
}

// WithSubstitutedSort resets previous orderings and applies the provided ones.
func (p *Pager) WithSubstitutedSort(orderBy ...OrderBy) *Pager {
	if p == nil {
		p = NewPager()
	}

	p.sort = nil

	return p.WithSort(orderBy...)
}

// WithSort appends sort orderings without overwriting existing ones.
func (p *Pager) WithSort(orderBy ...OrderBy) *Pager {
	if p == nil {
		p = NewPager()
	}

	for _, o := range orderBy {
		idx := slices.IndexFunc(p.sort, func(processed OrderBy) bool {
			return processed.Table == o.Table && processed.Column == o.Column
		})

		// Remove previous occurrence (avoid duplication).
		if idx != -1 {
			p.sort = slices.Delete(p.sort, idx, idx+1)
		}

		p.sort = append(p.sort, o)
	}

	return p
}

// Paginate applies ordering, LIMIT and OFFSET to the dataset.
func (p *Pager) Paginate(db *gorm.DB) (*gorm.DB, error) {
	if p == nil {
		p = NewPager()
	}

	if len(p.sort) > 0 {
		if err := p.sort.validate(); err != nil {
			return nil, fmt.Errorf("cannot paginate: %w", err)
		}

		db = p.sort.Apply(db)
	}

	if p.IsUnlimited() {
		return db, nil
	}

	return db.Limit(p.GetLimit()).Offset(p.Offset()), nil
}

// GetLimit returns the page size. NoLimit means the pager is unlimited.
func (p *Pager) GetLimit() int {
	if p == nil || p.limit == 0 {
		return DefaultLimit
	}

	return p.limit
}

// GetPage returns the 1-based page number.
func (p *Pager) GetPage() int {
	if p == nil || p.page < FirstPage {
		return FirstPage
	}

	return p.page
}

// GetSort returns orderings that will be applied to the dataset.
func (p *Pager) GetSort() Orderings {
	if p == nil {
		return nil
	}

	return p.sort
}

// IsUnlimited returns true if the limit equals NoLimit.
func (p *Pager) IsUnlimited() bool {
	if p == nil {
		return false
	}

	return p.limit == NoLimit
}

// Offset returns the number of rows skipped before the current page.
func (p *Pager) Offset() int {
	if p.IsUnlimited() {
		return 0
	}

	return (p.GetPage() - 1) * p.GetLimit()
}

// PageResult is one page of a dataset together with its totals.
type PageResult[T any] struct {
	Items        []T   `json:"items"`
	Total        int64 `json:"total"`
	Page         int   `json:"page"`
	LastPage     int   `json:"lastPage"`
	AppliedLimit int   `json:"appliedLimit"`
}

// HasNextPage reports whether a page follows the current one.
func (r *PageResult[T]) HasNextPage() bool {
	return r != nil && r.Page < r.LastPage
}

// NextPage returns the page after the current one, or the last page.
func (r *PageResult[T]) NextPage() int {
	if r == nil {
		return FirstPage
	}

	return min(r.Page+1, r.LastPage)
}

// lastPage returns ceil(total/limit), never less than FirstPage.
func lastPage(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return FirstPage
	}

	return max(int((total+int64(limit)-1)/int64(limit)), FirstPage)
}

// FetchPage counts the rows matched by db and loads the page selected by
// pager. When db carries no model or table, T is used as the model.
func FetchPage[T any](db *gorm.DB, pager *Pager) (*PageResult[T], error) {
	if pager == nil {
		pager = NewPager()
	}

	base := db
	if base.Statement.Model == nil && base.Statement.Table == "" {
		base = base.Model(new(T))
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("cannot count page items: %w", err)
	}

	paged, err := pager.Paginate(base)
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, lo.Ternary(pager.IsUnlimited(), 0, pager.GetLimit()))
	if err = paged.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("cannot fetch page items: %w", err)
	}

	return &PageResult[T]{
		Items:        items,
		Total:        total,
		Page:         pager.GetPage(),
		LastPage:     lo.Ternary(pager.IsUnlimited(), FirstPage, lastPage(total, pager.GetLimit())),
		AppliedLimit: pager.GetLimit(),
	}, nil
}
