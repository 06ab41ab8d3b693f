package gormext

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SearchWhere builds an OR predicate matching field against every value.
// Each value matches by equality. Unless strict, it also matches as a whole
// word inside, at the end of, or at the start of a space separated text.
// It returns nil when values is empty.
//
// Example (non-strict, values = ["red"]):
//
//	name = 'red' OR name LIKE '% red %' OR name LIKE '% red' OR name LIKE 'red %'
func SearchWhere(field string, values []string, strict bool) clause.Expression {
	dnf := make(tDNF, 0, len(values)*4)

	for _, value := range values {
		dnf = append(dnf, tDisjunct{{Column: field, Operator: operatorEq, Value: value}})
		if strict {
			continue
		}

		for _, pattern := range []string{"% " + value + " %", "% " + value, value + " %"} {
			dnf = append(dnf, tDisjunct{{Column: field, Operator: operatorLike, Value: pattern}})
		}
	}

	return dnf.toGORMExpression()
}

// Search is a scope form of SearchWhere. It leaves the query untouched when
// values is empty.
func Search(field string, values []string, strict bool) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		expr := SearchWhere(field, values, strict)
		if expr == nil {
			return db
		}

		return db.Where(expr)
	}
}
