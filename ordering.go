package gormext

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Direction defines the sort direction for the requested dataset.
type Direction string

const (
	DirectionASC  Direction = "ASC"
	DirectionDESC Direction = "DESC"
)

func (o Direction) Valid() bool {
	return o == DirectionASC || o == DirectionDESC
}

func (o Direction) normalize() Direction {
	return Direction(strings.ToUpper(strings.TrimSpace(string(o))))
}

type (
	Orderings []OrderBy
	OrderBy   struct {
		Table     string
		Column    string
		Direction Direction
	}

	ColumnAlias = string

	// ColumnMapping maps external column aliases to fully qualified column names.
	// Use it when bare column names could cause an "ambiguous column name" error.
	// Key is an external alias, value is an internal column name.
	ColumnMapping = map[ColumnAlias]string

	// SortField is one requested ordering. Field is either "field" or
	// "alias.field"; an empty Direction falls back to the default one.
	SortField struct {
		Field     string
		Direction Direction
	}

	Sort []SortField
)

var _availableColumnNameSymbols = append([]rune("_.'`\""), lo.AlphanumericCharset...)

func (o OrderBy) validate() error {
	if !o.Direction.Valid() {
		return fmt.Errorf("invalid ordering direction '%s'", o.Direction)
	}

	// Guard against SQL injection by restricting allowed characters in column names.
	if !lo.Every(_availableColumnNameSymbols, []rune(o.Column)) {
		return fmt.Errorf("ordering column name contains forbidden symbols '%s'", o.Column)
	}

	if o.Table != clause.CurrentTable && !lo.Every(_availableColumnNameSymbols, []rune(o.Table)) {
		return fmt.Errorf("ordering table alias contains forbidden symbols '%s'", o.Table)
	}

	return nil
}

func (o OrderBy) qualifiedColumn() string {
	if o.Table == "" || o.Table == clause.CurrentTable {
		return o.Column
	}

	return o.Table + "." + o.Column
}

func (o OrderBy) toClause() clause.OrderByColumn {
	return clause.OrderByColumn{
		Column: clause.Column{Table: o.Table, Name: o.Column},
		Desc:   o.Direction == DirectionDESC,
	}
}

// ToSQLSlice converts Orderings to a slice of strings in the form
// "<order_column> <order_direction>" suitable for SQL query builders.
//
// Example: for Orderings: [{"", "a", "ASC"}, {"t", "b", "DESC"}] returns ["a ASC", "t.b DESC"].
func (o Orderings) ToSQLSlice() []string {
	ret := make([]string, 0, len(o))
	for _, ordering := range o {
		ret = append(ret, fmt.Sprintf("%s %s", ordering.qualifiedColumn(), ordering.Direction))
	}

	return ret
}

// ToSQL converts Orderings to a single string
// "<order_column_1> <order_direction_1>, <order_column_2> <order_direction_2>"
// suitable for embedding into an SQL query.
// Example: for [{"", "a", "ASC"}, {"", "b", "DESC"}] returns "a ASC, b DESC".
//
// Usage:
//
//	query := fmt.Sprintf("SELECT * FROM table ORDER BY %s", orderings.ToSQL())
func (o Orderings) ToSQL() string {
	return strings.Join(o.ToSQLSlice(), ", ")
}

// Apply appends the ordering to a gorm query. Columns are quoted by the
// dialect, and clause.CurrentTable resolves to the statement table.
func (o Orderings) Apply(db *gorm.DB) *gorm.DB {
	if len(o) == 0 {
		return db
	}

	return db.Clauses(clause.OrderBy{
		Columns: lo.Map(o, func(ordering OrderBy, _ int) clause.OrderByColumn {
			return ordering.toClause()
		}),
	})
}

func (o Orderings) validate() error {
	if len(o) == 0 {
		return fmt.Errorf("empty ordering list")
	}

	var err error
	for _, ordering := range o {
		err = ordering.validate()
		if err != nil {
			return err
		}
	}

	return nil
}

// AddOrder appends ORDER BY columns built from sort. A bare field is
// qualified with defaultAlias (the statement table when empty). An
// "alias.field" entry resolves alias through aliasMapping and uses it as is
// when unmapped. Entries with more segments are ignored.
func AddOrder(
	db *gorm.DB,
	sort Sort,
	defaultAlias string,
	aliasMapping map[string]string,
	defaultDirection Direction,
) (*gorm.DB, error) {
	if defaultAlias == "" {
		defaultAlias = clause.CurrentTable
	}

	orderings := make(Orderings, 0, len(sort))
	for _, field := range sort {
		ordering, ok := field.resolve(defaultAlias, aliasMapping, defaultDirection)
		if !ok {
			continue
		}

		if err := ordering.validate(); err != nil {
			return db, fmt.Errorf("cannot add order: %w", err)
		}

		orderings = append(orderings, ordering)
	}

	return orderings.Apply(db), nil
}

func (f SortField) resolve(defaultAlias string, aliasMapping map[string]string, defaultDirection Direction) (OrderBy, bool) {
	direction := f.Direction
	if strings.TrimSpace(string(direction)) == "" {
		direction = defaultDirection
	}

	ordering := OrderBy{Direction: direction.normalize()}

	parts := strings.Split(strings.TrimSpace(f.Field), ".")
	switch len(parts) {
	case 1:
		ordering.Table, ordering.Column = defaultAlias, parts[0]
	case 2:
		ordering.Table, ordering.Column = parts[0], parts[1]
		if mapped, ok := aliasMapping[parts[0]]; ok {
			ordering.Table = mapped
		}
	default:
		return OrderBy{}, false
	}

	return ordering, ordering.Column != ""
}

// ParseSortFields builds a Sort from strings in the format "field [asc|desc]".
func ParseSortFields(stringsOrderings []string) (Sort, error) {
	ret := make(Sort, 0, len(stringsOrderings))

	for _, stringOrdering := range stringsOrderings {
		parts := strings.Fields(stringOrdering)

		switch len(parts) {
		case 1:
			ret = append(ret, SortField{Field: parts[0]})
		case 2:
			ret = append(ret, SortField{Field: parts[0], Direction: Direction(parts[1]).normalize()})
		default:
			return nil, fmt.Errorf("invalid ordering string format '%s'", stringOrdering)
		}
	}

	return ret, nil
}

// ParseSort builds Orderings from a list of strings in the format
// "column asc|desc". Column aliases are resolved via ColumnMapping.
// Returns an error if an alias is not found in the mapping.
func ParseSort(stringsOrderings []string, columnMapping ColumnMapping) (Orderings, error) {
	ret := make([]OrderBy, 0, len(stringsOrderings))
	aliases := lo.Keys(columnMapping)

	for _, stringOrdering := range stringsOrderings {
		cutStringOrdering := strings.Split(strings.TrimSpace(stringOrdering), " ")
		if len(cutStringOrdering) != 2 {
			return nil, fmt.Errorf("invalid ordering string format '%s'", stringOrdering)
		}

		columnAlias := cutStringOrdering[0]
		direction := Direction(cutStringOrdering[1]).normalize()
		columnName := columnMapping[columnAlias]
		if columnName == "" {
			return nil, fmt.Errorf("invalid column alias. closest: '%s'", closestAlias(columnAlias, aliases))
		}

		ret = append(ret, OrderBy{
			Column:    columnName,
			Direction: direction,
		})
	}

	return ret, nil
}

func closestAlias(input ColumnAlias, dataSet []ColumnAlias) ColumnAlias {
	minDist := math.MaxInt
	closest := ""

	for _, dataSetAlias := range dataSet {
		dist := levenshtein([]rune(dataSetAlias), []rune(input))
		if dist < minDist {
			minDist = dist
			closest = dataSetAlias
		}
	}

	return closest
}
