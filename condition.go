package gormext

import (
	"github.com/samber/lo"
	"gorm.io/gorm/clause"
)

type (
	tConjunct struct {
		Column   string
		Value    any
		Operator Operator
	}

	tDisjunct []tConjunct

	// tDNF is a condition in disjunctive normal form: disjuncts are ORed,
	// the conjuncts of a disjunct are ANDed.
	//
	// Listeners build single-disjunct filters (group, bounds, self
	// exclusion). Search builds a DNF of one-conjunct disjuncts.
	tDNF []tDisjunct
)

// toGORMExpression converts a conjunct of the form Operator(Column, Value)
// into the matching clause expression, so the column gets quoted by the
// dialect. A nil value compared with "=" or "<>" renders IS (NOT) NULL.
//
// Example:
//
//	tConjunct = { Column: "position", Operator: ">=", Value: 3}
//
// Result:
//
//	`position` >= 3
func (c tConjunct) toGORMExpression() clause.Expression {
	column := clause.Column{Name: c.Column}

	switch c.Operator {
	case operatorEq:
		return clause.Eq{Column: column, Value: c.Value}
	case operatorNeq:
		return clause.Neq{Column: column, Value: c.Value}
	case OperatorGT:
		return clause.Gt{Column: column, Value: c.Value}
	case OperatorLT:
		return clause.Lt{Column: column, Value: c.Value}
	case operatorGte:
		return clause.Gte{Column: column, Value: c.Value}
	case operatorLte:
		return clause.Lte{Column: column, Value: c.Value}
	case operatorLike:
		return clause.Like{Column: column, Value: c.Value}
	default:
		return clause.Expr{SQL: "? " + string(c.Operator) + " ?", Vars: []any{column, c.Value}}
	}
}

// toGORMExpression ANDs the conjuncts, or returns nil when there are none.
func (d tDisjunct) toGORMExpression() clause.Expression {
	return combine(lo.Map(d, func(c tConjunct, _ int) clause.Expression {
		return c.toGORMExpression()
	}), clause.And)
}

// toGORMExpression ORs the non-empty disjuncts, or returns nil when there
// are none.
func (d tDNF) toGORMExpression() clause.Expression {
	return combine(lo.FilterMap(d, func(disjunct tDisjunct, _ int) (clause.Expression, bool) {
		expr := disjunct.toGORMExpression()
		return expr, expr != nil
	}), clause.Or)
}

func combine(exprs []clause.Expression, join func(...clause.Expression) clause.Expression) clause.Expression {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return join(exprs...)
	}
}
