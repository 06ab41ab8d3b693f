package gormext

// Operator defines a comparison operator for filtering by column.
// Used in group filters, position shifts and search predicates.
type Operator string

const (
	OperatorGT Operator = ">"
	OperatorLT Operator = "<"

	// Private operators are used ONLY while building conditions internally.
	operatorEq   Operator = "="
	operatorNeq  Operator = "<>"
	operatorGte  Operator = ">="
	operatorLte  Operator = "<="
	operatorLike Operator = "LIKE"
)
