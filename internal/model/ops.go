package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig marks catalog and wiring mistakes. Never caused by request input.
var ErrConfig = errors.New("configuration error")

// Op is the comparison applied by a filter field.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpLike
	OpILike
	OpIn
	OpNotIn
	OpIsNull
	OpNot
)

var opSuffixes = map[string]Op{
	"eq":     OpEq,
	"neq":    OpNeq,
	"gt":     OpGt,
	"gte":    OpGte,
	"lt":     OpLt,
	"lte":    OpLte,
	"like":   OpLike,
	"ilike":  OpILike,
	"in":     OpIn,
	"not_in": OpNotIn,
	"isnull": OpIsNull,
	"not":    OpNot,
}

func (o Op) String() string {
	for s, op := range opSuffixes {
		if op == o {
			return s
		}
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp maps an operator suffix to its Op.
func ParseOp(suffix string) (Op, error) {
	op, ok := opSuffixes[suffix]
	if !ok {
		return 0, fmt.Errorf("%w: unknown operator suffix %q", ErrConfig, suffix)
	}
	return op, nil
}

// SplitColumn разбирает "production_date__gte" на колонку и оператор.
// Без суффикса оператор - равенство.
func SplitColumn(column string) (string, Op, error) {
	parts := strings.SplitN(column, "__", 2)
	if len(parts) == 1 {
		return column, OpEq, nil
	}
	op, err := ParseOp(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("column %q: %w", column, err)
	}
	return parts[0], op, nil
}
