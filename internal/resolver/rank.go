package resolver

import (
	"strconv"

	"github.com/Masterminds/squirrel"
)

// Rank переносит порядок ключей из workflow-хранилища в запрос к legacy:
// CASE column WHEN k1 THEN 1 ... ELSE default END, всегда по возрастанию.
type Rank struct {
	column string
	keys   []string
	ranks  map[string]int
	def    int
}

// BuildRankExpression ranks keys 1..N in list order. Keys absent from the list
// get len(keys)+2 when the first ordering token is descending and -1 otherwise.
// Returns nil for an empty list.
func BuildRankExpression(column string, keys []string, descendingFirst bool) *Rank {
	if len(keys) == 0 {
		return nil
	}
	r := &Rank{column: column, ranks: make(map[string]int, len(keys)), def: -1}
	if descendingFirst {
		r.def = len(keys) + 2
	}
	for i, k := range keys {
		if _, dup := r.ranks[k]; dup {
			continue
		}
		r.ranks[k] = i + 1
		r.keys = append(r.keys, k)
	}
	return r
}

// Of returns the rank a row with key would receive.
func (r *Rank) Of(key string) int {
	if n, ok := r.ranks[key]; ok {
		return n
	}
	return r.def
}

func (r *Rank) Default() int { return r.def }

func (r *Rank) ToSql() (string, []any, error) {
	c := squirrel.Case(r.column)
	for _, k := range r.keys {
		c = c.When(squirrel.Expr("?", k), strconv.Itoa(r.ranks[k]))
	}
	return c.Else(strconv.Itoa(r.def)).ToSql()
}
