package filter

import (
	"fmt"

	"FlowtrackAPI/internal/model"

	"github.com/Masterminds/squirrel"
)

// BaseAlias is the alias of the entity a query is built for.
const BaseAlias = "main"

// Context is the scratch state of one compilation: the join registry and
// the exclusion collected from compiled specs. Create one per query and
// discard it afterwards.
type Context struct {
	joined  map[string]bool
	order   []string
	exclude bool
}

func NewContext() *Context {
	return &Context{joined: map[string]bool{}}
}

// Joins returns the registered join aliases in the order they were added.
func (c *Context) Joins() []string { return append([]string(nil), c.order...) }

// Joined reports whether alias is already registered.
func (c *Context) Joined(alias string) bool { return c.joined[alias] }

// Exclude reports whether any compiled spec asked for the complement.
func (c *Context) Exclude() bool { return c.exclude }

// joinAlias: связи первого уровня называются по имени связи, вложенные - parent_rel
func joinAlias(parent, relation string) string {
	if parent == BaseAlias {
		return relation
	}
	return parent + "_" + relation
}

// join adds the relation join once per alias.
func (c *Context) join(sb squirrel.SelectBuilder, parent, relName string, rel *model.Relation) (squirrel.SelectBuilder, string) {
	alias := joinAlias(parent, relName)
	if c.joined[alias] {
		return sb, alias
	}
	c.joined[alias] = true
	c.order = append(c.order, alias)

	clause := fmt.Sprintf("%s AS %s ON %s", rel.Target().Table, alias, joinOn(parent, alias, rel))
	if rel.Join == "inner" {
		return sb.Join(clause), alias
	}
	return sb.LeftJoin(clause), alias
}

func joinOn(parent, alias string, rel *model.Relation) string {
	if rel.Type == "belongs_to" {
		return fmt.Sprintf("%s.%s = %s.%s", parent, rel.FK, alias, rel.PK)
	}
	return fmt.Sprintf("%s.%s = %s.%s", parent, rel.PK, alias, rel.FK)
}
