package filter

import (
	"fmt"
	"strings"

	"FlowtrackAPI/internal/model"

	"github.com/Masterminds/squirrel"
)

// Base starts a query over entity aliased as "main", with the entity's
// always-on joins and static scope conditions. Columns are added by the caller.
func Base(entity *model.Entity, cc *Context) squirrel.SelectBuilder {
	sb := squirrel.Select().From(entity.Table + " AS " + BaseAlias)
	for _, name := range entity.Joins {
		sb, _ = cc.join(sb, BaseAlias, name, entity.Relations[name])
	}
	for _, cond := range entity.Scope {
		sb = sb.Where(cond)
	}
	return sb
}

// Project adds the entity's configured columns, or main.* when none are configured.
func Project(entity *model.Entity, sb squirrel.SelectBuilder, cc *Context) squirrel.SelectBuilder {
	if len(entity.Columns) == 0 {
		return sb.Columns(BaseAlias + ".*")
	}
	for _, col := range entity.Columns {
		if col.Expr != "" {
			sb = sb.Column(fmt.Sprintf("%s AS %s", col.Expr, col.Alias))
			continue
		}
		name := col.Alias
		if name == "" {
			name = col.Source[strings.LastIndex(col.Source, ".")+1:]
		}
		var ident string
		sb, ident = cc.Column(sb, entity, col.Source)
		sb = sb.Column(ident + " AS " + name)
	}
	return sb
}

// Column resolves "col" or "relation.col" against the base alias, joining the
// relation through the registry when needed.
func (c *Context) Column(sb squirrel.SelectBuilder, entity *model.Entity, source string) (squirrel.SelectBuilder, string) {
	relName, col, ok := strings.Cut(source, ".")
	if !ok {
		return sb, BaseAlias + "." + source
	}
	sb, alias := c.join(sb, BaseAlias, relName, entity.Relations[relName])
	return sb, alias + "." + col
}

// Compile applies the predicates and the effective ordering of spec.
func Compile(spec *Spec, sb squirrel.SelectBuilder, cc *Context) (squirrel.SelectBuilder, error) {
	sb, err := CompileWhere(spec, sb, cc)
	if err != nil {
		return sb, err
	}
	return CompileOrdering(spec.Ordering(), spec.Def(), sb, cc)
}

// CompileWhere applies the predicates of spec only. All predicates are ANDed.
func CompileWhere(spec *Spec, sb squirrel.SelectBuilder, cc *Context) (squirrel.SelectBuilder, error) {
	if spec.IsExclude() {
		cc.exclude = true
	}
	return cc.compileFields(spec, sb, BaseAlias)
}

func (c *Context) compileFields(spec *Spec, sb squirrel.SelectBuilder, alias string) (squirrel.SelectBuilder, error) {
	def := spec.Def()
	entity := def.Entity()

	for _, f := range spec.fields {
		if f.Def == nil {
			sb = c.search(sb, def, alias, f.Value.(string))
			continue
		}

		if f.Def.Relation == "" {
			pred, err := predicate(alias+"."+f.Def.Storage, f.Def, f.Value)
			if err != nil {
				return sb, err
			}
			sb = sb.Where(pred)
			continue
		}

		rel := entity.Relations[f.Def.Relation]
		if rel.ToMany() {
			// has_many никогда не джойним: EXISTS не размножает строки
			pred, err := c.exists(alias, f, rel)
			if err != nil {
				return sb, err
			}
			sb = sb.Where(pred)
			continue
		}

		var relAlias string
		sb, relAlias = c.join(sb, alias, f.Def.Relation, rel)
		if sub, ok := f.Value.(*Spec); ok {
			var err error
			if sb, err = c.compileFields(sub, sb, relAlias); err != nil {
				return sb, err
			}
			continue
		}
		pred, err := predicate(relAlias+"."+f.Def.Storage, f.Def, f.Value)
		if err != nil {
			return sb, err
		}
		sb = sb.Where(pred)
	}
	return sb, nil
}

// exists compiles a to-many field into a correlated EXISTS subquery with its own join registry.
func (c *Context) exists(parent string, f Field, rel *model.Relation) (squirrel.Sqlizer, error) {
	alias := joinAlias(parent, f.Def.Relation)
	sub := squirrel.Select("1").
		From(rel.Target().Table + " AS " + alias).
		Where(fmt.Sprintf("%s.%s = %s.%s", alias, rel.FK, parent, rel.PK))

	inner := &Context{joined: map[string]bool{alias: true}}
	if spec, ok := f.Value.(*Spec); ok {
		var err error
		if sub, err = inner.compileFields(spec, sub, alias); err != nil {
			return nil, err
		}
	} else {
		pred, err := predicate(alias+"."+f.Def.Storage, f.Def, f.Value)
		if err != nil {
			return nil, err
		}
		sub = sub.Where(pred)
	}
	return squirrel.Expr("EXISTS (?)", sub), nil
}

// search: OR регистронезависимых подстрок по настроенным полям
func (c *Context) search(sb squirrel.SelectBuilder, def *model.FilterDef, alias, value string) squirrel.SelectBuilder {
	entity := def.Entity()
	or := make(squirrel.Or, 0, len(def.Search.Fields))
	for _, sf := range def.Search.Fields {
		col := alias + "." + sf.Column
		if sf.Relation != "" {
			var relAlias string
			sb, relAlias = c.join(sb, alias, sf.Relation, entity.Relations[sf.Relation])
			col = relAlias + "." + sf.Column
		}
		or = append(or, like(col, "ILIKE", value))
	}
	return sb.Where(or)
}

// CompileOrdering adds one ORDER BY term per token, in token order.
// Tokens whose column lives on a relation join it through the registry.
func CompileOrdering(tokens []string, def *model.FilterDef, sb squirrel.SelectBuilder, cc *Context) (squirrel.SelectBuilder, error) {
	if err := checkAmbiguous(tokens); err != nil {
		return sb, err
	}
	for _, raw := range tokens {
		tok := ParseToken(raw)
		if !def.Ordering.Allowed(tok.Field) {
			return sb, &ValidationError{Field: "ordering", Tokens: []string{raw}, Message: "field is not sortable"}
		}
		column := def.Ordering.Columns[tok.Field]
		if column == "" {
			column = tok.Field
		}
		var ident string
		sb, ident = cc.Column(sb, def.Entity(), column)
		if tok.Desc {
			sb = sb.OrderBy(ident + " DESC")
		} else {
			sb = sb.OrderBy(ident + " ASC")
		}
	}
	return sb, nil
}

func predicate(col string, f *model.FilterField, v any) (squirrel.Sqlizer, error) {
	switch f.Op {
	case model.OpEq:
		return squirrel.Eq{col: v}, nil
	case model.OpNeq:
		return squirrel.NotEq{col: v}, nil
	case model.OpGt:
		return squirrel.Gt{col: v}, nil
	case model.OpGte:
		return squirrel.GtOrEq{col: v}, nil
	case model.OpLt:
		return squirrel.Lt{col: v}, nil
	case model.OpLte:
		return squirrel.LtOrEq{col: v}, nil
	case model.OpLike:
		return like(col, "LIKE", v), nil
	case model.OpILike:
		return like(col, "ILIKE", v), nil
	case model.OpIn:
		return squirrel.Eq{col: list(v)}, nil
	case model.OpNotIn:
		return squirrel.NotEq{col: list(v)}, nil
	case model.OpIsNull:
		if null, _ := v.(bool); null {
			return squirrel.Eq{col: nil}, nil
		}
		return squirrel.NotEq{col: nil}, nil
	case model.OpNot:
		// IS NOT принимает только литералы, параметр допустим лишь в IS DISTINCT FROM
		return squirrel.Expr(col+" IS DISTINCT FROM ?", v), nil
	}
	return nil, fmt.Errorf("%w: operator %s on %s", model.ErrConfig, f.Op, col)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// like: подстрока; % и _ из запроса экранируются и совпадают буквально
func like(col, op string, v any) squirrel.Sqlizer {
	pattern := "%" + likeEscaper.Replace(fmt.Sprint(v)) + "%"
	return squirrel.Expr(col+" "+op+` ? ESCAPE '\'`, pattern)
}

func list(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case string:
		parts := strings.Split(x, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
