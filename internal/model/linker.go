package model

import (
	"fmt"
	"sort"
	"strings"
)

// Link связывает отношения и фильтры и проверяет каталог целиком.
func (c *Catalog) Link() error {
	names := make([]string, 0, len(c.Entities))
	for name := range c.Entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.linkEntity(c.Entities[name]); err != nil {
			return err
		}
	}
	for _, name := range names {
		e := c.Entities[name]
		for filterName, def := range e.Filters {
			if err := linkFilter(e, filterName, def); err != nil {
				return err
			}
		}
	}
	// shorthand указывает на поле вложенного фильтра, поэтому проверяем вторым проходом
	for _, name := range names {
		for filterName, def := range c.Entities[name].Filters {
			for _, f := range def.Fields {
				if f.nested == nil || f.Shorthand == "" {
					continue
				}
				if f.nested.Field(f.Shorthand) == nil {
					return configErrorf("%s.%s.%s: shorthand %q is not a field of nested filter %s",
						name, filterName, f.Name, f.Shorthand, f.Filter)
				}
			}
		}
	}
	return nil
}

func (c *Catalog) linkEntity(e *Entity) error {
	switch e.Store {
	case StoreLegacy, StoreWorkflow:
	default:
		return configErrorf("entity %s: unknown store %q", e.Name, e.Store)
	}
	if e.Table == "" {
		return configErrorf("entity %s: table is required", e.Name)
	}
	if e.Key == "" {
		e.Key = "id"
	}

	for relName, rel := range e.Relations {
		target, ok := c.Entities[rel.Entity]
		if !ok {
			return configErrorf("invalid relation: entity '%s' not found in '%s.%s'", rel.Entity, e.Name, relName)
		}
		if target.Store != e.Store {
			return configErrorf("relation '%s.%s' crosses stores", e.Name, relName)
		}
		switch rel.Type {
		case "belongs_to":
			// FK в текущей сущности, указывает на связанную
			if rel.FK == "" {
				rel.FK = relName + "_id"
			}
		case "has_one", "has_many":
			// FK в связанной сущности, указывает на текущую
			if rel.FK == "" {
				rel.FK = e.Name + "_id"
			}
		default:
			return configErrorf("relation '%s.%s' must have valid type (has_many, has_one, belongs_to), got '%s'", e.Name, relName, rel.Type)
		}
		if rel.PK == "" {
			rel.PK = "id"
		}
		switch rel.Join {
		case "":
			rel.Join = "left"
		case "left", "inner":
		default:
			return configErrorf("relation '%s.%s': unknown join %q", e.Name, relName, rel.Join)
		}
		rel.ref = target
	}

	for _, j := range e.Joins {
		if err := singleRelation(e, j); err != nil {
			return fmt.Errorf("entity %s joins: %w", e.Name, err)
		}
	}
	if relName, _, ok := strings.Cut(e.Since, "."); ok {
		if err := singleRelation(e, relName); err != nil {
			return fmt.Errorf("entity %s since: %w", e.Name, err)
		}
	}
	for _, col := range e.Columns {
		if col.Expr != "" {
			if col.Alias == "" {
				return configErrorf("entity %s: expression column needs an alias", e.Name)
			}
			continue
		}
		if col.Source == "" {
			return configErrorf("entity %s: column without source", e.Name)
		}
		if relName, _, ok := strings.Cut(col.Source, "."); ok {
			if err := singleRelation(e, relName); err != nil {
				return fmt.Errorf("entity %s column %s: %w", e.Name, col.Source, err)
			}
		}
	}
	return nil
}

func linkFilter(e *Entity, name string, def *FilterDef) error {
	where := e.Name + "." + name
	def.Name = name
	def.entity = e
	def.byName = make(map[string]*FilterField, len(def.Fields))

	for _, f := range def.Fields {
		if f.Name == "" {
			return configErrorf("%s: field without name", where)
		}
		if _, dup := def.byName[f.Name]; dup {
			return configErrorf("%s: field %s declared twice", where, f.Name)
		}
		if f.Column == "" {
			f.Column = f.Name
		}
		storage, op, err := SplitColumn(f.Column)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", where, f.Name, err)
		}
		f.Storage, f.Op = storage, op
		if f.Type == "" {
			f.Type = TypeString
		}
		if (f.Invert || f.ExcludeOnFalse) && f.Type != TypeBool {
			return configErrorf("%s.%s: invert and exclude_on_false need a bool field", where, f.Name)
		}

		if f.Relation != "" {
			rel := e.GetRelation(f.Relation)
			if rel == nil {
				return configErrorf("%s.%s: unknown relation %q", where, f.Name, f.Relation)
			}
			if f.Filter != "" {
				nested, ok := rel.ref.Filters[f.Filter]
				if !ok {
					return configErrorf("%s.%s: entity %s has no filter %q", where, f.Name, rel.Entity, f.Filter)
				}
				f.nested = nested
			}
		} else if f.Filter != "" {
			return configErrorf("%s.%s: nested filter requires a relation", where, f.Name)
		}
		def.byName[f.Name] = f
	}

	if def.Search != nil {
		if def.Search.Name == "" {
			def.Search.Name = "search"
		}
		if def.byName[def.Search.Name] != nil {
			return configErrorf("%s: search name %q collides with a field", where, def.Search.Name)
		}
		if len(def.Search.Fields) == 0 {
			return configErrorf("%s: search without fields", where)
		}
		for _, sf := range def.Search.Fields {
			if sf.Column == "" {
				return configErrorf("%s: search field without column", where)
			}
			if sf.Relation != "" {
				if err := singleRelation(e, sf.Relation); err != nil {
					return fmt.Errorf("%s search: %w", where, err)
				}
			}
		}
	}

	for field, companion := range def.Couplings {
		if def.byName[field] == nil {
			return configErrorf("%s: coupling source %q is not declared", where, field)
		}
		c := def.byName[companion]
		if c == nil {
			return configErrorf("%s: coupling companion %q is not declared", where, companion)
		}
		if c.Type != TypeBool {
			return configErrorf("%s: coupling companion %q must be bool", where, companion)
		}
	}

	for _, f := range def.Fields {
		for _, imp := range f.Implies {
			if def.byName[imp.Field] == nil {
				return configErrorf("%s.%s: implied field %q is not declared", where, f.Name, imp.Field)
			}
			if s, ok := imp.Value.(string); ok && strings.HasPrefix(s, "$") && s != PlaceholderToday {
				return configErrorf("%s.%s: unknown placeholder %q", where, f.Name, s)
			}
		}
		if f.Expand != nil {
			for _, suffix := range []string{"__gte", "__lte"} {
				if def.byName[f.Expand.Target+suffix] == nil {
					return configErrorf("%s.%s: expand target %s%s is not declared", where, f.Name, f.Expand.Target, suffix)
				}
			}
		}
	}

	return linkOrdering(e, where, def.Ordering)
}

func linkOrdering(e *Entity, where string, o OrderingDef) error {
	seen := map[string]bool{}
	for _, tok := range o.Default {
		field := strings.TrimLeft(tok, "-+")
		if !o.Allowed(field) {
			return configErrorf("%s: default ordering %q is not sortable", where, tok)
		}
		if seen[field] {
			return configErrorf("%s: default ordering repeats %q", where, field)
		}
		seen[field] = true
	}
	for field, column := range o.Columns {
		if !o.Allowed(field) {
			return configErrorf("%s: ordering column for unsortable field %q", where, field)
		}
		if relName, _, ok := strings.Cut(column, "."); ok {
			if err := singleRelation(e, relName); err != nil {
				return fmt.Errorf("%s ordering %s: %w", where, field, err)
			}
		}
	}
	return nil
}

// singleRelation: связь существует и не размножает строки при JOIN
func singleRelation(e *Entity, name string) error {
	rel := e.GetRelation(name)
	if rel == nil {
		return configErrorf("unknown relation %q", name)
	}
	if rel.ToMany() {
		return configErrorf("relation %q is to-many and cannot be joined", name)
	}
	return nil
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
