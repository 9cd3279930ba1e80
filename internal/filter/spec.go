// Package filter turns declarative filter requests into squirrel queries.
//
// A Spec is built once per request from raw request values and never mutated
// afterwards. Everything that changes while compiling (joins already added,
// exclusion) lives in a Context created by the caller for one compilation.
package filter

import (
	"errors"
	"strings"
	"time"

	"FlowtrackAPI/internal/model"
)

// Field is one resolved (name, value) pair of a Spec.
// Def is nil for the search field.
type Field struct {
	Name  string
	Def   *model.FilterField
	Value any // string, int64, float64, bool, time.Time, []string or *Spec
}

type Spec struct {
	def       *model.FilterDef
	fields    []Field
	requested []string
	ordering  []string
	exclude   bool
}

// New builds a Spec for today's date.
func New(def *model.FilterDef, raw map[string]any, ordering []string) (*Spec, error) {
	return NewAt(def, raw, ordering, time.Now())
}

// NewAt builds a Spec, resolving date-relative values against now.
// Derived fields (implies, range and window expansion, couplings) are
// expanded here exactly once.
func NewAt(def *model.FilterDef, raw map[string]any, ordering []string, now time.Time) (*Spec, error) {
	b := &builder{
		def:   def,
		today: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		spec:  &Spec{def: def},
	}

	for _, f := range def.Fields {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			continue
		}
		if err := b.add(f, v, true); err != nil {
			return nil, err
		}
	}
	if name := def.SearchName(); name != "" {
		if v, ok := raw[name]; ok && v != nil {
			s, isString := v.(string)
			if !isString {
				return nil, invalidValue(name, v, "string")
			}
			if s = strings.TrimSpace(s); s != "" {
				b.spec.fields = append(b.spec.fields, Field{Name: name, Value: s})
			}
		}
	}
	b.couple()

	requested, err := NormalizeOrdering(def.Ordering, ordering)
	if err != nil {
		return nil, err
	}
	b.spec.requested = requested
	if len(requested) > 0 {
		b.spec.ordering = requested
	} else {
		b.spec.ordering = append([]string(nil), def.Ordering.Default...)
	}
	return b.spec, nil
}

// Def returns the filter definition the spec is bound to.
func (s *Spec) Def() *model.FilterDef { return s.def }

// Fields returns the resolved fields in declaration order.
func (s *Spec) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Value returns the first resolved value for name.
func (s *Spec) Value(name string) (any, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// IsFiltering reports whether any field, nested ones included, carries a value.
func (s *Spec) IsFiltering() bool { return len(s.fields) > 0 }

// IsExclude reports whether the matched set must be complemented by the consumer.
func (s *Spec) IsExclude() bool {
	if s.exclude {
		return true
	}
	for _, f := range s.fields {
		if sub, ok := f.Value.(*Spec); ok && sub.IsExclude() {
			return true
		}
	}
	return false
}

// Requested returns the allow-listed tokens the caller asked for.
func (s *Spec) Requested() []string { return append([]string(nil), s.requested...) }

// Ordering returns the requested tokens, or the default ordering when none survived.
func (s *Spec) Ordering() []string { return append([]string(nil), s.ordering...) }

// Ordered reports whether the caller asked for at least one valid ordering token.
func (s *Spec) Ordered() bool { return len(s.requested) > 0 }

type builder struct {
	def   *model.FilterDef
	today time.Time
	spec  *Spec
}

func (b *builder) add(f *model.FilterField, raw any, derive bool) error {
	if nested := f.Nested(); nested != nil {
		sub, err := b.nested(f, nested, raw)
		if err != nil {
			return err
		}
		if sub.IsFiltering() {
			b.spec.fields = append(b.spec.fields, Field{Name: f.Name, Def: f, Value: sub})
		}
		return nil
	}

	v, ok, err := coerce(f, raw)
	if err != nil || !ok {
		return err
	}
	if f.Expand != nil {
		return b.expand(f, v)
	}
	// сначала исключение, потом инверсия
	if f.ExcludeOnFalse && !v.(bool) {
		b.spec.exclude = true
		v = true
	}
	if f.Invert {
		v = !v.(bool)
	}

	if len(f.Implies) > 0 {
		if on, isBool := v.(bool); (isBool && !on) || !derive {
			return nil
		}
		for _, imp := range f.Implies {
			var val any = imp.Value
			if val == model.PlaceholderToday {
				val = b.today
			}
			if err := b.add(b.def.Field(imp.Field), val, false); err != nil {
				return err
			}
		}
		return nil
	}

	b.spec.fields = append(b.spec.fields, Field{Name: f.Name, Def: f, Value: v})
	return nil
}

func (b *builder) nested(f *model.FilterField, def *model.FilterDef, raw any) (*Spec, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		if f.Shorthand == "" {
			return nil, invalidValue(f.Name, raw, "object")
		}
		m = map[string]any{f.Shorthand: raw}
	}
	sub, err := NewAt(def, m, nil, b.today)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Field = f.Name + "." + ve.Field
		}
		return nil, err
	}
	return sub, nil
}

// expand: "a,b" -> target__gte=a, target__lte=b; n -> today..today+n
func (b *builder) expand(f *model.FilterField, v any) error {
	var from, to time.Time
	switch f.Expand.Kind {
	case model.ExpandRange:
		s, _ := v.(string)
		lo, hi, found := strings.Cut(s, ",")
		if !found {
			return nil
		}
		var err1, err2 error
		from, err1 = time.Parse(dateLayout, strings.TrimSpace(lo))
		to, err2 = time.Parse(dateLayout, strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return nil
		}
	case model.ExpandWindow:
		n, ok := v.(int64)
		if !ok || n == 0 {
			return nil
		}
		from, to = b.today, b.today.AddDate(0, 0, int(n))
		if n < 0 {
			from, to = to, from
		}
	}
	if err := b.add(b.def.Field(f.Expand.Target+"__gte"), from, false); err != nil {
		return err
	}
	return b.add(b.def.Field(f.Expand.Target+"__lte"), to, false)
}

// couple: заполненное поле X принудительно выставляет компаньона Y в false
func (b *builder) couple() {
	for _, f := range b.def.Fields {
		companion, ok := b.def.Couplings[f.Name]
		if !ok {
			continue
		}
		if _, set := b.spec.Value(f.Name); !set {
			continue
		}
		forced := Field{Name: companion, Def: b.def.Field(companion), Value: false}
		kept := b.spec.fields[:0]
		replaced := false
		for _, fld := range b.spec.fields {
			if fld.Name == companion {
				if replaced {
					continue
				}
				fld, replaced = forced, true
			}
			kept = append(kept, fld)
		}
		if !replaced {
			kept = append(kept, forced)
		}
		b.spec.fields = kept
	}
}
