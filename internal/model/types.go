package model

// StoreKind указывает, в каком хранилище живёт сущность
type StoreKind string

const (
	StoreLegacy   StoreKind = "legacy"   // внешняя ERP, только чтение
	StoreWorkflow StoreKind = "workflow" // собственная база приложения
)

// Entity описывает сущность каталога (один YAML-файл)
type Entity struct {
	Name      string                `yaml:"-"` // logical name = file name
	Store     StoreKind             `yaml:"store"`
	Table     string                `yaml:"table"`
	Key       string                `yaml:"key"`   // business key column, default "id"
	Since     string                `yaml:"since"` // date column bounded below by LEGACY_SINCE
	Scope     []string              `yaml:"scope"` // raw SQL conditions always applied
	Joins     []string              `yaml:"joins"` // relations always joined
	Columns   []Column              `yaml:"columns"`
	Relations map[string]*Relation  `yaml:"relations"`
	Filters   map[string]*FilterDef `yaml:"filters"`
}

// Column - одна колонка проекции для выдачи списков
type Column struct {
	Source string `yaml:"source"` // "col" or "relation.col"
	Alias  string `yaml:"alias"`
	Expr   string `yaml:"expr"` // raw SQL expression, requires alias
}

// Relation описывает связь между сущностями
type Relation struct {
	Type   string `yaml:"type"`   // belongs_to, has_one, has_many
	Entity string `yaml:"entity"` // логическое имя связанной сущности
	FK     string `yaml:"fk"`
	PK     string `yaml:"pk"`   // default "id"
	Join   string `yaml:"join"` // left (default) or inner

	ref *Entity
}

// Target returns the linked entity.
func (r *Relation) Target() *Entity { return r.ref }

// ToMany reports whether joining the relation can multiply parent rows.
func (r *Relation) ToMany() bool { return r.Type == "has_many" }

// FilterDef - декларативное описание фильтра, привязанного к сущности
type FilterDef struct {
	Name      string            `yaml:"-"`
	Fields    []*FilterField    `yaml:"fields"`
	Search    *SearchDef        `yaml:"search"`
	Couplings map[string]string `yaml:"couplings"` // X non-empty => Y forced false
	Ordering  OrderingDef       `yaml:"ordering"`

	entity *Entity
	byName map[string]*FilterField
}

// Entity returns the entity the filter is bound to.
func (d *FilterDef) Entity() *Entity { return d.entity }

// Field returns the declared field by its request name.
func (d *FilterDef) Field(name string) *FilterField { return d.byName[name] }

// SearchName returns the reserved request name for search, or "".
func (d *FilterDef) SearchName() string {
	if d.Search == nil {
		return ""
	}
	return d.Search.Name
}

type SearchDef struct {
	Name   string        `yaml:"name"`
	Fields []SearchField `yaml:"fields"`
}

type SearchField struct {
	Relation string `yaml:"relation"`
	Column   string `yaml:"column"`
}

// OrderingDef - allow-list, порядок по умолчанию и переименования для ORDER BY
type OrderingDef struct {
	Fields  []string          `yaml:"fields"`
	Default []string          `yaml:"default"`
	Columns map[string]string `yaml:"columns"` // field -> "col" or "relation.col"
}

// Allowed reports whether field may be sorted on.
func (o OrderingDef) Allowed(field string) bool {
	for _, f := range o.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// FieldType - тип значения поля фильтра
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeFloat   FieldType = "float"
	TypeBool    FieldType = "bool"
	TypeDate    FieldType = "date"
	TypeStrings FieldType = "strings"
)

// FilterField - одно поле фильтра
type FilterField struct {
	Name           string    `yaml:"name"`
	Column         string    `yaml:"column"` // storage field, may carry "__op"
	Type           FieldType `yaml:"type"`
	Relation       string    `yaml:"relation"`
	Filter         string    `yaml:"filter"`    // nested filter defined on the related entity
	Shorthand      string    `yaml:"shorthand"` // scalar value fills this nested field
	Invert         bool      `yaml:"invert"`
	ExcludeOnFalse bool      `yaml:"exclude_on_false"`
	Implies        []Implied `yaml:"implies"`
	Expand         *Expand   `yaml:"expand"`

	// runtime, заполняется линковщиком
	Op      Op     `yaml:"-"`
	Storage string `yaml:"-"`
	nested  *FilterDef
}

// Nested returns the nested filter definition, if any.
func (f *FilterField) Nested() *FilterDef { return f.nested }

// Virtual fields only derive other fields and never produce a predicate of their own.
func (f *FilterField) Virtual() bool { return len(f.Implies) > 0 || f.Expand != nil }

// Implied - производное поле, добавляемое когда исходное поле истинно
type Implied struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"` // "$today" resolves to the request date
}

type Expand struct {
	Kind   string `yaml:"kind"` // range | window
	Target string `yaml:"target"`
}

const (
	ExpandRange  = "range"
	ExpandWindow = "window"

	PlaceholderToday = "$today"
)
