package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/filter"
	"FlowtrackAPI/internal/model"

	"github.com/Masterminds/squirrel"
)

const (
	ListingItems  = "items"
	ListingOrders = "orders"
)

// Listing pairs a legacy filter with the workflow filter federated onto it.
// Legacy rows and workflow rows share the business key: the legacy entity
// key on one side, the workflow entity key on the other.
type Listing struct {
	Name       string
	Legacy     *model.FilterDef
	Workflow   *model.FilterDef
	Aggregates []Aggregate
}

// Listings builds the configured listings against the catalog.
func Listings(cat *model.Catalog, doneStage string) (map[string]*Listing, error) {
	items, err := newListing(cat, ListingItems, "order_item", "item")
	if err != nil {
		return nil, err
	}
	items.Aggregates = itemAggregates(doneStage)

	orders, err := newListing(cat, ListingOrders, "order", "sales_order")
	if err != nil {
		return nil, err
	}
	fk, err := parentKey(items.Legacy.Entity(), orders.Legacy.Entity())
	if err != nil {
		return nil, err
	}
	orders.Aggregates = orderAggregates(&orderLines{entity: items.Legacy.Entity(), fk: fk, doneStage: doneStage})

	return map[string]*Listing{items.Name: items, orders.Name: orders}, nil
}

func newListing(cat *model.Catalog, name, legacy, workflow string) (*Listing, error) {
	l := &Listing{Name: name}
	var err error
	if l.Legacy, err = cat.Filter(legacy, "list"); err != nil {
		return nil, err
	}
	if l.Workflow, err = cat.Filter(workflow, "list"); err != nil {
		return nil, err
	}
	if s := l.Legacy.Entity().Store; s != model.StoreLegacy {
		return nil, fmt.Errorf("%w: listing %s: %s lives in %s store", model.ErrConfig, name, legacy, s)
	}
	if s := l.Workflow.Entity().Store; s != model.StoreWorkflow {
		return nil, fmt.Errorf("%w: listing %s: %s lives in %s store", model.ErrConfig, name, workflow, s)
	}
	if !projectsKey(l.Legacy.Entity()) {
		return nil, fmt.Errorf("%w: listing %s: %s does not project its key %s", model.ErrConfig, name, legacy, l.Legacy.Entity().Key)
	}
	return l, nil
}

// parentKey returns the column of child that refers to parent's key.
func parentKey(child, parent *model.Entity) (string, error) {
	names := make([]string, 0, len(child.Relations))
	for name := range child.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rel := child.Relations[name]
		if rel.Type == "belongs_to" && rel.Target() == parent {
			return rel.FK, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no belongs_to relation to %s", model.ErrConfig, child.Name, parent.Name)
}

func projectsKey(e *model.Entity) bool {
	if len(e.Columns) == 0 {
		return true
	}
	for _, c := range e.Columns {
		if c.Alias == e.Key || (c.Alias == "" && c.Source == e.Key) {
			return true
		}
	}
	return false
}

// строки счетов: готовность, снимок item и число комментариев
func itemAggregates(doneStage string) []Aggregate {
	return []Aggregate{
		{
			Name: "completion",
			Query: func(keys []string) squirrel.SelectBuilder {
				return squirrel.Select("i.origin_item AS "+AggKey).
					Column("MIN(CASE WHEN i.production_date IS NOT NULL AND s.name = ? THEN 1 ELSE 0 END) AS completed", doneStage).
					From("item AS i").
					LeftJoin("stage AS s ON s.id = i.stage_id").
					Where(squirrel.Eq{"i.origin_item": keys}).
					GroupBy("i.origin_item")
			},
			Attach: func(row, agg db.Row) {
				row["completed"] = agg != nil && toInt64(agg["completed"]) == 1
			},
		},
		{
			Name:  "item",
			Query: itemSnapshot,
			Attach: func(row, agg db.Row) {
				if agg == nil {
					row["item"] = nil
					return
				}
				row["item"] = snapshot(agg)
			},
		},
		{
			Name: "comments",
			Query: func(keys []string) squirrel.SelectBuilder {
				return squirrel.Select("i.origin_item AS "+AggKey, "COUNT(c.id) AS comments").
					From("item AS i").
					Join("comment AS c ON c.item_id = i.id").
					Where(squirrel.Eq{"i.origin_item": keys}).
					GroupBy("i.origin_item")
			},
			Attach: attachComments,
		},
	}
}

func itemSnapshot(keys []string) squirrel.SelectBuilder {
	return squirrel.Select(
		"i.origin_item AS "+AggKey,
		"i.priority", "i.production_date",
		"i.stage_id", "s.name AS stage",
		"i.flow_id", "f.name AS flow",
	).
		From("item AS i").
		LeftJoin("stage AS s ON s.id = i.stage_id").
		LeftJoin("flow AS f ON f.id = i.flow_id").
		Where(squirrel.Eq{"i.origin_item": keys})
}

// счета: строки в scope строк счетов, снимок sales_order, комментарии
func orderAggregates(lines *orderLines) []Aggregate {
	return []Aggregate{
		{
			Name:  "details",
			Fetch: lines.fetch,
			Attach: func(row, agg db.Row) {
				if agg == nil {
					row["details"] = []map[string]any{}
					row["count_items"], row["done_items"] = int64(0), int64(0)
					row["completed"] = false
					row["start_date"], row["end_date"] = nil, nil
					return
				}
				for k, v := range agg {
					row[k] = v
				}
			},
		},
		{
			Name: "sales_order",
			Query: func(keys []string) squirrel.SelectBuilder {
				return squirrel.Select("o.origin_order AS "+AggKey, "o.priority", "o.production_date").
					From("sales_order AS o").
					Where(squirrel.Eq{"o.origin_order": keys})
			},
			Attach: func(row, agg db.Row) {
				if agg == nil {
					row["sales_order"] = nil
					return
				}
				row["sales_order"] = snapshot(agg)
			},
		},
		{
			Name: "comments",
			Query: func(keys []string) squirrel.SelectBuilder {
				return squirrel.Select("i.origin_order AS "+AggKey, "COUNT(c.id) AS comments").
					From("item AS i").
					Join("comment AS c ON c.item_id = i.id").
					Where(squirrel.Eq{"i.origin_order": keys}).
					GroupBy("i.origin_order")
			},
			Attach: attachComments,
		},
	}
}

// orderLines reads the lines of each order through the order_item scope,
// so an order counts exactly the lines the item listing shows.
type orderLines struct {
	entity    *model.Entity
	fk        string
	doneStage string
}

func (o *orderLines) fetch(ctx context.Context, m *Merger, keys []string) (map[string]db.Row, error) {
	cc := filter.NewContext()
	fk := filter.BaseAlias + "." + o.fk
	sb := filter.Project(o.entity, filter.Base(o.entity, cc), cc).
		Column(fk + " AS " + AggKey).
		Where(squirrel.Eq{fk: keys}).
		OrderBy(filter.BaseAlias + "." + o.entity.Key)
	lines, err := m.Legacy.QueryRows(ctx, sb)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return map[string]db.Row{}, nil
	}

	lineKeys := make([]string, len(lines))
	for i, l := range lines {
		lineKeys[i] = db.KeyString(l[o.entity.Key])
	}
	items, err := m.Store.QueryRows(ctx, itemSnapshot(uniqueKeys(append([]string(nil), lineKeys...))).
		Column("CASE WHEN i.production_date IS NOT NULL AND s.name = ? THEN 1 ELSE 0 END AS completed", o.doneStage))
	if err != nil {
		return nil, err
	}
	byItem, err := byAggKey("details", items)
	if err != nil {
		return nil, err
	}

	out := make(map[string]db.Row)
	for i, l := range lines {
		order := db.KeyString(l[AggKey])
		agg, ok := out[order]
		if !ok {
			agg = db.Row{
				"details": []map[string]any{}, "count_items": int64(0), "done_items": int64(0),
				"completed": false, "start_date": nil, "end_date": nil,
			}
			out[order] = agg
		}
		detail := snapshot(l)
		detail["item"], detail["completed"] = nil, false
		if it := byItem[lineKeys[i]]; it != nil {
			done := toInt64(it["completed"]) == 1
			snap := snapshot(it)
			delete(snap, "completed")
			detail["item"], detail["completed"] = snap, done
			if done {
				agg["done_items"] = agg["done_items"].(int64) + 1
			}
			if d := it["production_date"]; d != nil {
				if agg["start_date"] == nil || dateBefore(d, agg["start_date"]) {
					agg["start_date"] = d
				}
				if agg["end_date"] == nil || dateBefore(agg["end_date"], d) {
					agg["end_date"] = d
				}
			}
		}
		agg["details"] = append(agg["details"].([]map[string]any), detail)
		agg["count_items"] = agg["count_items"].(int64) + 1
	}
	for _, agg := range out {
		done := agg["done_items"].(int64)
		agg["completed"] = done > 0 && done == agg["count_items"].(int64)
	}
	return out, nil
}

// dateBefore сравнивает time.Time по времени, остальное как строки ISO
func dateBefore(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if okA && okB {
		return ta.Before(tb)
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func attachComments(row, agg db.Row) {
	if agg == nil {
		row["comments"] = int64(0)
		return
	}
	row["comments"] = toInt64(agg["comments"])
}

// snapshot copies an aggregate row without the key column.
func snapshot(agg db.Row) map[string]any {
	out := make(map[string]any, len(agg))
	for k, v := range agg {
		if k != AggKey {
			out[k] = v
		}
	}
	return out
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	}
	return 0
}
