// Package workflow writes item state to the workflow store.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/filter"
	"FlowtrackAPI/internal/logger"
	"FlowtrackAPI/internal/model"
	"FlowtrackAPI/internal/notify"

	"github.com/Masterminds/squirrel"
)

const (
	TopicItems  = "items"
	TopicOrders = "orders"
)

// ItemsPatch - тело PATCH /api/items. Nil fields are left unchanged;
// an empty production_date clears it.
type ItemsPatch struct {
	Keys           []string `json:"keys"`
	StageID        *int64   `json:"stage_id"`
	FlowID         *int64   `json:"flow_id"`
	Priority       *int64   `json:"priority"`
	ProductionDate *string  `json:"production_date"`
}

func (p ItemsPatch) empty() bool {
	return p.StageID == nil && p.FlowID == nil && p.Priority == nil && p.ProductionDate == nil
}

// Result lists the business keys a patch touched.
type Result struct {
	Items  []string `json:"items"`
	Orders []string `json:"orders"`
}

type Options struct {
	WorkingWeekend bool
}

type Service struct {
	legacy   db.Querier
	workflow db.Store
	sink     notify.Sink
	opts     Options

	lines    *model.Entity // legacy order lines
	orderCol string        // their order reference
}

// New binds the service to the order_item entity of the catalog.
func New(cat *model.Catalog, legacy db.Querier, workflow db.Store, sink notify.Sink, opts Options) (*Service, error) {
	lines, err := cat.Entity("order_item")
	if err != nil {
		return nil, err
	}
	rel := lines.GetRelation("invoice")
	if rel == nil || rel.Type != "belongs_to" {
		return nil, fmt.Errorf("%w: order_item needs a belongs_to invoice relation", model.ErrConfig)
	}
	if sink == nil {
		sink = notify.Noop{}
	}
	return &Service{
		legacy:   legacy,
		workflow: workflow,
		sink:     sink,
		opts:     opts,
		lines:    lines,
		orderCol: rel.FK,
	}, nil
}

// UpdateItems upserts the workflow items of the given legacy lines in one
// transaction, then notifies the sink. Notification failures are logged only.
func (s *Service) UpdateItems(ctx context.Context, patch ItemsPatch) (*Result, error) {
	keys := cleanKeys(patch.Keys)
	if len(keys) == 0 {
		return nil, &filter.ValidationError{Field: "keys", Message: "at least one key is required"}
	}
	if patch.empty() {
		return nil, &filter.ValidationError{Message: "nothing to update"}
	}
	date, err := s.productionDate(patch.ProductionDate)
	if err != nil {
		return nil, err
	}

	orders, err := s.orderOf(ctx, keys)
	if err != nil {
		return nil, err
	}

	res := &Result{Items: keys, Orders: distinct(keys, orders)}
	err = s.workflow.Tx(ctx, false, func(q db.Querier) error {
		cols, err := s.columns(ctx, q, patch, date)
		if err != nil {
			return err
		}

		so := squirrel.Insert("sales_order").Columns("origin_order").
			Suffix("ON CONFLICT (origin_order) DO NOTHING")
		for _, o := range res.Orders {
			so = so.Values(o)
		}
		if _, err := q.Exec(ctx, so); err != nil {
			return err
		}

		names := append([]string{"origin_item", "origin_order"}, cols.names...)
		ins := squirrel.Insert("item").Columns(names...)
		for _, k := range keys {
			ins = ins.Values(append([]any{k, orders[k]}, cols.values...)...)
		}
		sets := []string{"origin_order = EXCLUDED.origin_order"}
		for _, c := range cols.names {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
		ins = ins.Suffix("ON CONFLICT (origin_item) DO UPDATE SET " + strings.Join(sets, ", "))
		_, err = q.Exec(ctx, ins)
		return err
	})
	if err != nil {
		logger.ErrorCtx(ctx, "items_update_failed", map[string]any{"keys": len(keys), "error": err.Error()})
		return nil, err
	}

	logger.InfoCtx(ctx, "items_updated", map[string]any{"items": len(res.Items), "orders": len(res.Orders)})
	notify.PublishAll(ctx, s.sink, map[string][]string{
		TopicItems:  res.Items,
		TopicOrders: res.Orders,
	})
	return res, nil
}

type patchColumns struct {
	names  []string
	values []any
}

func (c *patchColumns) set(name string, v any) {
	c.names = append(c.names, name)
	c.values = append(c.values, v)
}

// columns: стадия задаёт поток; поток без стадии сбрасывает стадию
func (s *Service) columns(ctx context.Context, q db.Querier, patch ItemsPatch, date any) (*patchColumns, error) {
	cols := &patchColumns{}
	switch {
	case patch.StageID != nil:
		rows, err := q.QueryRows(ctx, squirrel.Select("flow_id").From("stage").Where(squirrel.Eq{"id": *patch.StageID}))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: stage %d", db.ErrNotFound, *patch.StageID)
		}
		cols.set("flow_id", rows[0]["flow_id"])
		cols.set("stage_id", *patch.StageID)
	case patch.FlowID != nil:
		cols.set("flow_id", *patch.FlowID)
		cols.set("stage_id", nil)
	}
	if patch.Priority != nil {
		cols.set("priority", *patch.Priority)
	}
	if patch.ProductionDate != nil {
		cols.set("production_date", date)
	}
	return cols, nil
}

func (s *Service) productionDate(raw *string) (any, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", strings.TrimSpace(*raw))
	if err != nil {
		return nil, &filter.ValidationError{Field: "production_date", Message: "expected date (YYYY-MM-DD)"}
	}
	if !s.opts.WorkingWeekend && (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
		return nil, &filter.ValidationError{Field: "production_date", Message: "production is not scheduled on weekends"}
	}
	return d.Format("2006-01-02"), nil
}

// orderOf maps each legacy line key to its order key.
func (s *Service) orderOf(ctx context.Context, keys []string) (map[string]string, error) {
	keyCol := filter.BaseAlias + "." + s.lines.Key
	q := squirrel.Select(keyCol, filter.BaseAlias+"."+s.orderCol).
		From(s.lines.Table + " AS " + filter.BaseAlias).
		Where(squirrel.Eq{keyCol: keys})
	rows, err := s.legacy.QueryRows(ctx, q)
	if err != nil {
		return nil, err
	}
	orders := make(map[string]string, len(rows))
	for _, r := range rows {
		orders[db.KeyString(r[s.lines.Key])] = db.KeyString(r[s.orderCol])
	}
	var missing []string
	for _, k := range keys {
		if _, ok := orders[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: order items %s", db.ErrNotFound, strings.Join(missing, ","))
	}
	return orders, nil
}

func cleanKeys(keys []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// distinct returns the order keys of keys, first occurrence first.
func distinct(keys []string, orders map[string]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keys {
		if o := orders[k]; !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}
