package resolver

import (
	"context"
	"fmt"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/logger"
	"FlowtrackAPI/internal/model"

	"github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"
)

// AggKey is the column every aggregate query must return the business key in.
const AggKey = "agg_key"

// Aggregate computes one per-key value in the workflow store.
// Query must return at most one row per key (aggregate before attaching,
// never fan the rows out). Attach receives nil when the key has no row and
// must then write the documented default.
//
// Fetch, when set, replaces Query for aggregates that read both stores.
type Aggregate struct {
	Name   string
	Query  func(keys []string) squirrel.SelectBuilder
	Fetch  func(ctx context.Context, m *Merger, keys []string) (map[string]db.Row, error)
	Attach func(row db.Row, agg db.Row)
}

type Merger struct {
	Store      db.Querier // workflow
	Legacy     db.Querier
	Aggregates []Aggregate
}

// Merge annotates rows in place. keys[i] is the business key of rows[i].
// Aggregate queries run concurrently, one goroutine per aggregate.
func (m *Merger) Merge(ctx context.Context, rows []db.Row, keys []string) ([]db.Row, error) {
	if len(rows) != len(keys) {
		return nil, fmt.Errorf("%w: %d rows but %d keys", model.ErrConfig, len(rows), len(keys))
	}
	if len(rows) == 0 || len(m.Aggregates) == 0 {
		return rows, nil
	}
	scope := uniqueKeys(append([]string(nil), keys...))

	results := make([]map[string]db.Row, len(m.Aggregates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(m.Aggregates))
	for i, agg := range m.Aggregates {
		g.Go(func() error {
			byKey, err := m.fetch(gctx, agg, scope)
			if err != nil {
				return err
			}
			results[i] = byKey
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, agg := range m.Aggregates {
		for j, row := range rows {
			agg.Attach(row, results[i][keys[j]])
		}
	}
	return rows, nil
}

func (m *Merger) fetch(ctx context.Context, agg Aggregate, keys []string) (map[string]db.Row, error) {
	if agg.Fetch != nil {
		byKey, err := agg.Fetch(ctx, m, keys)
		if err != nil {
			logger.Error("aggregate_failed", map[string]any{"aggregate": agg.Name, "error": err.Error()})
			return nil, fmt.Errorf("aggregate %s: %w", agg.Name, err)
		}
		return byKey, nil
	}
	rows, err := m.Store.QueryRows(ctx, agg.Query(keys))
	if err != nil {
		logger.Error("aggregate_failed", map[string]any{"aggregate": agg.Name, "error": err.Error()})
		return nil, fmt.Errorf("aggregate %s: %w", agg.Name, err)
	}
	return byAggKey(agg.Name, rows)
}

// byAggKey indexes rows by AggKey, at most one row per key.
func byAggKey(name string, rows []db.Row) (map[string]db.Row, error) {
	byKey := make(map[string]db.Row, len(rows))
	for _, r := range rows {
		raw, ok := r[AggKey]
		if !ok {
			return nil, fmt.Errorf("%w: aggregate %s returns no %s column", model.ErrConfig, name, AggKey)
		}
		k := db.KeyString(raw)
		if _, dup := byKey[k]; dup {
			return nil, fmt.Errorf("%w: aggregate %s returns several rows for key %s", model.ErrConfig, name, k)
		}
		byKey[k] = r
	}
	return byKey, nil
}
