package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/filter"
	"FlowtrackAPI/internal/logger"
	"FlowtrackAPI/internal/model"

	"github.com/Masterminds/squirrel"
)

const (
	DefaultLimit = 10
	MaxLimit     = 500
)

// Tokens accepts either "a,-b" or ["a", "-b"] in JSON.
type Tokens []string

func (t *Tokens) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Tokens{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("order_by: expected string or list of strings")
	}
	*t = list
	return nil
}

// ListRequest - тело POST /api/<listing>
type ListRequest struct {
	Listing  string         `json:"-"`
	Legacy   map[string]any `json:"legacy"`
	Workflow map[string]any `json:"workflow"`
	Ordering Tokens         `json:"order_by"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

type Page struct {
	Count   int64    `json:"count"`
	Results []db.Row `json:"results"`
}

type Options struct {
	// Since bounds legacy document dates from below (YYYY-MM-DD), empty disables it.
	Since     string
	DoneStage string
	Now       func() time.Time
}

// Engine runs federated listings. It holds no per-request state.
type Engine struct {
	legacy   db.Store
	workflow db.Store
	listings map[string]*Listing
	keys     *KeySetResolver
	since    string
	now      func() time.Time
}

func NewEngine(cat *model.Catalog, legacy, workflow db.Store, opts Options) (*Engine, error) {
	if opts.DoneStage == "" {
		opts.DoneStage = "Done"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	listings, err := Listings(cat, opts.DoneStage)
	if err != nil {
		return nil, err
	}
	return &Engine{
		legacy:   legacy,
		workflow: workflow,
		listings: listings,
		keys:     &KeySetResolver{Store: workflow},
		since:    opts.Since,
		now:      opts.Now,
	}, nil
}

// Listing returns the named listing or nil.
func (e *Engine) Listing(name string) *Listing { return e.listings[name] }

// List resolves workflow keys and their order, pages the legacy store with
// them and annotates the page with workflow aggregates.
func (e *Engine) List(ctx context.Context, req ListRequest) (*Page, error) {
	l, err := e.listing(req.Listing)
	if err != nil {
		return nil, err
	}
	now := e.now()
	ordering := []string(req.Ordering)

	wspec, err := filter.NewAt(l.Workflow, req.Workflow, ordering, now)
	if err != nil {
		return nil, err
	}
	lspec, err := filter.NewAt(l.Legacy, req.Legacy, ordering, now)
	if err != nil {
		return nil, err
	}

	ks, err := e.keys.Resolve(ctx, wspec, false)
	if err != nil {
		return nil, err
	}
	if ks == nil && wspec.Ordered() {
		if ks, err = e.keys.Resolve(ctx, wspec, true); err != nil {
			return nil, err
		}
	}

	entity := l.Legacy.Entity()
	keyCol := filter.BaseAlias + "." + entity.Key

	cc := filter.NewContext()
	sb := e.base(entity, cc)
	if sb, err = filter.CompileWhere(lspec, sb, cc); err != nil {
		return nil, err
	}
	if ks != nil && ks.Restrict {
		if ks.Exclude {
			sb = sb.Where(squirrel.NotEq{keyCol: ks.Keys})
		} else {
			sb = sb.Where(squirrel.Eq{keyCol: ks.Keys})
		}
	}
	countQ := sb.Column("COUNT(*)")

	var rank *Rank
	if ks != nil && ks.Ordered {
		first := filter.ParseToken(wspec.Requested()[0])
		rank = BuildRankExpression(keyCol, ks.Keys, first.Desc)
	}
	pageQ := filter.Project(entity, sb, cc)
	if pageQ, err = e.order(lspec, pageQ, cc, rank); err != nil {
		return nil, err
	}
	limit, offset := req.Limit, req.Offset
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	pageQ = pageQ.Limit(uint64(limit)).Offset(uint64(offset))

	page := &Page{Results: []db.Row{}}
	err = e.legacy.Tx(ctx, true, func(q db.Querier) error {
		var err error
		if page.Count, err = q.QueryCount(ctx, countQ); err != nil {
			return err
		}
		rows, err := q.QueryRows(ctx, pageQ)
		if err != nil {
			return err
		}
		if rows != nil {
			page.Results = rows
		}
		return nil
	})
	if err != nil {
		logger.ErrorCtx(ctx, "store_query_failed", map[string]any{"listing": l.Name, "error": err.Error()})
		return nil, err
	}

	if err := e.annotate(ctx, l, page.Results); err != nil {
		return nil, err
	}
	fields := map[string]any{
		"listing": l.Name,
		"count":   page.Count,
		"page":    len(page.Results),
		"ranked":  rank != nil,
	}
	if ks != nil {
		fields["keys"] = len(ks.Keys)
		fields["exclude"] = ks.Exclude
	}
	logger.InfoCtx(ctx, "listing_resolved", fields)
	return page, nil
}

// Get returns one legacy row by business key, annotated like a listing row.
func (e *Engine) Get(ctx context.Context, listing, key string) (db.Row, error) {
	l, err := e.listing(listing)
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", db.ErrNotFound)
	}
	entity := l.Legacy.Entity()
	cc := filter.NewContext()
	sb := e.base(entity, cc).Where(squirrel.Eq{filter.BaseAlias + "." + entity.Key: key})
	sb = filter.Project(entity, sb, cc).Limit(1)

	rows, err := e.legacy.QueryRows(ctx, sb)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", db.ErrNotFound, entity.Name, key)
	}
	if err := e.annotate(ctx, l, rows); err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (e *Engine) listing(name string) (*Listing, error) {
	l, ok := e.listings[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown listing %q", model.ErrConfig, name)
	}
	return l, nil
}

// base: Base плюс нижняя граница дат legacy-документов
func (e *Engine) base(entity *model.Entity, cc *filter.Context) squirrel.SelectBuilder {
	sb := filter.Base(entity, cc)
	if entity.Since == "" || e.since == "" {
		return sb
	}
	sb, ident := cc.Column(sb, entity, entity.Since)
	return sb.Where(squirrel.GtOrEq{ident: e.since})
}

// order: with a rank, requested legacy tokens come first and the rank follows;
// without requested tokens the rank leads and the legacy default breaks ties.
func (e *Engine) order(spec *filter.Spec, sb squirrel.SelectBuilder, cc *filter.Context, rank *Rank) (squirrel.SelectBuilder, error) {
	def := spec.Def()
	if rank == nil {
		return filter.CompileOrdering(spec.Ordering(), def, sb, cc)
	}
	if spec.Ordered() {
		sb, err := filter.CompileOrdering(spec.Requested(), def, sb, cc)
		if err != nil {
			return sb, err
		}
		return sb.OrderByClause(rank), nil
	}
	return filter.CompileOrdering(def.Ordering.Default, def, sb.OrderByClause(rank), cc)
}

func (e *Engine) annotate(ctx context.Context, l *Listing, rows []db.Row) error {
	if len(rows) == 0 {
		return nil
	}
	keyCol := l.Legacy.Entity().Key
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = db.KeyString(r[keyCol])
	}
	m := &Merger{Store: e.workflow, Legacy: e.legacy, Aggregates: l.Aggregates}
	_, err := m.Merge(ctx, rows, keys)
	return err
}
