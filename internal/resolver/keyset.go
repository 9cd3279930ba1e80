// Package resolver federates a listing across the legacy and workflow stores.
package resolver

import (
	"context"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/filter"
	"FlowtrackAPI/internal/logger"
)

// NoMatchKey replaces an empty key list so that IN (...) matches nothing.
const NoMatchKey = "-1"

// KeySet is the outcome of evaluating a workflow spec.
type KeySet struct {
	Keys []string
	// Exclude: the consumer must take the complement of Keys.
	Exclude bool
	// Ordered: Keys follow the requested workflow ordering.
	Ordered bool
	// Restrict: Keys constrain the consumer. Ordering-only sets never do.
	Restrict bool
}

type KeySetResolver struct {
	Store db.Querier
}

// Resolve evaluates spec against the store, projected onto the entity key.
//
// Without orderingOnly it returns nil when spec is not filtering, otherwise
// the matching keys. With orderingOnly it returns nil when no ordering was
// requested, otherwise every key in the requested order.
func (r *KeySetResolver) Resolve(ctx context.Context, spec *filter.Spec, orderingOnly bool) (*KeySet, error) {
	if orderingOnly {
		if !spec.Ordered() {
			return nil, nil
		}
		return r.ordered(ctx, spec)
	}
	if !spec.IsFiltering() {
		return nil, nil
	}
	return r.constrained(ctx, spec)
}

func (r *KeySetResolver) constrained(ctx context.Context, spec *filter.Spec) (*KeySet, error) {
	entity := spec.Def().Entity()
	cc := filter.NewContext()
	sb := filter.Base(entity, cc).Columns(filter.BaseAlias + "." + entity.Key)

	sb, err := filter.CompileWhere(spec, sb, cc)
	if err != nil {
		return nil, err
	}
	if spec.Ordered() {
		if sb, err = filter.CompileOrdering(spec.Requested(), spec.Def(), sb, cc); err != nil {
			return nil, err
		}
	}
	keys, err := r.Store.QueryKeys(ctx, sb)
	if err != nil {
		return nil, err
	}
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		keys = []string{NoMatchKey}
	}

	ks := &KeySet{Keys: keys, Exclude: cc.Exclude(), Ordered: spec.Ordered(), Restrict: true}
	logger.Debug("keyset_resolved", map[string]any{
		"entity":  entity.Name,
		"keys":    len(keys),
		"exclude": ks.Exclude,
		"ordered": ks.Ordered,
	})
	return ks, nil
}

func (r *KeySetResolver) ordered(ctx context.Context, spec *filter.Spec) (*KeySet, error) {
	entity := spec.Def().Entity()
	cc := filter.NewContext()
	sb := filter.Base(entity, cc).Columns(filter.BaseAlias + "." + entity.Key)

	sb, err := filter.CompileOrdering(spec.Requested(), spec.Def(), sb, cc)
	if err != nil {
		return nil, err
	}
	keys, err := r.Store.QueryKeys(ctx, sb)
	if err != nil {
		return nil, err
	}
	keys = uniqueKeys(keys)

	logger.Debug("keyset_ordering_resolved", map[string]any{
		"entity": entity.Name,
		"keys":   len(keys),
	})
	return &KeySet{Keys: keys, Ordered: true}, nil
}

// uniqueKeys keeps the first occurrence of each key.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
