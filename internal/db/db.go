// Package db holds the query-execution ports for both stores.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Querier runs compiled queries. Builders always render "?" placeholders;
// each store rewrites them to its own format.
type Querier interface {
	QueryRows(ctx context.Context, q squirrel.Sqlizer) ([]Row, error)
	// QueryKeys returns the first column of every row as a string, skipping NULLs.
	QueryKeys(ctx context.Context, q squirrel.Sqlizer) ([]string, error)
	QueryCount(ctx context.Context, q squirrel.Sqlizer) (int64, error)
	Exec(ctx context.Context, q squirrel.Sqlizer) (int64, error)
}

// Store is a Querier that can also run a function inside one transaction.
// A read-only transaction is a repeatable-read snapshot.
type Store interface {
	Querier
	Name() string
	Tx(ctx context.Context, readOnly bool, fn func(Querier) error) error
	Close() error
}

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("store unavailable")
)

// StoreError wraps a driver failure. It matches both ErrUnavailable and the cause.
type StoreError struct {
	Store string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

func unavailable(store, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Store: store, Op: op, Err: err}
}
