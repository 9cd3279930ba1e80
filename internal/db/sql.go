package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"FlowtrackAPI/internal/logger"

	"github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLStore is a database/sql backed store. The legacy ERP store runs on it
// through lib/pq; tests run it on sqlite and sqlmock.
type SQLStore struct {
	sqlQuerier
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens and pings a database/sql connection pool.
func OpenSQL(ctx context.Context, name, driver, dsn string, format squirrel.PlaceholderFormat) (*SQLStore, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", name, err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, unavailable(name, "ping", err)
	}
	return NewSQLStore(name, conn, format), nil
}

func NewSQLStore(name string, conn *sql.DB, format squirrel.PlaceholderFormat) *SQLStore {
	return &SQLStore{
		sqlQuerier: sqlQuerier{store: name, exec: conn, format: format},
		db:         conn,
	}
}

func (s *SQLStore) Name() string { return s.store }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Tx(ctx context.Context, readOnly bool, fn func(Querier) error) error {
	opts := &sql.TxOptions{ReadOnly: readOnly}
	if readOnly {
		opts.Isolation = sql.LevelRepeatableRead
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return unavailable(s.store, "begin", err)
	}
	if err := fn(sqlQuerier{store: s.store, exec: tx, format: s.format}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(s.store, "commit", err)
	}
	return nil
}

type sqlQuerier struct {
	store  string
	exec   executor
	format squirrel.PlaceholderFormat
}

func (q sqlQuerier) render(s squirrel.Sqlizer) (string, []any, error) {
	query, args, err := s.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	if query, err = q.format.ReplacePlaceholders(query); err != nil {
		return "", nil, fmt.Errorf("placeholders: %w", err)
	}
	logger.Debug("sql", map[string]any{"store": q.store, "sql": query, "args": args})
	return query, args, nil
}

func (q sqlQuerier) QueryRows(ctx context.Context, s squirrel.Sqlizer) ([]Row, error) {
	query, args, err := q.render(s)
	if err != nil {
		return nil, err
	}
	rows, err := q.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(q.store, "query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, unavailable(q.store, "columns", err)
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, unavailable(q.store, "scan", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(q.store, "rows", err)
	}
	return out, nil
}

func (q sqlQuerier) QueryKeys(ctx context.Context, s squirrel.Sqlizer) ([]string, error) {
	query, args, err := q.render(s)
	if err != nil {
		return nil, err
	}
	rows, err := q.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(q.store, "query", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable(q.store, "scan", err)
		}
		if v == nil {
			continue
		}
		keys = append(keys, KeyString(normalize(v)))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(q.store, "rows", err)
	}
	return keys, nil
}

func (q sqlQuerier) QueryCount(ctx context.Context, s squirrel.Sqlizer) (int64, error) {
	query, args, err := q.render(s)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.exec.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, unavailable(q.store, "count", err)
	}
	return n, nil
}

func (q sqlQuerier) Exec(ctx context.Context, s squirrel.Sqlizer) (int64, error) {
	query, args, err := q.render(s)
	if err != nil {
		return 0, err
	}
	res, err := q.exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable(q.store, "exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// normalize: драйверы database/sql отдают текст как []byte
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// KeyString renders a business key the same way for every driver.
func KeyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return fmt.Sprintf("%d", x)
	case int32:
		return fmt.Sprintf("%d", x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
	}
	return fmt.Sprint(v)
}
