package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/statquery/statquery/internal/config"
)

// Result holds the rows produced by executing a query. Row order matches scan
// order and Columns preserves the SELECT order, since map iteration alone
// cannot.
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Store is the database handle the query workflow depends on. Implementations
// must hold a read-only connection so the database itself rejects writes
// independently of the policy gate.
type Store interface {
	// DescribeSchema renders a textual description of tables, columns, and
	// types for prompt grounding.
	DescribeSchema(ctx context.Context) (string, error)

	// Explain asks the engine to plan (not execute) the statement. A nil
	// return means the statement is well-formed against the current schema.
	Explain(ctx context.Context, sqlText string) error

	// Execute runs the statement and returns its rows.
	Execute(ctx context.Context, sqlText string) (*Result, error)

	// Dialect returns the SQL dialect name for prompt construction.
	Dialect() string

	Close() error
}

// Open creates a Store for the configured driver.
func Open(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite3":
		return newSQLiteStore(cfg)
	case "duckdb":
		return newDuckDBStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// configurePool applies the shared connection-pool settings.
func configurePool(db *sql.DB, cfg config.DatabaseConfig) {
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())
}

// sqlStore implements the dialect-independent parts of Store on database/sql.
type sqlStore struct {
	db *sql.DB
}

func (s *sqlStore) Explain(ctx context.Context, sqlText string) error {
	rows, err := s.db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	// The plan rows themselves are discarded; only well-formedness matters.
	for rows.Next() {
	}

	return rows.Err()
}

func (s *sqlStore) Execute(ctx context.Context, sqlText string) (*Result, error) {
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &Result{
		Columns: columns,
		Rows:    []map[string]any{},
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))

	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = normalizeValue(values[i])
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)

	return result, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// normalizeValue converts driver-specific scan types into JSON-friendly values.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return v
	}
}

// tableInfo and columnInfo carry introspection results into the shared
// description renderer.
type tableInfo struct {
	name    string
	columns []columnInfo
}

type columnInfo struct {
	name       string
	dataType   string
	primaryKey bool
}

// renderSchemaDescription produces the stable textual schema block embedded in
// generation prompts.
func renderSchemaDescription(tables []tableInfo) string {
	var sb strings.Builder

	for _, table := range tables {
		sb.WriteString(fmt.Sprintf("Table '%s':\n", table.name))

		for _, col := range table.columns {
			pk := ""
			if col.primaryKey {
				pk = " (Primary Key)"
			}

			sb.WriteString(fmt.Sprintf("  - %s: %s%s\n", col.name, col.dataType, pk))
		}

		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}
