package storage

import (
	"context"
	"fmt"
	"os"

	"database/sql"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/statquery/statquery/internal/config"
)

// duckdbStore serves DuckDB database files, opened in read-only access mode as
// the infrastructure-level safeguard.
type duckdbStore struct {
	sqlStore
	path string
}

func newDuckDBStore(cfg config.DatabaseConfig) (*duckdbStore, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("database file not found at %s: %w", cfg.Path, err)
	}

	db, err := sql.Open("duckdb", cfg.Path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configurePool(db, cfg)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &duckdbStore{
		sqlStore: sqlStore{db: db},
		path:     cfg.Path,
	}, nil
}

func (s *duckdbStore) Dialect() string {
	return "DuckDB"
}

// DescribeSchema reads information_schema.columns. DuckDB does not expose
// primary keys there, so the description omits the key marker.
func (s *duckdbStore) DescribeSchema(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, column_name, data_type
		 FROM information_schema.columns
		 WHERE table_schema = 'main'
		 ORDER BY table_name, ordinal_position`)
	if err != nil {
		return "", fmt.Errorf("failed to inspect schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		tables  []tableInfo
		current *tableInfo
	)

	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return "", fmt.Errorf("failed to scan column info: %w", err)
		}

		if current == nil || current.name != tableName {
			tables = append(tables, tableInfo{name: tableName})
			current = &tables[len(tables)-1]
		}

		current.columns = append(current.columns, columnInfo{
			name:     columnName,
			dataType: dataType,
		})
	}

	if err := rows.Err(); err != nil {
		return "", err
	}

	return renderSchemaDescription(tables), nil
}
