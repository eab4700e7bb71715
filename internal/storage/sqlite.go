package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/statquery/statquery/internal/config"
)

// sqliteStore serves the SQLite file format the sports dataset ships in. The
// connection string pins mode=ro and query_only so the engine itself rejects
// any write, independent of the workflow's policy gate.
type sqliteStore struct {
	sqlStore
	path string
}

func newSQLiteStore(cfg config.DatabaseConfig) (*sqliteStore, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("database file not found at %s: %w", cfg.Path, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true", cfg.Path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configurePool(db, cfg)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &sqliteStore{
		sqlStore: sqlStore{db: db},
		path:     cfg.Path,
	}, nil
}

func (s *sqliteStore) Dialect() string {
	return "SQLite"
}

// DescribeSchema walks sqlite_master and PRAGMA table_info to build the
// schema text used for prompt grounding.
func (s *sqliteStore) DescribeSchema(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return "", fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("failed to scan table name: %w", err)
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return "", err
	}

	tables := make([]tableInfo, 0, len(names))

	for _, name := range names {
		columns, err := s.tableColumns(ctx, name)
		if err != nil {
			return "", err
		}

		tables = append(tables, tableInfo{name: name, columns: columns})
	}

	return renderSchemaDescription(tables), nil
}

func (s *sqliteStore) tableColumns(ctx context.Context, table string) ([]columnInfo, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []columnInfo

	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			defaultValue     sql.NullString
		)

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info for %s: %w", table, err)
		}

		columns = append(columns, columnInfo{
			name:       name,
			dataType:   dataType,
			primaryKey: pk > 0,
		})
	}

	return columns, rows.Err()
}
