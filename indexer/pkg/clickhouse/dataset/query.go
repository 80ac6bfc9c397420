package dataset

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
)

// ColumnMetadata describes one result column.
type ColumnMetadata struct {
	Name             string
	DatabaseTypeName string
	ScanType         string
}

// QueryResult is a fully materialized result set.
type QueryResult struct {
	Columns     []string
	ColumnTypes []ColumnMetadata
	Rows        []map[string]any
	Count       int
}

// ScanQueryResults drains rows into maps keyed by column name.
func ScanQueryResults(rows driver.Rows) ([]string, []ColumnMetadata, []map[string]any, error) {
	columns := rows.Columns()
	columnTypes := rows.ColumnTypes()

	meta := make([]ColumnMetadata, len(columns))
	for i, ct := range columnTypes {
		meta[i] = ColumnMetadata{Name: ct.Name(), DatabaseTypeName: ct.DatabaseTypeName()}
		if ct.ScanType() != nil {
			meta[i].ScanType = ct.ScanType().String()
		}
	}

	var out []map[string]any
	for rows.Next() {
		ptrs := InitializeScanTargets(columnTypes)
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, dereferencePointersToMap(ptrs, columns))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return columns, meta, out, nil
}

// Query executes a raw SQL query and returns the results with column metadata.
//
// Example:
//
//	result, err := dataset.Query(ctx, conn, "SELECT * FROM trips WHERE vendor_id = ?", []any{2})
func Query(ctx context.Context, conn clickhouse.Connection, query string, args []any) (*QueryResult, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, meta, out, err := ScanQueryResults(rows)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Columns:     columns,
		ColumnTypes: meta,
		Rows:        out,
		Count:       len(out),
	}, nil
}

// QueryInto executes query and scans each row into a T.
func QueryInto[T any](ctx context.Context, conn clickhouse.Connection, query string, args ...any) ([]T, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns := rows.Columns()
	columnTypes := rows.ColumnTypes()
	var out []T
	for rows.Next() {
		ptrs := InitializeScanTargets(columnTypes)
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		v, err := scanIntoStruct[T](ptrs, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
