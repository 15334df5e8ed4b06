package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlcopilot/sqlcopilot/internal/engine"
	"github.com/sqlcopilot/sqlcopilot/internal/schema"
)

// Engine owns an in-memory DuckDB database holding tables created from
// uploaded CSV files. One engine instance backs the whole demo session.
type Engine struct {
	mu sync.Mutex
	db *sql.DB
}

func NewEngine() (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping duckdb: %w", err)
	}
	return nil
}

// LoadCSV creates (or replaces) a table from raw CSV bytes using DuckDB's
// native CSV ingestion. It returns the loaded row count.
func (e *Engine) LoadCSV(ctx context.Context, tableName string, data []byte) (int64, error) {
	name, err := SanitizeTableName(tableName)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("csv data is empty")
	}

	workDir, err := os.MkdirTemp("", "sqlcopilot-csv-")
	if err != nil {
		return 0, fmt.Errorf("create csv temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, name+".csv")
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return 0, fmt.Errorf("write local csv file: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	createSQL := fmt.Sprintf(
		`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s)`,
		quoteIdent(name), quoteString(localPath),
	)
	if _, err := e.db.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("load csv into table %q: %w", name, err)
	}

	var count int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(name))
	if err := e.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in table %q: %w", name, err)
	}
	return count, nil
}

func (e *Engine) ListTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'main'
ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return tables, nil
}

func (e *Engine) Reflect(ctx context.Context, opts schema.Options) (schema.Schema, error) {
	tableNames, err := e.ListTables(ctx)
	if err != nil {
		return schema.Schema{}, err
	}

	tables := make([]schema.Table, 0, len(tableNames))
	for _, tableName := range tableNames {
		if !opts.Keep(tableName) {
			continue
		}
		columns, err := e.tableColumns(ctx, tableName, opts.ColumnCap())
		if err != nil {
			// Mirror of reflection elsewhere: an unreadable table is skipped.
			continue
		}
		table := schema.Table{Name: tableName, Columns: columns}
		if opts.SampleRows > 0 {
			if samples, err := e.sampleRows(ctx, tableName, opts.SampleRows); err == nil {
				table.SampleRows = samples
			}
		}
		tables = append(tables, table)
	}

	return schema.Schema{Dialect: "duckdb", Tables: tables}, nil
}

func (e *Engine) Execute(ctx context.Context, request engine.Request) (engine.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return engine.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return engine.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return engine.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return engine.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return engine.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return engine.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (e *Engine) tableColumns(ctx context.Context, tableName string, maxCols int) ([]schema.Column, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteString(tableName)))
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]schema.Column, 0)
	for rows.Next() {
		var (
			cid        int
			name       string
			columnType string
			notNull    bool
			defaultVal any
			pk         bool
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan table info row: %w", err)
		}
		if len(columns) >= maxCols {
			continue
		}
		columns = append(columns, schema.Column{Name: name, Type: columnType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info rows: %w", err)
	}
	return columns, nil
}

func (e *Engine) sampleRows(ctx context.Context, tableName string, limit int) ([][]any, error) {
	result, err := e.Execute(ctx, engine.Request{
		SQL:      fmt.Sprintf("SELECT * FROM %s", quoteIdent(tableName)),
		RowLimit: limit,
	})
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}

// SanitizeTableName normalizes an uploaded file name into a DuckDB
// identifier: dashes and spaces become underscores, anything else
// non-alphanumeric is dropped.
func SanitizeTableName(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimSuffix(trimmed, filepath.Ext(trimmed))

	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		return "", fmt.Errorf("table name %q has no usable characters", value)
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return strings.ToLower(name), nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
