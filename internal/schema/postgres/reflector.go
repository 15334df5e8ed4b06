package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sqlcopilot/sqlcopilot/internal/schema"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

type Reflector struct {
	db *sql.DB
}

func NewReflector(db *sql.DB) *Reflector {
	return &Reflector{db: db}
}

func (r *Reflector) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (r *Reflector) Reflect(ctx context.Context, opts schema.Options) (schema.Schema, error) {
	query := `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("reflect columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tableOrder := make([]string, 0)
	columnsByTable := map[string][]schema.Column{}
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return schema.Schema{}, fmt.Errorf("scan column row: %w", err)
		}
		if !opts.Keep(tableName) {
			continue
		}
		if _, seen := columnsByTable[tableName]; !seen {
			tableOrder = append(tableOrder, tableName)
		}
		if len(columnsByTable[tableName]) >= opts.ColumnCap() {
			continue
		}
		columnsByTable[tableName] = append(columnsByTable[tableName], schema.Column{
			Name: columnName,
			Type: dataType,
		})
	}
	if err := rows.Err(); err != nil {
		return schema.Schema{}, fmt.Errorf("iterate column rows: %w", err)
	}

	tables := make([]schema.Table, 0, len(tableOrder))
	for _, tableName := range tableOrder {
		table := schema.Table{Name: tableName, Columns: columnsByTable[tableName]}
		if opts.SampleRows > 0 {
			// Sampling is best effort; a table we cannot read is still listed.
			if samples, err := r.sampleRows(ctx, tableName, opts.SampleRows); err == nil {
				table.SampleRows = samples
			}
		}
		tables = append(tables, table)
	}

	return schema.Schema{Dialect: "postgresql", Tables: tables}, nil
}

func (r *Reflector) sampleRows(ctx context.Context, tableName string, limit int) ([][]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(tableName), limit)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample table %q: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sample columns: %w", err)
	}

	samples := make([][]any, 0, limit)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}
		samples = append(samples, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample rows: %w", err)
	}
	return samples, nil
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
