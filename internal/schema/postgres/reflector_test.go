package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlcopilot/sqlcopilot/internal/schema"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

const columnsQuery = `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`

func TestReflectGroupsColumnsByTable(t *testing.T) {
	db, mock := newSQLMock(t)
	reflector := NewReflector(db)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("riders", "rider_id", "bigint").
			AddRow("riders", "raised", "numeric").
			AddRow("teams", "team_id", "bigint").
			AddRow("teams", "name", "text"))

	got, err := reflector.Reflect(context.Background(), schema.Options{})
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if got.Dialect != "postgresql" {
		t.Fatalf("Dialect = %q", got.Dialect)
	}
	if len(got.Tables) != 2 {
		t.Fatalf("tables = %d", len(got.Tables))
	}
	if got.Tables[0].Name != "riders" || len(got.Tables[0].Columns) != 2 {
		t.Fatalf("riders = %+v", got.Tables[0])
	}
	if got.Tables[0].Columns[1].Name != "raised" || got.Tables[0].Columns[1].Type != "numeric" {
		t.Fatalf("riders columns = %+v", got.Tables[0].Columns)
	}
	assertSQLMock(t, mock)
}

func TestReflectHonorsAllowlistAndColumnCap(t *testing.T) {
	db, mock := newSQLMock(t)
	reflector := NewReflector(db)

	rows := sqlmock.NewRows([]string{"table_name", "column_name", "data_type"})
	for i := 0; i < 5; i++ {
		rows.AddRow("riders", fmt.Sprintf("col_%d", i), "text")
	}
	rows.AddRow("audit_log", "entry", "text")
	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).WillReturnRows(rows)

	got, err := reflector.Reflect(context.Background(), schema.Options{
		AllowTables:        []string{"riders"},
		MaxColumnsPerTable: 3,
	})
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(got.Tables) != 1 {
		t.Fatalf("tables = %+v", got.Tables)
	}
	if len(got.Tables[0].Columns) != 3 {
		t.Fatalf("columns = %d, want capped at 3", len(got.Tables[0].Columns))
	}
	assertSQLMock(t, mock)
}

func TestReflectSamplesRowsBestEffort(t *testing.T) {
	db, mock := newSQLMock(t)
	reflector := NewReflector(db)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("riders", "rider_id", "bigint"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "riders" LIMIT 2`)).
		WillReturnRows(sqlmock.NewRows([]string{"rider_id"}).AddRow(int64(1)).AddRow(int64(2)))

	got, err := reflector.Reflect(context.Background(), schema.Options{SampleRows: 2})
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(got.Tables[0].SampleRows) != 2 {
		t.Fatalf("sample rows = %+v", got.Tables[0].SampleRows)
	}
	assertSQLMock(t, mock)
}

func TestReflectToleratesSampleFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	reflector := NewReflector(db)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("riders", "rider_id", "bigint"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "riders" LIMIT 3`)).
		WillReturnError(fmt.Errorf("permission denied"))

	got, err := reflector.Reflect(context.Background(), schema.Options{SampleRows: 3})
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(got.Tables) != 1 || got.Tables[0].SampleRows != nil {
		t.Fatalf("tables = %+v", got.Tables)
	}
	assertSQLMock(t, mock)
}
