package export

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlcopilot/sqlcopilot/internal/engine"
)

func TestEncodeResultToParquetRoundTrip(t *testing.T) {
	data, err := EncodeResultToParquet(engine.Result{
		Columns: []string{"team", "total"},
		Rows: [][]any{
			{"alpha", 20000.5},
			{"beta", nil},
		},
	})
	if err != nil {
		t.Fatalf("EncodeResultToParquet() error = %v", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("NumRows() = %d", file.NumRows())
	}
	fields := file.Schema().Fields()
	if len(fields) != 2 {
		t.Fatalf("fields = %d", len(fields))
	}
}

func TestEncodeResultToParquetRequiresColumns(t *testing.T) {
	if _, err := EncodeResultToParquet(engine.Result{}); err == nil {
		t.Fatal("EncodeResultToParquet() should fail without columns")
	}
}

func TestUniqueColumnNames(t *testing.T) {
	got := uniqueColumnNames([]string{"a", "a", "", "a"})
	want := []string{"a", "a_2", "col_2", "a_3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("uniqueColumnNames() = %v, want %v", got, want)
		}
	}
}
