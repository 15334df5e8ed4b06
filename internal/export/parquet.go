package export

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlcopilot/sqlcopilot/internal/engine"
)

// EncodeResultToParquet renders a query result as a parquet file. Result
// schemas are only known at runtime, so every column is written as an
// optional UTF8 string.
func EncodeResultToParquet(result engine.Result) ([]byte, error) {
	if len(result.Columns) == 0 {
		return nil, fmt.Errorf("result has no columns")
	}

	columns := uniqueColumnNames(result.Columns)
	group := parquet.Group{}
	for _, column := range columns {
		group[column] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)

	rows := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			if i >= len(row) || row[i] == nil {
				record[column] = nil
				continue
			}
			record[column] = fmt.Sprintf("%v", row[i])
		}
		rows = append(rows, record)
	}
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func uniqueColumnNames(columns []string) []string {
	seen := map[string]int{}
	unique := make([]string, 0, len(columns))
	for i, column := range columns {
		if column == "" {
			column = fmt.Sprintf("col_%d", i)
		}
		if count := seen[column]; count > 0 {
			column = fmt.Sprintf("%s_%d", column, count+1)
		}
		seen[column]++
		unique = append(unique, column)
	}
	return unique
}
