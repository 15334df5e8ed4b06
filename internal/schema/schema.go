package schema

import (
	"context"
	"fmt"
	"strings"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows,omitempty"`
}

type Schema struct {
	Dialect string  `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// Options narrow what reflection exposes to the model.
type Options struct {
	AllowTables        []string
	ExcludeTables      []string
	MaxColumnsPerTable int
	SampleRows         int
}

type Reflector interface {
	Reflect(ctx context.Context, opts Options) (Schema, error)
}

// Keep tolerates nil lists: an empty allowlist admits every table.
func (o Options) Keep(tableName string) bool {
	for _, excluded := range o.ExcludeTables {
		if excluded == tableName {
			return false
		}
	}
	if len(o.AllowTables) == 0 {
		return true
	}
	for _, allowed := range o.AllowTables {
		if allowed == tableName {
			return true
		}
	}
	return false
}

func (o Options) ColumnCap() int {
	if o.MaxColumnsPerTable > 0 {
		return o.MaxColumnsPerTable
	}
	return 40
}

// PromptText renders the schema description handed to the language model.
func PromptText(s Schema, piiBlocklist []string) string {
	lines := []string{
		fmt.Sprintf("SQL dialect: %s", s.Dialect),
		"Available tables and columns:",
	}
	for _, table := range s.Tables {
		cols := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			if col.Type == "" {
				cols = append(cols, col.Name)
				continue
			}
			cols = append(cols, col.Name+" "+col.Type)
		}
		lines = append(lines, fmt.Sprintf("- %s(%s)", table.Name, strings.Join(cols, ", ")))
		for _, row := range table.SampleRows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell == nil {
					cells = append(cells, "NULL")
					continue
				}
				cells = append(cells, fmt.Sprintf("%v", cell))
			}
			lines = append(lines, fmt.Sprintf("  sample: (%s)", strings.Join(cells, ", ")))
		}
	}
	if len(piiBlocklist) > 0 {
		lines = append(lines, fmt.Sprintf(
			"Columns containing sensitive PII that must not be selected or shown: %s",
			strings.Join(piiBlocklist, ", "),
		))
	}
	return strings.Join(lines, "\n")
}
