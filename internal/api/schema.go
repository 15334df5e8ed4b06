package api

import (
	"net/http"
)

type schemaResponse struct {
	Dialect    string        `json:"dialect"`
	Tables     []schemaTable `json:"tables"`
	PromptText string        `json:"prompt_text"`
}

type schemaTable struct {
	Name       string         `json:"name"`
	Columns    []schemaColumn `json:"columns"`
	SampleRows [][]any        `json:"sample_rows,omitempty"`
}

type schemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Copilot == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "COPILOT_NOT_CONFIGURED", "copilot dependencies are not configured", false, nil)
		return
	}

	reflected, promptText, err := deps.Copilot.SchemaContext(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_REFLECTION_FAILED", "failed to reflect database schema", true, map[string]any{"details": err.Error()})
		return
	}

	tables := make([]schemaTable, 0, len(reflected.Tables))
	for _, table := range reflected.Tables {
		columns := make([]schemaColumn, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, schemaColumn{Name: column.Name, Type: column.Type})
		}
		tables = append(tables, schemaTable{
			Name:       table.Name,
			Columns:    columns,
			SampleRows: table.SampleRows,
		})
	}

	writeJSON(w, http.StatusOK, schemaResponse{
		Dialect:    reflected.Dialect,
		Tables:     tables,
		PromptText: promptText,
	})
}
