package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sqlcopilot/sqlcopilot/internal/export"
	"github.com/sqlcopilot/sqlcopilot/internal/sqlguard"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	SQL      string         `json:"sql"`
	Columns  []string       `json:"columns"`
	Rows     [][]any        `json:"rows"`
	RowCount int            `json:"row_count"`
	Stats    map[string]any `json:"stats"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Copilot == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "COPILOT_NOT_CONFIGURED", "copilot dependencies are not configured", false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "", "json", "parquet":
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "FORMAT_UNSUPPORTED", fmt.Sprintf("unsupported result format %q", format), false, nil)
		return
	}

	result, err := deps.Copilot.Query(r.Context(), request.SQL, request.RowLimit)
	if err != nil {
		var rejection *sqlguard.RejectionError
		if errors.As(err, &rejection) {
			writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", rejection.Reason, false, map[string]any{"sql": rejection.SQL})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "QUERY_EXECUTION_FAILED", "query execution failed", true, map[string]any{"details": err.Error()})
		return
	}

	if format == "parquet" {
		encoded, err := export.EncodeResultToParquet(result)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to encode result as parquet", true, map[string]any{"details": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		w.Header().Set("Content-Disposition", `attachment; filename="result.parquet"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(encoded)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		SQL:      request.SQL,
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: len(result.Rows),
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
		},
	})
}
