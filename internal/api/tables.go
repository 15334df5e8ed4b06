package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sqlcopilot/sqlcopilot/internal/dataset"
	"github.com/sqlcopilot/sqlcopilot/internal/engine/duckdb"
	"github.com/sqlcopilot/sqlcopilot/internal/observability"
)

// maxCSVUploadBytes bounds a single demo dataset upload.
const maxCSVUploadBytes = 64 << 20

type listTablesResponse struct {
	Tables []string `json:"tables"`
}

type uploadCSVResponse struct {
	Table     string `json:"table"`
	RowCount  int64  `json:"row_count"`
	Persisted bool   `json:"persisted"`
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Loader != nil {
		names, err := deps.Loader.ListTables(r.Context())
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "TABLES_UNAVAILABLE", "failed to list tables", true, map[string]any{"details": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, listTablesResponse{Tables: names})
		return
	}

	if deps.Copilot == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "COPILOT_NOT_CONFIGURED", "copilot dependencies are not configured", false, nil)
		return
	}
	reflected, _, err := deps.Copilot.SchemaContext(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "TABLES_UNAVAILABLE", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	names := make([]string, 0, len(reflected.Tables))
	for _, table := range reflected.Tables {
		names = append(names, table.Name)
	}
	writeJSON(w, http.StatusOK, listTablesResponse{Tables: names})
}

func handleUploadCSV(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Loader == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOAD_NOT_SUPPORTED", "csv upload is only available in demo mode", false, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCSVUploadBytes)
	if err := r.ParseMultipartForm(maxCSVUploadBytes); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "invalid multipart upload", false, map[string]any{"details": err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", `multipart field "file" is required`, false, nil)
		return
	}
	defer func() { _ = file.Close() }()

	rawName := r.FormValue("table")
	if strings.TrimSpace(rawName) == "" {
		rawName = header.Filename
	}
	tableName, err := duckdb.SanitizeTableName(rawName)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_NAME_INVALID", err.Error(), false, nil)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UPLOAD_READ_FAILED", "failed to read uploaded file", false, map[string]any{"details": err.Error()})
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_EMPTY", "uploaded file is empty", false, nil)
		return
	}

	rowCount, err := deps.Loader.LoadCSV(r.Context(), tableName, data)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "CSV_LOAD_FAILED", "failed to load csv into table", false, map[string]any{"details": err.Error()})
		return
	}
	observability.IncrementCSVUpload()

	persisted := false
	if deps.Datasets != nil {
		key := fmt.Sprintf("%s.csv", tableName)
		if _, err := deps.Datasets.Put(r.Context(), key, bytes.NewReader(data), int64(len(data)), dataset.PutOptions{ContentType: "text/csv"}); err != nil {
			// The table is already queryable; losing durability is worth
			// surfacing but not failing the upload over.
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "failed to persist uploaded dataset",
					"table", tableName, "error", err)
			}
		} else {
			persisted = true
		}
	}

	writeJSON(w, http.StatusOK, uploadCSVResponse{
		Table:     tableName,
		RowCount:  rowCount,
		Persisted: persisted,
	})
}
