package api

import (
	"bytes"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlcopilot/sqlcopilot/internal/engine"
	"github.com/sqlcopilot/sqlcopilot/internal/sqlguard"
)

func TestQueryReturnsRows(t *testing.T) {
	fake := &fakeCopilot{result: engine.Result{
		Columns:  []string{"id", "city"},
		Rows:     [][]any{{float64(1), "Berlin"}, {float64(2), "Hamburg"}},
		Duration: 7 * time.Millisecond,
	}}
	handler := NewHandler(testConfig(t), Dependencies{Copilot: fake})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/query", map[string]any{"sql": "SELECT id, city FROM riders", "row_limit": 10})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var body queryResponse
	decodeBody(t, recorder, &body)
	if body.RowCount != 2 || len(body.Columns) != 2 {
		t.Fatalf("unexpected response: %+v", body)
	}
	if fake.queriedLimits[0] != 10 {
		t.Fatalf("row limit not forwarded: %v", fake.queriedLimits)
	}
}

func TestQueryRequiresSQL(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{Copilot: &fakeCopilot{}})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/query", map[string]any{"sql": ""})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var body map[string]any
	decodeBody(t, recorder, &body)
	if body["error_code"] != "SQL_REQUIRED" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestQueryMapsGuardRejection(t *testing.T) {
	fake := &fakeCopilot{queryErr: &sqlguard.RejectionError{Reason: "forbidden keyword: delete", SQL: "DELETE FROM riders"}}
	handler := NewHandler(testConfig(t), Dependencies{Copilot: fake})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/query", map[string]any{"sql": "DELETE FROM riders"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var body map[string]any
	decodeBody(t, recorder, &body)
	if body["error_code"] != "SQL_NOT_ALLOWED" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestQueryMapsExecutionFailure(t *testing.T) {
	fake := &fakeCopilot{queryErr: errors.New("relation does not exist")}
	handler := NewHandler(testConfig(t), Dependencies{Copilot: fake})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/query", map[string]any{"sql": "SELECT x FROM missing"})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
	var body map[string]any
	decodeBody(t, recorder, &body)
	if body["error_code"] != "QUERY_EXECUTION_FAILED" {
		t.Fatalf("unexpected error payload: %v", body)
	}
	if body["retryable"] != true {
		t.Fatalf("execution failures should be retryable: %v", body)
	}
}

func TestQueryRejectsUnknownFormat(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{Copilot: &fakeCopilot{}})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/query?format=xlsx", map[string]any{"sql": "SELECT 1"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var body map[string]any
	decodeBody(t, recorder, &body)
	if body["error_code"] != "FORMAT_UNSUPPORTED" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestQueryParquetExport(t *testing.T) {
	fake := &fakeCopilot{result: engine.Result{
		Columns: []string{"city", "riders"},
		Rows:    [][]any{{"Berlin", int64(12)}, {"Hamburg", int64(7)}},
	}}
	handler := NewHandler(testConfig(t), Dependencies{Copilot: fake})

	recorder := doJSON(t, handler, http.MethodPost, "/v1/query?format=parquet", map[string]any{"sql": "SELECT city, COUNT(*) FROM riders GROUP BY city"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/vnd.apache.parquet" {
		t.Fatalf("unexpected content type %q", got)
	}

	raw := recorder.Body.Bytes()
	file, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("response is not a parquet file: %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("expected 2 rows in parquet file, got %d", file.NumRows())
	}
}
