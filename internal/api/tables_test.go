package api

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sqlcopilot/sqlcopilot/internal/schema"
)

func multipartCSV(t *testing.T, fieldTable, filename, contents string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if fieldTable != "" {
		if err := writer.WriteField("table", fieldTable); err != nil {
			t.Fatalf("write table field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(contents)); err != nil {
		t.Fatalf("write csv payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestListTablesFromLoader(t *testing.T) {
	loader := &fakeLoader{tables: []string{"riders", "trips"}}
	handler := NewHandler(testConfig(t), Dependencies{Loader: loader})

	recorder := doJSON(t, handler, http.MethodGet, "/v1/tables", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body listTablesResponse
	decodeBody(t, recorder, &body)
	if len(body.Tables) != 2 || body.Tables[0] != "riders" {
		t.Fatalf("unexpected tables: %v", body.Tables)
	}
}

func TestListTablesFallsBackToSchema(t *testing.T) {
	fake := &fakeCopilot{schema: schema.Schema{
		Dialect: "postgresql",
		Tables:  []schema.Table{{Name: "customers"}, {Name: "orders"}},
	}}
	handler := NewHandler(testConfig(t), Dependencies{Copilot: fake})

	recorder := doJSON(t, handler, http.MethodGet, "/v1/tables", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body listTablesResponse
	decodeBody(t, recorder, &body)
	if len(body.Tables) != 2 || body.Tables[1] != "orders" {
		t.Fatalf("unexpected tables: %v", body.Tables)
	}
}

func TestUploadCSVLoadsAndPersists(t *testing.T) {
	loader := &fakeLoader{rowCount: 3}
	store := &fakeDatasetStore{}
	handler := NewHandler(testConfig(t), Dependencies{Loader: loader, Datasets: store})

	body, contentType := multipartCSV(t, "", "Monthly Riders.csv", "id,city\n1,Berlin\n2,Hamburg\n3,Munich\n")
	request := httptest.NewRequest(http.MethodPost, "/v1/tables/csv", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response uploadCSVResponse
	decodeBody(t, recorder, &response)
	if response.Table != "monthly_riders" {
		t.Fatalf("expected sanitized table name, got %q", response.Table)
	}
	if response.RowCount != 3 || !response.Persisted {
		t.Fatalf("unexpected response: %+v", response)
	}
	if len(store.keys) != 1 || store.keys[0] != "monthly_riders.csv" {
		t.Fatalf("dataset not persisted under table key: %v", store.keys)
	}
	if len(loader.loadedTables) != 1 || loader.loadedTables[0] != "monthly_riders" {
		t.Fatalf("loader not called with sanitized name: %v", loader.loadedTables)
	}
}

func TestUploadCSVHonorsExplicitTableName(t *testing.T) {
	loader := &fakeLoader{rowCount: 1}
	handler := NewHandler(testConfig(t), Dependencies{Loader: loader})

	body, contentType := multipartCSV(t, "fleet", "whatever.csv", "id\n1\n")
	request := httptest.NewRequest(http.MethodPost, "/v1/tables/csv", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response uploadCSVResponse
	decodeBody(t, recorder, &response)
	if response.Table != "fleet" {
		t.Fatalf("expected explicit table name, got %q", response.Table)
	}
	if response.Persisted {
		t.Fatal("upload without a dataset store must not report persistence")
	}
}

func TestUploadCSVToleratesDatasetStoreFailure(t *testing.T) {
	loader := &fakeLoader{rowCount: 2}
	store := &fakeDatasetStore{putErr: errors.New("bucket gone")}
	handler := NewHandler(testConfig(t), Dependencies{Loader: loader, Datasets: store})

	body, contentType := multipartCSV(t, "", "riders.csv", "id\n1\n2\n")
	request := httptest.NewRequest(http.MethodPost, "/v1/tables/csv", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("persistence failure must not fail the upload, got %d", recorder.Code)
	}
	var response uploadCSVResponse
	decodeBody(t, recorder, &response)
	if response.Persisted {
		t.Fatal("expected persisted=false after store failure")
	}
}

func TestUploadCSVRequiresFile(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{Loader: &fakeLoader{}})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("table", "riders")
	_ = writer.Close()
	request := httptest.NewRequest(http.MethodPost, "/v1/tables/csv", &buf)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var body map[string]any
	decodeBody(t, recorder, &body)
	if body["error_code"] != "FILE_REQUIRED" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestUploadCSVRejectsEmptyFile(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{Loader: &fakeLoader{}})

	body, contentType := multipartCSV(t, "", "empty.csv", "   \n")
	request := httptest.NewRequest(http.MethodPost, "/v1/tables/csv", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestUploadCSVWithoutLoader(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{})

	body, contentType := multipartCSV(t, "", "riders.csv", "id\n1\n")
	request := httptest.NewRequest(http.MethodPost, "/v1/tables/csv", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", recorder.Code)
	}
	var payload map[string]any
	decodeBody(t, recorder, &payload)
	if payload["error_code"] != "UPLOAD_NOT_SUPPORTED" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}
