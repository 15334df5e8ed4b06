package nl2sql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractSQLPrefersFencedBlock(t *testing.T) {
	got := extractSQL("Here you go:\n```sql\nSELECT 1;\n```\nEnjoy!")
	if got != "SELECT 1;" {
		t.Fatalf("extractSQL() = %q", got)
	}
}

func TestExtractSQLFallsBackToGenericFence(t *testing.T) {
	got := extractSQL("```\nSELECT 2\n```")
	if got != "SELECT 2" {
		t.Fatalf("extractSQL() = %q", got)
	}
}

func TestExtractSQLFallsBackToRawText(t *testing.T) {
	got := extractSQL("  SELECT 3  ")
	if got != "SELECT 3" {
		t.Fatalf("extractSQL() = %q", got)
	}
}

func chatServer(t *testing.T, content string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if capture != nil {
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode payload: %v", err)
			}
			*capture = payload
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		})
	}))
}

func newTestClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	return client
}

func TestTranslateRoundTrip(t *testing.T) {
	var payload map[string]any
	server := chatServer(t, "```sql\nSELECT COUNT(*) FROM riders\n```", &payload)
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.Translate(context.Background(), Request{
		Question:     "How many riders are there?",
		SchemaText:   "SQL dialect: postgresql\nAvailable tables and columns:\n- riders(rider_id bigint)",
		Dialect:      "postgresql",
		PIIBlocklist: []string{"email"},
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT COUNT(*) FROM riders" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Model != "test-model" || result.Provider != "openai-compatible" {
		t.Fatalf("result = %+v", result)
	}

	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages = %#v", payload["messages"])
	}
	system := messages[0].(map[string]any)["content"].(string)
	if !strings.Contains(system, "SQL DIALECT: postgresql") {
		t.Fatalf("system prompt = %q", system)
	}
	if !strings.Contains(system, "Do not select direct PII columns (email)") {
		t.Fatalf("system prompt missing PII rule: %q", system)
	}
	user := messages[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "User question: How many riders are there?") {
		t.Fatalf("user prompt = %q", user)
	}
}

func TestTranslateRejectsEmptyQuestion(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	if _, err := client.Translate(context.Background(), Request{}); err == nil {
		t.Fatal("Translate() should fail for empty question")
	}
}

func TestTranslateFailsOnEmptyModelOutput(t *testing.T) {
	server := chatServer(t, "```sql\n\n```", nil)
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.Translate(context.Background(), Request{Question: "q"}); err == nil {
		t.Fatal("Translate() should fail on empty SQL")
	}
}

func TestTranslateSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Translate(context.Background(), Request{Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Translate() error = %v", err)
	}
}

func TestSummarizeSendsResultHead(t *testing.T) {
	var payload map[string]any
	server := chatServer(t, "There are 2 riders.", &payload)
	defer server.Close()

	client := newTestClient(t, server.URL)
	summary, err := client.Summarize(context.Background(), SummaryRequest{
		Question: "How many riders are there?",
		Columns:  []string{"rider_id", "raised"},
		Rows:     [][]any{{int64(1), 12000.5}, {int64(2), nil}},
	})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary != "There are 2 riders." {
		t.Fatalf("summary = %q", summary)
	}

	messages := payload["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(string)
	if !strings.Contains(content, "rider_id,raised") {
		t.Fatalf("prompt missing CSV header: %q", content)
	}
	if !strings.Contains(content, "1,12000.5") {
		t.Fatalf("prompt missing CSV row: %q", content)
	}
}

func TestResultHeadCSVTruncates(t *testing.T) {
	rows := make([][]any, 60)
	for i := range rows {
		rows[i] = []any{i}
	}
	head, err := resultHeadCSV([]string{"n"}, rows, 50)
	if err != nil {
		t.Fatalf("resultHeadCSV() error = %v", err)
	}
	lines := strings.Count(strings.TrimSpace(head), "\n") + 1
	if lines != 51 {
		t.Fatalf("lines = %d, want header plus 50 rows", lines)
	}
}

func TestNewOpenAIClientValidation(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("missing base URL should fail")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("missing api key should fail")
	}
}
