// Package sqlcopilotctl implements the command-line client for the
// copilot API.
package sqlcopilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type askResult struct {
	SQL      string   `json:"sql"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
	Summary  string   `json:"summary"`
	Retried  bool     `json:"retried"`
}

type queryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

type tablesResult struct {
	Tables []string `json:"tables"`
}

type uploadResult struct {
	Table     string `json:"table"`
	RowCount  int64  `json:"row_count"`
	Persisted bool   `json:"persisted"`
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlcopilotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "Copilot API base URL")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")
	rawJSON := fs.Bool("json", false, "Print raw JSON instead of rendered tables")
	tableName := fs.String("table", "", "Target table name for upload-csv (defaults to the file name)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	runner := &runner{
		client:  client,
		baseURL: strings.TrimRight(*baseURL, "/"),
		stdout:  stdout,
		stderr:  stderr,
		rawJSON: *rawJSON,
	}

	command := strings.TrimSpace(fs.Arg(0))
	switch command {
	case "health":
		return runner.getJSON(ctx, "/v1/health")
	case "ready":
		return runner.getJSON(ctx, "/v1/ready")
	case "schema":
		return runner.getJSON(ctx, "/v1/schema")
	case "tables":
		return runner.listTables(ctx)
	case "ask":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		return runner.ask(ctx, question)
	case "query":
		sqlText := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if sqlText == "" {
			_, _ = fmt.Fprintln(stderr, "query requires a SQL statement")
			return 2
		}
		return runner.query(ctx, sqlText)
	case "upload-csv":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "upload-csv requires a file path")
			return 2
		}
		return runner.uploadCSV(ctx, fs.Arg(1), *tableName)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

type runner struct {
	client  *http.Client
	baseURL string
	stdout  io.Writer
	stderr  io.Writer
	rawJSON bool
}

func (r *runner) getJSON(ctx context.Context, path string) int {
	body, code := r.do(ctx, http.MethodGet, path, "", nil)
	if code != 0 {
		return code
	}
	r.printJSON(body)
	return 0
}

func (r *runner) listTables(ctx context.Context) int {
	body, code := r.do(ctx, http.MethodGet, "/v1/tables", "", nil)
	if code != 0 {
		return code
	}
	if r.rawJSON {
		r.printJSON(body)
		return 0
	}
	var result tablesResult
	if err := json.Unmarshal(body, &result); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "unexpected response: %v\n", err)
		return 1
	}
	if len(result.Tables) == 0 {
		_, _ = fmt.Fprintln(r.stdout, "no tables")
		return 0
	}
	for _, name := range result.Tables {
		_, _ = fmt.Fprintln(r.stdout, name)
	}
	return 0
}

func (r *runner) ask(ctx context.Context, question string) int {
	payload, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "encode request: %v\n", err)
		return 1
	}
	body, code := r.do(ctx, http.MethodPost, "/v1/ask", "application/json", bytes.NewReader(payload))
	if code != 0 {
		return code
	}
	if r.rawJSON {
		r.printJSON(body)
		return 0
	}
	var result askResult
	if err := json.Unmarshal(body, &result); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "unexpected response: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(r.stdout, "SQL: %s\n", result.SQL)
	if result.Retried {
		_, _ = fmt.Fprintln(r.stdout, "(corrected after one retry)")
	}
	renderResult(r.stdout, result.Columns, result.Rows)
	_, _ = fmt.Fprintf(r.stdout, "%d rows\n", result.RowCount)
	if result.Summary != "" {
		_, _ = fmt.Fprintf(r.stdout, "\n%s\n", result.Summary)
	}
	return 0
}

func (r *runner) query(ctx context.Context, sqlText string) int {
	payload, err := json.Marshal(map[string]string{"sql": sqlText})
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "encode request: %v\n", err)
		return 1
	}
	body, code := r.do(ctx, http.MethodPost, "/v1/query", "application/json", bytes.NewReader(payload))
	if code != 0 {
		return code
	}
	if r.rawJSON {
		r.printJSON(body)
		return 0
	}
	var result queryResult
	if err := json.Unmarshal(body, &result); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "unexpected response: %v\n", err)
		return 1
	}
	renderResult(r.stdout, result.Columns, result.Rows)
	_, _ = fmt.Fprintf(r.stdout, "%d rows\n", result.RowCount)
	return 0
}

func (r *runner) uploadCSV(ctx context.Context, path, tableName string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "read %s: %v\n", path, err)
		return 1
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if strings.TrimSpace(tableName) != "" {
		_ = writer.WriteField("table", strings.TrimSpace(tableName))
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "build upload: %v\n", err)
		return 1
	}

	body, code := r.do(ctx, http.MethodPost, "/v1/tables/csv", writer.FormDataContentType(), &buf)
	if code != 0 {
		return code
	}
	if r.rawJSON {
		r.printJSON(body)
		return 0
	}
	var result uploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "unexpected response: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(r.stdout, "loaded %d rows into %s", result.RowCount, result.Table)
	if result.Persisted {
		_, _ = fmt.Fprint(r.stdout, " (persisted)")
	}
	_, _ = fmt.Fprintln(r.stdout)
	return 0
}

// do returns the response body and 0, or nil and a non-zero exit code.
func (r *runner) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, int) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return nil, 1
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return nil, 1
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return nil, 1
	}
	if resp.StatusCode >= 400 {
		message := strings.TrimSpace(string(responseBody))
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(responseBody, &envelope) == nil && envelope.Message != "" {
			message = envelope.Message
		}
		_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", resp.StatusCode, message)
		return nil, 1
	}
	return responseBody, 0
}

func (r *runner) printJSON(raw []byte) {
	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return
	}
	if len(raw) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(raw))
	}
}

func renderResult(w io.Writer, columns []string, rows [][]any) {
	if len(columns) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, 0, len(columns))
	for _, column := range columns {
		header = append(header, column)
	}
	t.AppendHeader(header)
	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}
	t.Render()
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlcopilotctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                 GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  tables                 GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  ask <question>         POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  query <sql>            POST /v1/query")
	_, _ = fmt.Fprintln(w, "  upload-csv <file>      POST /v1/tables/csv")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
