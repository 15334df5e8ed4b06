package nl2sql

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const summarySampleRows = 50

type OpenAIConfig struct {
	BaseURL            string
	APIKey             string
	Model              string
	Temperature        float64
	Timeout            time.Duration
	SummaryModel       string
	SummaryTemperature float64
}

type OpenAIClient struct {
	baseURL            string
	apiKey             string
	model              string
	temperature        float64
	summaryModel       string
	summaryTemperature float64
	client             *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	summaryModel := strings.TrimSpace(cfg.SummaryModel)
	if summaryModel == "" {
		summaryModel = model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		baseURL:            strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:             strings.TrimSpace(cfg.APIKey),
		model:              model,
		temperature:        cfg.Temperature,
		summaryModel:       summaryModel,
		summaryTemperature: cfg.SummaryTemperature,
		client:             &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenAIClient) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{}, fmt.Errorf("question is required")
	}

	content, err := c.chatCompletion(ctx, c.model, c.temperature, []chatMessage{
		{Role: "system", Content: translateSystemPrompt(req.Dialect, req.PIIBlocklist)},
		{Role: "user", Content: translateUserPrompt(req.SchemaText, req.Question)},
	})
	if err != nil {
		return Result{}, err
	}

	sqlText := extractSQL(content)
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, fmt.Errorf("model returned empty SQL")
	}
	return Result{
		SQL:      sqlText,
		Provider: "openai-compatible",
		Model:    c.model,
	}, nil
}

func (c *OpenAIClient) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	head, err := resultHeadCSV(req.Columns, req.Rows, summarySampleRows)
	if err != nil {
		return "", fmt.Errorf("render result head: %w", err)
	}

	prompt := fmt.Sprintf(
		"You are helping summarize SQL results for a non-technical user.\nQuestion: %s\n\nHere are the first rows of the result CSV (may be truncated):\n%s\nWrite a concise, friendly answer in 1-3 sentences. Include the key number(s) and year if present.",
		strings.TrimSpace(req.Question),
		head,
	)
	content, err := c.chatCompletion(ctx, c.summaryModel, c.summaryTemperature, []chatMessage{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *OpenAIClient) chatCompletion(ctx context.Context, model string, temperature float64, messages []chatMessage) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func translateSystemPrompt(dialect string, piiBlocklist []string) string {
	if strings.TrimSpace(dialect) == "" {
		dialect = "postgresql"
	}
	return fmt.Sprintf(`You are a helpful analytics copilot for a CRM database.
Your job is to produce a SINGLE SQL query that answers the user's question.

Rules:
- SQL DIALECT: %s
- Use ONLY the tables/columns listed below.
- NEVER access information_schema or system tables.
- READ-ONLY: Only SELECT queries; never modify data.
- Respect privacy: Do not select direct PII columns (%s).
- If the user forgets a time frame, assume the latest full year in the data.
- Keep queries efficient and add reasonable filters.
- Return ONLY a code block with SQL (`+"```sql ... ```"+`), nothing else.
- If a count is requested, aggregate in SQL using COUNT/SUM and return minimal data.
- If top-N is requested, add ORDER BY and LIMIT.`,
		dialect,
		strings.Join(piiBlocklist, ", "),
	)
}

func translateUserPrompt(schemaText, question string) string {
	return fmt.Sprintf("The database schema is:\n%s\n\nUser question: %s\n", schemaText, strings.TrimSpace(question))
}

var (
	sqlFence = regexp.MustCompile("(?is)```sql(.*?)```")
	anyFence = regexp.MustCompile("(?s)```(.*?)```")
)

func extractSQL(value string) string {
	if m := sqlFence.FindStringSubmatch(value); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFence.FindStringSubmatch(value); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(value)
}

func resultHeadCSV(columns []string, rows [][]any, limit int) (string, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(columns); err != nil {
		return "", err
	}
	for i, row := range rows {
		if i >= limit {
			break
		}
		record := make([]string, len(row))
		for j, value := range row {
			if value == nil {
				record[j] = ""
				continue
			}
			record[j] = fmt.Sprintf("%v", value)
		}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
