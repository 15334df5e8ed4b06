package nl2sql

import "context"

type Request struct {
	Question     string   `json:"question"`
	SchemaText   string   `json:"schema_text"`
	Dialect      string   `json:"dialect"`
	PIIBlocklist []string `json:"pii_blocklist"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type SummaryRequest struct {
	Question string   `json:"question"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}
