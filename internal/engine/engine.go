package engine

import (
	"context"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Executor interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
