// Package copilot wires schema reflection, translation, the SQL guard,
// and execution into the question-to-answer flow.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlcopilot/sqlcopilot/internal/engine"
	"github.com/sqlcopilot/sqlcopilot/internal/nl2sql"
	"github.com/sqlcopilot/sqlcopilot/internal/observability"
	"github.com/sqlcopilot/sqlcopilot/internal/schema"
	"github.com/sqlcopilot/sqlcopilot/internal/sqlguard"
)

var ErrTranslatorNotConfigured = errors.New("translator is not configured")

type Config struct {
	Dialect      string
	RowLimit     int
	PIIBlocklist []string
	Schema       schema.Options
}

type Service struct {
	Reflector  schema.Reflector
	Translator nl2sql.Translator
	Summarizer nl2sql.Summarizer
	Executor   engine.Executor
	Logger     *slog.Logger
	Config     Config
}

type Answer struct {
	SQL        string
	SchemaText string
	Result     engine.Result
	Summary    string
	Retried    bool
}

// Ask turns a natural-language question into a guarded query and its
// result. A failed execution gets exactly one corrective retry where the
// database error is appended to the question.
func (s *Service) Ask(ctx context.Context, question string) (Answer, error) {
	if s.Translator == nil {
		return Answer{}, ErrTranslatorNotConfigured
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question is required")
	}

	schemaText, err := s.SchemaText(ctx)
	if err != nil {
		observability.ObserveQuestion(false, true)
		return Answer{}, fmt.Errorf("reflect schema: %w", err)
	}

	sqlText, err := s.draftSQL(ctx, question, schemaText)
	if err != nil {
		observability.ObserveQuestion(false, true)
		return Answer{}, err
	}

	answer := Answer{SQL: sqlText, SchemaText: schemaText}
	result, execErr := s.execute(ctx, sqlText)
	if execErr != nil {
		s.logWarn(ctx, "initial query failed, retrying with error context",
			slog.String("sql", sqlText), slog.Any("error", execErr))

		amended := fmt.Sprintf("%s\n(Note: previous SQL error was: %v. Please correct it.)", question, execErr)
		retrySQL, err := s.draftSQL(ctx, amended, schemaText)
		if err != nil {
			observability.ObserveQuestion(true, true)
			return Answer{}, err
		}
		answer.SQL = retrySQL
		answer.Retried = true
		result, err = s.execute(ctx, retrySQL)
		if err != nil {
			observability.ObserveQuestion(true, true)
			return Answer{}, fmt.Errorf("retried query failed: %w", err)
		}
	}
	answer.Result = result

	if s.Summarizer != nil && len(result.Rows) > 0 {
		summary, err := s.Summarizer.Summarize(ctx, nl2sql.SummaryRequest{
			Question: question,
			Columns:  result.Columns,
			Rows:     result.Rows,
		})
		if err != nil {
			// The result already answers the question; a missing summary
			// must not fail the request.
			s.logWarn(ctx, "result summarization failed", slog.Any("error", err))
		} else {
			answer.Summary = summary
			observability.IncrementSummary()
		}
	}

	observability.ObserveQuestion(answer.Retried, false)
	return answer, nil
}

// Query runs user-supplied SQL through the same guard and limit as
// generated SQL, without involving the model.
func (s *Service) Query(ctx context.Context, sqlText string, rowLimit int) (engine.Result, error) {
	limit := sqlguard.ClampLimit(rowLimit, s.Config.RowLimit)
	if err := sqlguard.Validate(sqlText); err != nil {
		observability.IncrementSQLRejected()
		return engine.Result{}, err
	}
	limited := sqlguard.EnsureLimit(sqlText, limit)
	result, err := s.Executor.Execute(ctx, engine.Request{SQL: limited, RowLimit: limit})
	if err != nil {
		return engine.Result{}, err
	}
	observability.ObserveQueryDuration(result.Duration)
	return result, nil
}

// SchemaContext returns the reflected schema along with the prompt text
// handed to the model.
func (s *Service) SchemaContext(ctx context.Context) (schema.Schema, string, error) {
	reflected, err := s.Reflector.Reflect(ctx, s.Config.Schema)
	if err != nil {
		return schema.Schema{}, "", err
	}
	if reflected.Dialect == "" {
		reflected.Dialect = s.Config.Dialect
	}
	return reflected, schema.PromptText(reflected, s.Config.PIIBlocklist), nil
}

func (s *Service) SchemaText(ctx context.Context) (string, error) {
	_, text, err := s.SchemaContext(ctx)
	return text, err
}

func (s *Service) draftSQL(ctx context.Context, question, schemaText string) (string, error) {
	result, err := s.Translator.Translate(ctx, nl2sql.Request{
		Question:     question,
		SchemaText:   schemaText,
		Dialect:      s.Config.Dialect,
		PIIBlocklist: s.Config.PIIBlocklist,
	})
	if err != nil {
		return "", fmt.Errorf("translate question: %w", err)
	}
	if err := sqlguard.Validate(result.SQL); err != nil {
		observability.IncrementSQLRejected()
		return "", err
	}
	return sqlguard.EnsureLimit(result.SQL, s.Config.RowLimit), nil
}

func (s *Service) execute(ctx context.Context, sqlText string) (engine.Result, error) {
	result, err := s.Executor.Execute(ctx, engine.Request{SQL: sqlText, RowLimit: s.Config.RowLimit})
	if err != nil {
		return engine.Result{}, err
	}
	observability.ObserveQueryDuration(result.Duration)
	return result, nil
}

func (s *Service) logWarn(ctx context.Context, msg string, attrs ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.WarnContext(ctx, msg, attrs...)
}
