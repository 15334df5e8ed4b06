package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sqlcopilot/sqlcopilot/internal/copilot"
	"github.com/sqlcopilot/sqlcopilot/internal/sqlguard"
)

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Question string         `json:"question"`
	SQL      string         `json:"sql"`
	Columns  []string       `json:"columns"`
	Rows     [][]any        `json:"rows"`
	RowCount int            `json:"row_count"`
	Summary  string         `json:"summary,omitempty"`
	Retried  bool           `json:"retried"`
	Stats    map[string]any `json:"stats"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Copilot == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "COPILOT_NOT_CONFIGURED", "copilot dependencies are not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, err := deps.Copilot.Ask(r.Context(), request.Question)
	if err != nil {
		writeAskError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Question: request.Question,
		SQL:      answer.SQL,
		Columns:  answer.Result.Columns,
		Rows:     answer.Result.Rows,
		RowCount: len(answer.Result.Rows),
		Summary:  answer.Summary,
		Retried:  answer.Retried,
		Stats: map[string]any{
			"duration_ms": answer.Result.Duration.Milliseconds(),
		},
	})
}

func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, copilot.ErrTranslatorNotConfigured) {
		writeError(r.Context(), w, http.StatusNotImplemented, "AI_NOT_CONFIGURED", "no language model is configured", false, nil)
		return
	}
	var rejection *sqlguard.RejectionError
	if errors.As(err, &rejection) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", rejection.Reason, false, map[string]any{"sql": rejection.SQL})
		return
	}
	writeError(r.Context(), w, http.StatusBadGateway, "ASK_FAILED", "failed to answer question", true, map[string]any{"details": err.Error()})
}
