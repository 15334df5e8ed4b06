// Package sqlguard keeps generated and user-supplied SQL read-only and
// row-capped before it reaches an executor.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

var forbiddenKeywords = []string{
	"insert",
	"update",
	"delete",
	"drop",
	"alter",
	"truncate",
	"create",
	"grant",
	"revoke",
	"attach",
	"copy",
	"vacuum",
}

var systemCatalogs = []string{
	"information_schema",
	"pg_catalog",
	"duckdb_tables",
	"duckdb_settings",
	"sqlite_master",
}

var limitClause = regexp.MustCompile(`(?i)\blimit\s+\d+`)

type RejectionError struct {
	Reason string
	SQL    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("unsafe SQL rejected: %s", e.Reason)
}

// Validate returns a *RejectionError when the statement is not a single
// read-only query.
func Validate(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return &RejectionError{Reason: "query is empty", SQL: sqlText}
	}

	lowered := strings.ToLower(trimmed)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return &RejectionError{Reason: "query must start with SELECT", SQL: sqlText}
	}
	for _, keyword := range forbiddenKeywords {
		if containsKeyword(lowered, keyword) {
			return &RejectionError{
				Reason: fmt.Sprintf("only read-only SELECT queries are allowed (found %q)", keyword),
				SQL:    sqlText,
			}
		}
	}
	for _, catalog := range systemCatalogs {
		if strings.Contains(lowered, catalog) {
			return &RejectionError{
				Reason: fmt.Sprintf("system catalog access is not allowed (found %q)", catalog),
				SQL:    sqlText,
			}
		}
	}
	if interior := strings.TrimRight(trimmed, "; \t\r\n"); strings.Contains(interior, ";") {
		return &RejectionError{Reason: "multiple statements are not allowed", SQL: sqlText}
	}
	return nil
}

// EnsureLimit strips trailing semicolons and appends a LIMIT clause unless
// the query already carries one.
func EnsureLimit(sqlText string, maxRows int) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	if maxRows <= 0 || limitClause.MatchString(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, maxRows)
}

// ClampLimit bounds a caller-provided row limit by the configured cap.
func ClampLimit(requested, maxRows int) int {
	if requested <= 0 || requested > maxRows {
		return maxRows
	}
	return requested
}

func containsKeyword(lowered, keyword string) bool {
	index := 0
	for {
		at := strings.Index(lowered[index:], keyword)
		if at < 0 {
			return false
		}
		at += index
		before := at == 0 || !isWordByte(lowered[at-1])
		afterIdx := at + len(keyword)
		after := afterIdx >= len(lowered) || !isWordByte(lowered[afterIdx])
		if before && after {
			return true
		}
		index = at + len(keyword)
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
