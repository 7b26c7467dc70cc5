package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// KnowledgeRetriever recalls agent knowledge relevant to the query:
// schema descriptions, business terms, curated examples. How the entries
// are indexed and stored is outside the engine.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, agentID, query string) ([]string, error)
}

// SQLExecutor runs one generated SQL statement against the agent's
// datasource and returns the result set.
type SQLExecutor interface {
	Query(ctx context.Context, agentID, sql string) (*SQLResult, error)
}

// SQLResult is a materialized result set.
type SQLResult struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Markdown renders the result as a GFM table, truncated to keep report
// sections readable.
func (r *SQLResult) Markdown(maxRows int) string {
	if r == nil || len(r.Columns) == 0 {
		return "(no rows)"
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(r.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(r.Columns)) + "\n")
	rows := r.Rows
	truncated := false
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
		truncated = true
	}
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	if truncated {
		fmt.Fprintf(&b, "\n_%d of %d rows shown_\n", maxRows, len(r.Rows))
	}
	return b.String()
}

// JSON renders the result for scripts to read on stdin.
func (r *SQLResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// StepResult records one executed plan step for the final report. The
// slice under StateKeyStepResults is rewritten as a whole on every update.
type StepResult struct {
	Step   int
	Type   string
	Goal   string
	SQL    string
	Result *SQLResult
	Output string
}
