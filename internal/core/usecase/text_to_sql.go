package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const (
	sqlFailedError     = "All LLM providers failed to generate SQL."
	sqlSampleMaxRunes  = 100
	sqlTemperature     = 0.0
	sqlTrainingIDFmt   = "training_%d"
	defaultSQLTrainTop = 5
)

type TextToSQLTool struct {
	training  ports.SemanticStore
	store     ports.StructuredStore
	pool      ports.LLMPool
	observer  ports.PipelineObserver
	corpus    []domain.TrainingSnippet
	dialect   string
	topK      int
	preferred []string

	seedMu sync.Mutex
	seeded bool
}

func NewTextToSQLTool(
	training ports.SemanticStore,
	store ports.StructuredStore,
	pool ports.LLMPool,
	observer ports.PipelineObserver,
	corpus []domain.TrainingSnippet,
	dialect string,
	topK int,
	preferred []string,
) *TextToSQLTool {
	if topK <= 0 {
		topK = defaultSQLTrainTop
	}
	if dialect == "" {
		dialect = "PostgreSQL"
	}
	return &TextToSQLTool{
		training:  training,
		store:     store,
		pool:      pool,
		observer:  observerOrNoop(observer),
		corpus:    corpus,
		dialect:   dialect,
		topK:      topK,
		preferred: preferred,
	}
}

func (t *TextToSQLTool) Kind() domain.ToolKind { return domain.ToolTextToSQL }

// EnsureTraining seeds the training collection when it is empty. It is safe to call repeatedly.
func (t *TextToSQLTool) EnsureTraining(ctx context.Context) error {
	t.seedMu.Lock()
	defer t.seedMu.Unlock()
	if t.seeded {
		return nil
	}

	count, err := t.training.Count(ctx)
	if err == nil && count > 0 {
		t.seeded = true
		return nil
	}
	if err != nil {
		slog.Warn("sql_training_count_failed", "error", err.Error())
	}
	if len(t.corpus) == 0 {
		return errors.New("sql training corpus is empty")
	}

	records := make([]domain.SemanticRecord, 0, len(t.corpus))
	for i, snippet := range t.corpus {
		records = append(records, domain.SemanticRecord{
			ID:       fmt.Sprintf(sqlTrainingIDFmt, i),
			Text:     snippet.Text,
			Metadata: map[string]string{domain.MetaType: string(snippet.Kind)},
		})
	}
	if err := t.training.Add(ctx, records); err != nil {
		return fmt.Errorf("seed sql training data: %w", err)
	}
	slog.Info("sql_training_seeded", "snippets", len(records))
	t.seeded = true
	return nil
}

type sqlRun struct {
	sql      string
	columns  []string
	rows     [][]any
	response string
}

func (t *TextToSQLTool) Execute(ctx context.Context, query domain.QueryContext) domain.ToolResult {
	if err := t.EnsureTraining(ctx); err != nil {
		slog.Warn("sql_training_unavailable", "error", err.Error())
	}

	snippets, err := t.training.Query(ctx, query.Query, t.topK, nil)
	if err != nil {
		slog.Error("sql_training_retrieval_failed", "error", err.Error())
		return domain.ToolFailure{
			Kind:    domain.ToolTextToSQL,
			Error:   "schema lookup is unavailable",
			Details: []string{err.Error()},
		}
	}
	schemaContext := make([]string, 0, len(snippets))
	for _, s := range snippets {
		schemaContext = append(schemaContext, s.Text)
	}
	prompt := buildSQLPrompt(strings.Join(schemaContext, "\n"), query.Query, t.dialect)

	var lastSQL string
	result := firstSuccess(ctx, "text_to_sql", t.pool.Candidates(sqlTemperature, t.preferred...), t.observer,
		func(ctx context.Context, candidate ports.LLMCandidate) (sqlRun, error) {
			raw, err := candidate.LLM.Invoke(ctx, prompt)
			if err != nil {
				return sqlRun{}, fmt.Errorf("generate sql: %w", err)
			}
			generated := cleanGeneratedSQL(raw)
			lastSQL = generated

			statement, err := GuardSelectOnly(generated)
			if err != nil {
				return sqlRun{}, err
			}
			columns, rows, err := t.store.Query(ctx, statement)
			if err != nil {
				return sqlRun{}, fmt.Errorf("execute sql: %w", err)
			}

			summary, err := candidate.LLM.Invoke(ctx, buildSQLSummaryPrompt(query.Query, statement, summarizeRows(columns, rows)))
			if err != nil {
				return sqlRun{}, fmt.Errorf("summarize results: %w", err)
			}
			return sqlRun{sql: statement, columns: columns, rows: rows, response: strings.TrimSpace(summary)}, nil
		})
	if !result.ok() {
		slog.Error("text_to_sql_all_providers_failed", "errors", strings.Join(result.Errors, "; "))
		return domain.ToolFailure{
			Kind:    domain.ToolTextToSQL,
			Error:   sqlFailedError,
			Details: result.Errors,
			SQL:     lastSQL,
		}
	}

	return domain.SQLAnswer{
		SQL:      result.Value.sql,
		Columns:  result.Value.columns,
		Rows:     result.Value.rows,
		Response: result.Value.response,
		Provider: result.Provider,
	}
}

func buildSQLPrompt(schemaContext, question, dialect string) string {
	return fmt.Sprintf(`Given the following database schema and examples:

%s

Convert this natural language query to SQL: "%s"

Rules:
- Only generate SELECT queries
- Use proper %s syntax
- Return only the SQL query, no explanations
- If the query mentions a project name, use the project_name column
- Be precise with table and column names

SQL Query:`, schemaContext, question, dialect)
}

func buildSQLSummaryPrompt(question, statement, summary string) string {
	return fmt.Sprintf(`The user asked: "%s"

SQL executed: %s

Results: %s

Provide a natural language answer based on the SQL results. Be concise and helpful.`, question, statement, summary)
}

// summarizeRows renders the row count plus a truncated first row.
func summarizeRows(columns []string, rows [][]any) string {
	summary := fmt.Sprintf("Found %d result(s).", len(rows))
	if len(rows) == 0 || len(columns) == 0 {
		return summary
	}
	return summary + " Sample: " + truncateRunes(formatRow(columns, rows[0]), sqlSampleMaxRunes)
}

func formatRow(columns []string, row []any) string {
	parts := make([]string, 0, len(columns))
	for i, col := range columns {
		var v any
		if i < len(row) {
			v = row[i]
		}
		parts = append(parts, fmt.Sprintf("%s: %v", col, v))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
