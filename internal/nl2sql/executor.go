package nl2sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/patriciodunstan/chat-analytics-api/internal/observability"
)

// maxResultRows caps every execution regardless of what the generated
// statement asks for.
const maxResultRows = 1000

var namedParamPattern = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// Executor runs generated queries. Execute never returns an error: every
// failure is folded into the Result so the caller always has something to
// answer with.
type Executor struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutor(db *sql.DB, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{db: db, logger: logger}
}

func (e *Executor) Execute(ctx context.Context, query Query) Result {
	started := time.Now()

	sqlText, args := rewriteNamedParams(query.SQL, query.Parameters)
	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return e.failure(ctx, started, "execute query: %v", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return e.failure(ctx, started, "read columns: %v", err)
	}

	var data []map[string]any
	for rows.Next() {
		if len(data) >= maxResultRows {
			e.logger.WarnContext(ctx, "result truncated", slog.Int("max_rows", maxResultRows))
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return e.failure(ctx, started, "scan row: %v", err)
		}
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = serializeValue(values[i])
		}
		data = append(data, record)
	}
	if err := rows.Err(); err != nil {
		return e.failure(ctx, started, "iterate rows: %v", err)
	}

	elapsed := time.Since(started)
	observability.ObserveSQLExecution(true, elapsed)
	e.logger.InfoContext(ctx, "query executed",
		slog.Int("rows", len(data)),
		slog.Duration("elapsed", elapsed),
	)
	return Result{
		Success:         true,
		Data:            data,
		RowCount:        len(data),
		ColumnNames:     columns,
		ExecutionTimeMS: float64(elapsed.Microseconds()) / 1000.0,
	}
}

func (e *Executor) failure(ctx context.Context, started time.Time, format string, args ...any) Result {
	elapsed := time.Since(started)
	message := fmt.Sprintf(format, args...)
	observability.ObserveSQLExecution(false, elapsed)
	e.logger.ErrorContext(ctx, "query execution failed", slog.String("error", message))
	return Result{
		Success:         false,
		ErrorMessage:    message,
		ExecutionTimeMS: float64(elapsed.Microseconds()) / 1000.0,
	}
}

// rewriteNamedParams converts :name placeholders into $1..$n positional
// form, numbering by first occurrence. A name used twice maps to the same
// ordinal.
func rewriteNamedParams(sqlText string, params map[string]any) (string, []any) {
	ordinals := make(map[string]int)
	var args []any

	rewritten := namedParamPattern.ReplaceAllStringFunc(sqlText, func(match string) string {
		name := match[1:]
		value, ok := params[name]
		if !ok {
			return match
		}
		ordinal, seen := ordinals[name]
		if !seen {
			args = append(args, value)
			ordinal = len(args)
			ordinals[name] = ordinal
		}
		return fmt.Sprintf("$%d", ordinal)
	})
	return rewritten, args
}

// serializeValue narrows driver values down to JSON-safe scalars.
func serializeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool, int64, float64, string:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FormatResultsForLLM renders up to 50 rows as pipe-delimited text for the
// response prompt.
func FormatResultsForLLM(result Result) string {
	if !result.Success {
		return "Query failed: " + result.ErrorMessage
	}
	if result.RowCount == 0 {
		return "No results found for the given criteria."
	}

	const limit = 50
	var b strings.Builder
	b.WriteString(strings.Join(result.ColumnNames, " | "))
	b.WriteString("\n")

	shown := result.RowCount
	if shown > limit {
		shown = limit
	}
	for _, row := range result.Data[:shown] {
		cells := make([]string, 0, len(result.ColumnNames))
		for _, column := range result.ColumnNames {
			cells = append(cells, formatCell(row[column]))
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	if result.RowCount > limit {
		fmt.Fprintf(&b, "... and %d more rows.\n", result.RowCount-limit)
	}
	return b.String()
}

// FormatResultsAsMarkdown renders up to 30 rows as a markdown table for
// direct display.
func FormatResultsAsMarkdown(result Result) string {
	if !result.Success {
		return "Query failed: " + result.ErrorMessage
	}
	if result.RowCount == 0 {
		return "No results found for the given criteria."
	}

	const limit = 30
	var b strings.Builder
	b.WriteString("| " + strings.Join(result.ColumnNames, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(result.ColumnNames)) + "\n")

	shown := result.RowCount
	if shown > limit {
		shown = limit
	}
	for _, row := range result.Data[:shown] {
		cells := make([]string, 0, len(result.ColumnNames))
		for _, column := range result.ColumnNames {
			cells = append(cells, formatCell(row[column]))
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if result.RowCount > limit {
		fmt.Fprintf(&b, "\n*Showing %d of %d results*\n", limit, result.RowCount)
	}
	return b.String()
}

// formatCell renders a scalar for tabular output, grouping thousands in
// large numbers.
func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case int64:
		return groupThousands(fmt.Sprintf("%d", v))
	case float64:
		if v == float64(int64(v)) {
			return groupThousands(fmt.Sprintf("%d", int64(v)))
		}
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func groupThousands(digits string) string {
	negative := strings.HasPrefix(digits, "-")
	if negative {
		digits = digits[1:]
	}
	if len(digits) <= 3 {
		if negative {
			return "-" + digits
		}
		return digits
	}
	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)
	out := strings.Join(groups, ",")
	if negative {
		return "-" + out
	}
	return out
}
