package nl2sql

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/patriciodunstan/chat-analytics-api/internal/observability"
)

var identifierPattern = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// sanitizeIdentifier strips every character that is not alphanumeric or
// underscore. Identifiers are always double-quoted after sanitizing, so
// nothing an LLM emits can break out of its position in the statement.
func sanitizeIdentifier(name string) string {
	return identifierPattern.ReplaceAllString(name, "")
}

var allowedOperators = map[string]struct{}{
	"=": {}, "!=": {}, "<>": {},
	">": {}, "<": {}, ">=": {}, "<=": {},
	"LIKE": {}, "ILIKE": {}, "IN": {}, "NOT IN": {},
	"IS NULL": {}, "IS NOT NULL": {}, "BETWEEN": {},
}

var allowedAggregations = map[string]struct{}{
	"COUNT": {}, "SUM": {}, "AVG": {}, "MAX": {}, "MIN": {},
	"COUNT DISTINCT": {},
}

// normalizeKeyword uppercases and collapses internal whitespace so that
// multi-word operators and functions match the allow-lists.
func normalizeKeyword(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Generator builds a parameterized SELECT from a validated intent.
// Literal values never appear in the SQL text; they travel in the
// Parameters map under :name placeholders.
type Generator struct {
	logger *slog.Logger
}

func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger}
}

func (g *Generator) Generate(intent *ParsedIntent, schema *Schema) (Query, error) {
	if len(intent.Tables) == 0 {
		return Query{}, stageError(StageSQLGeneration, "intent has no tables")
	}

	params := make(map[string]any)

	selectClause := g.buildSelect(intent)
	fromClause, tablesUsed := g.buildFrom(intent, schema)
	whereClause := g.buildWhere(intent, schema, tablesUsed, params)
	groupByClause := g.buildGroupBy(intent)
	orderByClause := g.buildOrderBy(intent)

	var b strings.Builder
	b.WriteString("SELECT " + selectClause)
	b.WriteString(" FROM " + fromClause)
	if whereClause != "" {
		b.WriteString(" WHERE " + whereClause)
	}
	if groupByClause != "" {
		b.WriteString(" GROUP BY " + groupByClause)
	}
	if orderByClause != "" {
		b.WriteString(" ORDER BY " + orderByClause)
	}
	if intent.Limit > 0 {
		b.WriteString(" LIMIT :limit")
		params["limit"] = intent.Limit
	}

	observability.IncrementSQLGenerated()
	return Query{
		SQL:         b.String(),
		Parameters:  params,
		Description: g.describe(intent, tablesUsed),
		TablesUsed:  tablesUsed,
	}, nil
}

func (g *Generator) buildSelect(intent *ParsedIntent) string {
	var parts []string

	for _, col := range intent.GroupBy {
		parts = append(parts, quoteColumn(col))
	}
	for _, col := range intent.SelectColumns {
		quoted := quoteColumn(col)
		if !contains(parts, quoted) {
			parts = append(parts, quoted)
		}
	}

	for _, agg := range intent.Aggregations {
		fn := normalizeKeyword(agg.Func)
		if _, ok := allowedAggregations[fn]; !ok {
			g.logger.Warn("skipping disallowed aggregation", slog.String("func", agg.Func))
			continue
		}
		var expr string
		switch {
		case strings.HasPrefix(fn, "COUNT") && (agg.Column == "" || agg.Column == "*"):
			// DISTINCT over every column is meaningless, degrade to a plain count.
			expr = "COUNT(*)"
		case fn == "COUNT DISTINCT":
			expr = fmt.Sprintf("COUNT(DISTINCT %s)", quoteColumn(agg.Column))
		default:
			expr = fmt.Sprintf("%s(%s)", fn, quoteColumn(agg.Column))
		}
		if agg.Alias != "" {
			expr += fmt.Sprintf(` AS "%s"`, sanitizeIdentifier(agg.Alias))
		}
		parts = append(parts, expr)
	}

	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ", ")
}

// buildFrom emits the base table plus LEFT JOIN clauses. Explicit joins
// from the intent are honored first; tables still unconnected go through
// foreign-key inference. Tables with no join path at all are dropped.
func (g *Generator) buildFrom(intent *ParsedIntent, schema *Schema) (string, []string) {
	base := intent.Tables[0]
	joined := map[string]bool{base: true}
	clauses := []string{fmt.Sprintf(`"%s"`, sanitizeIdentifier(base))}

	for _, join := range intent.Joins {
		t1, t2 := join.Table1, join.Table2
		if joined[t2] && !joined[t1] {
			t1, t2 = t2, t1
		}
		if !joined[t1] || joined[t2] {
			continue
		}
		clauses = append(clauses, fmt.Sprintf(
			`LEFT JOIN "%s" ON "%s"."%s" = "%s"."%s"`,
			sanitizeIdentifier(t2),
			sanitizeIdentifier(join.Table1), sanitizeIdentifier(join.Col1),
			sanitizeIdentifier(join.Table2), sanitizeIdentifier(join.Col2),
		))
		joined[t2] = true
	}

	var pending []string
	for _, table := range intent.Tables[1:] {
		if !joined[table] {
			pending = append(pending, table)
		}
	}

	maxIterations := len(intent.Tables) + 5
	for iter := 0; iter < maxIterations && len(pending) > 0; iter++ {
		progress := false
		for i, table := range pending {
			if joined[table] {
				pending = append(pending[:i], pending[i+1:]...)
				progress = true
				break
			}
			extra, ok := g.joinPath(table, joined, schema)
			if !ok {
				continue
			}
			clauses = append(clauses, extra...)
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
			break
		}
		if !progress {
			break
		}
	}

	for _, table := range pending {
		g.logger.Warn("dropping table with no join path", slog.String("table", table))
	}

	tablesUsed := make([]string, 0, len(joined))
	for _, table := range intent.Tables {
		if joined[table] {
			tablesUsed = append(tablesUsed, table)
		}
	}
	for _, table := range sortedKeys(joined) {
		if !contains(tablesUsed, table) {
			tablesUsed = append(tablesUsed, table)
		}
	}

	return strings.Join(clauses, " "), tablesUsed
}

// joinPath connects table to the already-joined set: a direct foreign key
// in either direction wins, otherwise the alphabetically smallest common
// parent is joined in first and table hangs off it.
func (g *Generator) joinPath(table string, joined map[string]bool, schema *Schema) ([]string, bool) {
	if clause, ok := directJoin(table, joined, schema); ok {
		joined[table] = true
		return []string{clause}, true
	}

	parent, ok := findCommonParentSorted(table, joined, schema)
	if !ok {
		return nil, false
	}

	var clauses []string
	if !joined[parent] {
		clause, ok := directJoin(parent, joined, schema)
		if !ok {
			return nil, false
		}
		joined[parent] = true
		clauses = append(clauses, clause)
	}
	clause, ok := directJoin(table, joined, schema)
	if !ok {
		return nil, false
	}
	joined[table] = true
	return append(clauses, clause), true
}

// directJoin finds a single foreign key between table and any joined
// table, preferring the child-to-parent direction.
func directJoin(table string, joined map[string]bool, schema *Schema) (string, bool) {
	info, ok := schema.Table(table)
	if ok {
		for _, col := range info.Columns {
			if col.IsForeignKey && joined[col.ForeignTable] {
				return fmt.Sprintf(
					`LEFT JOIN "%s" ON "%s"."%s" = "%s"."%s"`,
					sanitizeIdentifier(table),
					sanitizeIdentifier(table), sanitizeIdentifier(col.Name),
					sanitizeIdentifier(col.ForeignTable), sanitizeIdentifier(col.ForeignColumn),
				), true
			}
		}
	}

	joinedNames := sortedKeys(joined)
	for _, name := range joinedNames {
		other, ok := schema.Table(name)
		if !ok {
			continue
		}
		for _, col := range other.Columns {
			if col.IsForeignKey && col.ForeignTable == table {
				return fmt.Sprintf(
					`LEFT JOIN "%s" ON "%s"."%s" = "%s"."%s"`,
					sanitizeIdentifier(table),
					sanitizeIdentifier(name), sanitizeIdentifier(col.Name),
					sanitizeIdentifier(table), sanitizeIdentifier(col.ForeignColumn),
				), true
			}
		}
	}
	return "", false
}

// findCommonParentSorted returns the smallest-named table that both the
// candidate and at least one joined table reference by foreign key.
func findCommonParentSorted(table string, joined map[string]bool, schema *Schema) (string, bool) {
	candidateParents := parentTables(table, schema)
	if len(candidateParents) == 0 {
		return "", false
	}

	var common []string
	for _, name := range sortedKeys(joined) {
		for parent := range parentTables(name, schema) {
			if _, shared := candidateParents[parent]; shared && !contains(common, parent) {
				common = append(common, parent)
			}
		}
	}
	if len(common) == 0 {
		return "", false
	}
	sort.Strings(common)
	return common[0], true
}

func parentTables(table string, schema *Schema) map[string]struct{} {
	parents := make(map[string]struct{})
	info, ok := schema.Table(table)
	if !ok {
		return parents
	}
	for _, col := range info.Columns {
		if col.IsForeignKey && col.ForeignTable != "" {
			parents[col.ForeignTable] = struct{}{}
		}
	}
	return parents
}

func (g *Generator) buildWhere(intent *ParsedIntent, schema *Schema, tablesUsed []string, params map[string]any) string {
	var conditions []string
	paramIndex := 0

	for _, filter := range intent.Filters {
		op := normalizeKeyword(filter.Operator)
		if _, ok := allowedOperators[op]; !ok {
			g.logger.Warn("skipping disallowed operator", slog.String("operator", filter.Operator))
			continue
		}
		column := quoteColumn(filter.Column)

		switch op {
		case "IS NULL", "IS NOT NULL":
			conditions = append(conditions, fmt.Sprintf("%s %s", column, op))
		case "IN", "NOT IN":
			values := toSlice(filter.Value)
			if len(values) == 0 {
				continue
			}
			var placeholders []string
			for _, value := range values {
				paramIndex++
				name := fmt.Sprintf("in%d", paramIndex)
				params[name] = value
				placeholders = append(placeholders, ":"+name)
			}
			conditions = append(conditions, fmt.Sprintf("%s %s (%s)", column, op, strings.Join(placeholders, ", ")))
		case "BETWEEN":
			bounds := toSlice(filter.Value)
			if len(bounds) != 2 {
				g.logger.Warn("skipping BETWEEN filter without exactly two bounds",
					slog.String("column", filter.Column))
				continue
			}
			paramIndex++
			low := fmt.Sprintf("bt%d", paramIndex)
			paramIndex++
			high := fmt.Sprintf("bt%d", paramIndex)
			params[low] = bounds[0]
			params[high] = bounds[1]
			conditions = append(conditions, fmt.Sprintf("%s BETWEEN :%s AND :%s", column, low, high))
		case "LIKE", "ILIKE":
			paramIndex++
			name := fmt.Sprintf("like%d", paramIndex)
			params[name] = filter.Value
			conditions = append(conditions, fmt.Sprintf("%s %s :%s", column, op, name))
		default:
			paramIndex++
			name := fmt.Sprintf("f%d", paramIndex)
			params[name] = filter.Value
			conditions = append(conditions, fmt.Sprintf("%s %s :%s", column, op, name))
		}
	}

	if intent.DateRange != nil {
		dateColumn := intent.DateRange.Column
		if dateColumn == "" {
			dateColumn = findDateColumn(schema, tablesUsed)
		}
		if dateColumn != "" {
			quoted := quoteColumn(dateColumn)
			if intent.DateRange.StartDate != "" {
				params["date_start"] = intent.DateRange.StartDate
				conditions = append(conditions, fmt.Sprintf("%s >= :date_start", quoted))
			}
			if intent.DateRange.EndDate != "" {
				params["date_end"] = intent.DateRange.EndDate
				conditions = append(conditions, fmt.Sprintf("%s <= :date_end", quoted))
			}
		} else {
			g.logger.Warn("date range requested but no date column found",
				slog.String("period", intent.DateRange.PeriodDescription))
		}
	}

	return strings.Join(conditions, " AND ")
}

// findDateColumn picks the first date-typed or date-named column across
// the used tables, in table order.
func findDateColumn(schema *Schema, tablesUsed []string) string {
	for _, name := range tablesUsed {
		table, ok := schema.Table(name)
		if !ok {
			continue
		}
		for _, col := range table.Columns {
			dataType := strings.ToLower(col.DataType)
			if strings.Contains(dataType, "date") || strings.Contains(dataType, "timestamp") {
				return name + "." + col.Name
			}
		}
		for _, col := range table.Columns {
			lowered := strings.ToLower(col.Name)
			if strings.Contains(lowered, "date") || strings.HasSuffix(lowered, "_at") {
				return name + "." + col.Name
			}
		}
	}
	return ""
}

func (g *Generator) buildGroupBy(intent *ParsedIntent) string {
	if len(intent.GroupBy) == 0 {
		return ""
	}
	parts := make([]string, 0, len(intent.GroupBy))
	for _, col := range intent.GroupBy {
		parts = append(parts, quoteColumn(col))
	}
	return strings.Join(parts, ", ")
}

func (g *Generator) buildOrderBy(intent *ParsedIntent) string {
	if len(intent.OrderBy) == 0 {
		return ""
	}
	parts := make([]string, 0, len(intent.OrderBy))
	for _, order := range intent.OrderBy {
		direction := strings.ToUpper(strings.TrimSpace(order.Direction))
		if direction != "ASC" {
			direction = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", quoteColumn(order.Column), direction))
	}
	return strings.Join(parts, ", ")
}

func (g *Generator) describe(intent *ParsedIntent, tablesUsed []string) string {
	var parts []string
	if len(intent.Aggregations) > 0 {
		var names []string
		for _, agg := range intent.Aggregations {
			names = append(names, strings.ToUpper(agg.Func))
		}
		parts = append(parts, "Aggregating: "+strings.Join(names, ", "))
	}
	parts = append(parts, "From tables: "+strings.Join(tablesUsed, ", "))
	if len(intent.Filters) > 0 {
		var columns []string
		for _, filter := range intent.Filters {
			columns = append(columns, filter.Column)
		}
		parts = append(parts, "Filtered by: "+strings.Join(columns, ", "))
	}
	if len(intent.GroupBy) > 0 {
		parts = append(parts, "Grouped by: "+strings.Join(intent.GroupBy, ", "))
	}
	if intent.DateRange != nil && intent.DateRange.PeriodDescription != "" {
		parts = append(parts, "Period: "+intent.DateRange.PeriodDescription)
	}
	return strings.Join(parts, " | ")
}

// quoteColumn quotes a possibly table-qualified column reference.
func quoteColumn(column string) string {
	if column == "*" {
		return "*"
	}
	parts := strings.Split(column, ".")
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		quoted = append(quoted, `"`+sanitizeIdentifier(part)+`"`)
	}
	return strings.Join(quoted, ".")
}

func toSlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case nil:
		return nil
	default:
		return []any{v}
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
