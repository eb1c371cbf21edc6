package nl2sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	tablesQuery = `
SELECT c.relname, GREATEST(c.reltuples::bigint, 0)
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind = 'r'
ORDER BY c.relname ASC`

	columnsQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

	primaryKeysQuery = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'PRIMARY KEY'`

	foreignKeysQuery = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'FOREIGN KEY'`
)

// internalTables is the service's own bookkeeping, hidden from the NL2SQL
// pipeline unless explicitly included.
var internalTables = map[string]struct{}{
	"conversation":              {},
	"message":                   {},
	"chatapi_schema_migrations": {},
}

type DiscoveryConfig struct {
	Dialect               string
	Schema                string
	SampleValuesPerCol    int
	IncludeInternalTables bool
}

// Discovery introspects the live database into an immutable Schema.
// Discovery is idempotent and keeps no cache.
type Discovery struct {
	db     *sql.DB
	cfg    DiscoveryConfig
	logger *slog.Logger
}

func NewDiscovery(db *sql.DB, cfg DiscoveryConfig, logger *slog.Logger) *Discovery {
	if cfg.Dialect == "" {
		cfg.Dialect = "postgres"
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{db: db, cfg: cfg, logger: logger}
}

// Discover enumerates user tables with columns, key metadata, approximate
// row counts and optional sample values. Any introspection error fails the
// whole call; a partial schema is never returned.
func (d *Discovery) Discover(ctx context.Context) (*Schema, error) {
	if d.cfg.Dialect != "postgres" {
		return nil, stageError(StageSchemaDiscovery, "dialect %q: %w", d.cfg.Dialect, ErrUnsupportedDatabase)
	}

	tables, err := d.listTables(ctx)
	if err != nil {
		return nil, err
	}

	columnsByTable, err := d.listColumns(ctx)
	if err != nil {
		return nil, err
	}
	primaryKeys, err := d.listPrimaryKeys(ctx)
	if err != nil {
		return nil, err
	}
	foreignKeys, err := d.listForeignKeys(ctx)
	if err != nil {
		return nil, err
	}

	schema := &Schema{DiscoveredAt: time.Now().UTC()}
	for _, table := range tables {
		columns := columnsByTable[table.Name]
		for i := range columns {
			key := table.Name + "." + columns[i].Name
			if _, ok := primaryKeys[key]; ok {
				columns[i].IsPrimaryKey = true
			}
			if ref, ok := foreignKeys[key]; ok {
				columns[i].IsForeignKey = true
				columns[i].ForeignTable = ref.table
				columns[i].ForeignColumn = ref.column
			}
			if d.cfg.SampleValuesPerCol > 0 {
				samples, err := d.sampleValues(ctx, table.Name, columns[i].Name)
				if err != nil {
					return nil, err
				}
				columns[i].SampleValues = samples
			}
		}
		table.Columns = columns
		schema.Tables = append(schema.Tables, table)
	}

	d.logger.InfoContext(ctx, "schema discovered",
		slog.Int("tables", len(schema.Tables)),
		slog.String("schema", d.cfg.Schema),
	)
	return schema, nil
}

func (d *Discovery) listTables(ctx context.Context) ([]TableInfo, error) {
	rows, err := d.db.QueryContext(ctx, tablesQuery, d.cfg.Schema)
	if err != nil {
		return nil, stageError(StageSchemaDiscovery, "query tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []TableInfo
	for rows.Next() {
		var table TableInfo
		if err := rows.Scan(&table.Name, &table.RowCount); err != nil {
			return nil, stageError(StageSchemaDiscovery, "scan table row: %w", err)
		}
		if !d.cfg.IncludeInternalTables {
			if _, internal := internalTables[table.Name]; internal {
				continue
			}
			if strings.HasPrefix(table.Name, "pg_") || strings.HasPrefix(table.Name, "sql_") {
				continue
			}
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, stageError(StageSchemaDiscovery, "iterate table rows: %w", err)
	}
	return tables, nil
}

func (d *Discovery) listColumns(ctx context.Context) (map[string][]ColumnInfo, error) {
	rows, err := d.db.QueryContext(ctx, columnsQuery, d.cfg.Schema)
	if err != nil {
		return nil, stageError(StageSchemaDiscovery, "query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make(map[string][]ColumnInfo)
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, stageError(StageSchemaDiscovery, "scan column row: %w", err)
		}
		columns[tableName] = append(columns[tableName], ColumnInfo{
			Name:       columnName,
			DataType:   dataType,
			IsNullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, stageError(StageSchemaDiscovery, "iterate column rows: %w", err)
	}
	return columns, nil
}

func (d *Discovery) listPrimaryKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := d.db.QueryContext(ctx, primaryKeysQuery, d.cfg.Schema)
	if err != nil {
		return nil, stageError(StageSchemaDiscovery, "query primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]struct{})
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, stageError(StageSchemaDiscovery, "scan primary key row: %w", err)
		}
		keys[tableName+"."+columnName] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, stageError(StageSchemaDiscovery, "iterate primary key rows: %w", err)
	}
	return keys, nil
}

type foreignKeyRef struct {
	table  string
	column string
}

func (d *Discovery) listForeignKeys(ctx context.Context) (map[string]foreignKeyRef, error) {
	rows, err := d.db.QueryContext(ctx, foreignKeysQuery, d.cfg.Schema)
	if err != nil {
		return nil, stageError(StageSchemaDiscovery, "query foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]foreignKeyRef)
	for rows.Next() {
		var tableName, columnName, foreignTable, foreignColumn string
		if err := rows.Scan(&tableName, &columnName, &foreignTable, &foreignColumn); err != nil {
			return nil, stageError(StageSchemaDiscovery, "scan foreign key row: %w", err)
		}
		keys[tableName+"."+columnName] = foreignKeyRef{table: foreignTable, column: foreignColumn}
	}
	if err := rows.Err(); err != nil {
		return nil, stageError(StageSchemaDiscovery, "iterate foreign key rows: %w", err)
	}
	return keys, nil
}

// sampleValues collects a handful of distinct values used only as hints in
// the schema prompt, never echoed into generated SQL.
func (d *Discovery) sampleValues(ctx context.Context, table, column string) ([]string, error) {
	safeTable := sanitizeIdentifier(table)
	safeColumn := sanitizeIdentifier(column)
	safeSchema := sanitizeIdentifier(d.cfg.Schema)
	query := fmt.Sprintf(
		`SELECT DISTINCT "%s" FROM "%s"."%s" WHERE "%s" IS NOT NULL LIMIT %d`,
		safeColumn, safeSchema, safeTable, safeColumn, d.cfg.SampleValuesPerCol,
	)

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, stageError(StageSchemaDiscovery, "sample %s.%s: %w", table, column, err)
	}
	defer func() { _ = rows.Close() }()

	var samples []string
	for rows.Next() {
		var value any
		if err := rows.Scan(&value); err != nil {
			return nil, stageError(StageSchemaDiscovery, "scan sample for %s.%s: %w", table, column, err)
		}
		if value == nil {
			continue
		}
		if raw, ok := value.([]byte); ok {
			value = string(raw)
		}
		samples = append(samples, fmt.Sprintf("%v", value))
	}
	if err := rows.Err(); err != nil {
		return nil, stageError(StageSchemaDiscovery, "iterate samples for %s.%s: %w", table, column, err)
	}
	return samples, nil
}

// SchemaPrompt renders a compact natural-language description of the
// schema sized for a language-model context window.
func SchemaPrompt(schema *Schema) string {
	var b strings.Builder
	b.WriteString("Database tables:\n")

	var relationships []string
	for _, table := range schema.Tables {
		fmt.Fprintf(&b, "\nTABLE %s (~%d rows)\n", table.Name, table.RowCount)
		for _, col := range table.Columns {
			attrs := []string{col.DataType}
			if col.IsPrimaryKey {
				attrs = append(attrs, "primary key")
			}
			if col.IsNullable {
				attrs = append(attrs, "nullable")
			}
			fmt.Fprintf(&b, "  - %s: %s", col.Name, strings.Join(attrs, ", "))
			if len(col.SampleValues) > 0 {
				fmt.Fprintf(&b, " (e.g. %s)", strings.Join(col.SampleValues, ", "))
			}
			b.WriteString("\n")
			if col.IsForeignKey && col.ForeignTable != "" {
				relationships = append(relationships, fmt.Sprintf(
					"%s.%s -> %s.%s", table.Name, col.Name, col.ForeignTable, col.ForeignColumn))
			}
		}
	}

	if len(relationships) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, rel := range relationships {
			b.WriteString("  " + rel + "\n")
		}
	}
	return b.String()
}
