package nl2sql

import "time"

// ColumnInfo describes one discovered column. Immutable once discovered.
type ColumnInfo struct {
	Name          string   `json:"name"`
	DataType      string   `json:"data_type"`
	IsNullable    bool     `json:"is_nullable"`
	IsPrimaryKey  bool     `json:"is_primary_key"`
	IsForeignKey  bool     `json:"is_foreign_key"`
	ForeignTable  string   `json:"foreign_table,omitempty"`
	ForeignColumn string   `json:"foreign_column,omitempty"`
	SampleValues  []string `json:"sample_values,omitempty"`
}

type TableInfo struct {
	Name        string       `json:"name"`
	Columns     []ColumnInfo `json:"columns"`
	RowCount    int64        `json:"row_count"`
	Description string       `json:"description,omitempty"`
}

// Schema is the discovered database structure. Built once per discovery
// call; callers may cache it, freshness is their concern.
type Schema struct {
	Tables       []TableInfo `json:"tables"`
	DiscoveredAt time.Time   `json:"discovered_at"`
}

func (s *Schema) Table(name string) (TableInfo, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return TableInfo{}, false
}

func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

type Aggregation struct {
	Func   string `json:"func"`
	Column string `json:"column"`
	Alias  string `json:"alias"`
}

type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type Join struct {
	Table1 string `json:"table1"`
	Col1   string `json:"col1"`
	Table2 string `json:"table2"`
	Col2   string `json:"col2"`
}

type OrderBy struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

type DateRange struct {
	Column            string `json:"column"`
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	PeriodDescription string `json:"period_description"`
}

// ParsedIntent is the structured interpretation of a user question.
// It is mutable only during schema validation, which strips invalid
// table references.
type ParsedIntent struct {
	Tables          []string      `json:"tables"`
	SelectColumns   []string      `json:"select_columns"`
	Aggregations    []Aggregation `json:"aggregations"`
	Filters         []Filter      `json:"filters"`
	Joins           []Join        `json:"joins"`
	GroupBy         []string      `json:"group_by"`
	OrderBy         []OrderBy     `json:"order_by"`
	Limit           int           `json:"limit"`
	DateRange       *DateRange    `json:"date_range,omitempty"`
	Confidence      float64       `json:"confidence"`
	Reasoning       string        `json:"reasoning"`
	OriginalMessage string        `json:"original_message"`
}

// Query is generated SQL with named :param placeholders. A value object,
// not an executable handle.
type Query struct {
	SQL         string         `json:"sql"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
	TablesUsed  []string       `json:"tables_used"`
}

// Result holds one execution outcome. Cell values are restricted to
// nil, bool, int64, float64 and string after serialization.
type Result struct {
	Success         bool             `json:"success"`
	Data            []map[string]any `json:"data"`
	RowCount        int              `json:"row_count"`
	ColumnNames     []string         `json:"column_names"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}
