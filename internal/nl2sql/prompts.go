package nl2sql

// Prompts sent to the language model. Each one demands a single strict
// JSON object; extractJSON tolerates fenced or prefixed output anyway.

const detectionPrompt = `You are an intent classifier for a data analytics system.

Analyze the following message and decide whether the user wants to query data from a database.

MESSAGES THAT DO REQUIRE DATA:
- Questions about quantities, totals, sums, averages
- Comparisons between categories or periods
- Rankings (top, highest, lowest, ordered)
- Temporal trends
- Specific filters ("open tickets", "equipment with failures")
- Record listings

MESSAGES THAT DO NOT REQUIRE DATA:
- Greetings or casual conversation
- General questions about the system
- Requests for help or explanations
- Theoretical questions

USER MESSAGE:
%s

IMPORTANT: Respond ONLY with valid JSON. No text before or after.
` + "```json" + `
{
    "requires_data": true,
    "confidence": 0.0,
    "reasoning": "brief explanation"
}
` + "```"

const intentParsingPrompt = `You are an expert SQL query parser.

AVAILABLE DATABASE SCHEMA:
%s

CURRENT DATE: %s

Analyze the user question and extract the information needed to build a SQL query.

For relative dates such as "last month", "this year", "last quarter",
compute the exact dates from the current date.

USER QUESTION:
%s

IMPORTANT: Respond ONLY with valid JSON. No text before or after.
` + "```json" + `
{
    "tables": ["table1", "table2"],
    "select_columns": ["col1", "col2"],
    "aggregations": [
        {"func": "SUM/COUNT/AVG/MAX/MIN", "column": "column", "alias": "name"}
    ],
    "filters": [
        {"column": "column", "operator": "=/>/</>=/<=/LIKE/IN/IS NULL/IS NOT NULL", "value": "value"}
    ],
    "joins": [
        {"table1": "t1", "col1": "c1", "table2": "t2", "col2": "c2"}
    ],
    "group_by": ["col1", "col2"],
    "order_by": [
        {"column": "column", "direction": "ASC/DESC"}
    ],
    "limit": 0,
    "date_range": {
        "column": "date_column_to_filter",
        "start_date": "YYYY-MM-DD",
        "end_date": "YYYY-MM-DD",
        "period_description": "description"
    },
    "confidence": 0.0,
    "reasoning": "parsing explanation"
}
` + "```" + `

IMPORTANT RULES:
1. Only use tables and columns that exist in the schema
2. When ambiguous, prefer the most common interpretation
3. For "how many" questions, use COUNT(*)
4. For "total" or "sum" questions, use SUM()
5. If no order is specified, order by the most relevant column DESC
6. Omit date_range entirely when the question has no time period`
