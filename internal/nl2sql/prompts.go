package nl2sql

import (
	"fmt"
	"strings"

	"github.com/sqliteagent/sqliteagent/internal/query"
)

const (
	translateSystemPrompt = `You are an expert SQL query generator. Convert natural language requests to SQLite queries.

Database Schema:
%s

Rules:
1. Generate only valid SQLite syntax
2. Use proper table and column names from the schema
3. Include appropriate WHERE clauses for filtering
4. Use LIMIT for large result sets
5. Return only the SQL query, no explanations
6. If the request is unclear, generate the most reasonable interpretation

Respond with only the SQL query.`

	translateUserPrompt = "Request: %s\n\nReturn the SQL query."

	schemaSystemPrompt = `You are an expert database designer. Create a SQLite database schema based on the natural language description provided.

Rules:
1. Generate CREATE TABLE statements with appropriate data types
2. Include primary keys, foreign keys, and constraints where appropriate
3. Use proper SQLite data types (TEXT, INTEGER, REAL, BLOB)
4. Add indexes for commonly queried columns
5. Include sample INSERT statements for each table (2-3 records per table)
6. Return a JSON object with the following structure:
{
  "tables": [
    {
      "name": "table_name",
      "create_sql": "CREATE TABLE statement",
      "sample_data": ["INSERT statements"]
    }
  ],
  "indexes": ["CREATE INDEX statements"],
  "description": "Brief description of the database structure"
}

Ensure all SQL is valid SQLite syntax.`

	schemaUserPrompt = "Create a database schema for: %s"

	explainSystemPrompt = `You are a data analyst. Explain SQL query results in plain English.
Provide insights about the data patterns, key findings, and answer the original question.
Be concise but informative.`

	explainUserPrompt = `Original Question: %s
SQL Query: %s
Results Summary: %s
Sample Data: %s

Please explain what these results mean and answer the original question.`

	optimizeSystemPrompt = `You are a database optimization expert. Analyze SQL queries and suggest improvements.

Database Schema:
%s

Provide specific optimization suggestions including:
1. Index recommendations
2. Query rewriting suggestions
3. Performance considerations
4. Best practices

Be practical and specific.`

	optimizeUserPrompt = "Analyze this SQL query for optimization opportunities:\n\n%s"

	safetySystemPrompt = `You are a SQL security expert. Analyze queries for potential security risks.

Check for:
1. SQL injection patterns
2. Dangerous operations (DROP, DELETE without WHERE, etc.)
3. Performance risks (missing LIMIT on large tables)
4. Data exposure risks

Respond with JSON format:
{
  "safe": true/false,
  "risk_level": "low"/"medium"/"high",
  "warnings": ["list of specific warnings"],
  "recommendations": ["list of recommendations"]
}`

	safetyUserPrompt = "Analyze this SQL query: %s"
)

// FormatSchema renders a snapshot the way the prompts expect it.
func FormatSchema(snapshot query.SchemaSnapshot) string {
	var builder strings.Builder
	for _, table := range snapshot.Tables {
		fmt.Fprintf(&builder, "Table: %s\n", table.Name)
		for _, column := range table.Columns {
			fmt.Fprintf(&builder, "  - %s (%s)", column.Name, column.Type)
			if column.PrimaryKey {
				builder.WriteString(" [PRIMARY KEY]")
			}
			if column.NotNull {
				builder.WriteString(" [NOT NULL]")
			}
			builder.WriteString("\n")
		}
		fmt.Fprintf(&builder, "  Rows: %d\n\n", table.RowCount)
	}
	return strings.TrimRight(builder.String(), "\n")
}

func stripFences(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		trimmed = strings.TrimPrefix(trimmed, "```")
		for _, tag := range []string{"json", "sqlite", "sql"} {
			if strings.HasPrefix(trimmed, tag+" ") {
				trimmed = trimmed[len(tag):]
				break
			}
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
