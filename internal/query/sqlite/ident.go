package sqlite

import (
	"fmt"
	"sort"
	"strings"
)

// Every table and column name interpolated into SQL text by this package goes
// through QuoteIdent. Values always travel as bind parameters.

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteIdents(values []string) []string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, QuoteIdent(value))
	}
	return quoted
}

func placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

// likeFilters renders column LIKE '%value%' predicates in a stable column order.
func likeFilters(filters map[string]string) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	columns := make([]string, 0, len(filters))
	for column := range filters {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	clauses := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for _, column := range columns {
		clauses = append(clauses, fmt.Sprintf("%s LIKE ?", QuoteIdent(column)))
		args = append(args, "%"+filters[column]+"%")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildCount(table string, filters map[string]string) (string, []any) {
	where, args := likeFilters(filters)
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", QuoteIdent(table), where), args
}

func buildPage(request pageSpec) (string, []any) {
	where, args := likeFilters(request.filters)
	var builder strings.Builder
	builder.WriteString("SELECT * FROM ")
	builder.WriteString(QuoteIdent(request.table))
	builder.WriteString(where)
	if request.sortBy != "" {
		builder.WriteString(" ORDER BY ")
		builder.WriteString(QuoteIdent(request.sortBy))
		builder.WriteString(" ")
		builder.WriteString(request.sortOrder)
	}
	builder.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, request.limit, request.offset)
	return builder.String(), args
}

func buildInsert(table string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoteIdents(columns), ", "), placeholders(len(columns)))
}

func buildUpdate(table string, columns []string, idColumn string) string {
	assignments := make([]string, 0, len(columns))
	for _, column := range columns {
		assignments = append(assignments, QuoteIdent(column)+" = ?")
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		QuoteIdent(table), strings.Join(assignments, ", "), QuoteIdent(idColumn))
}

func buildDelete(table, idColumn string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", QuoteIdent(table), QuoteIdent(idColumn))
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
