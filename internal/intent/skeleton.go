package intent

import (
	"fmt"
	"strings"
)

const unsupportedSkeleton = "-- Unable to generate SQL structure for this query type"

// SQLSkeleton renders a draft SELECT from a parsed query. It is a hint for the
// caller, not a query fit for execution.
func SQLSkeleton(parsed ParsedQuery) string {
	if parsed.QueryType != QueryTypeSelect && parsed.QueryType != QueryTypeCount {
		return unsupportedSkeleton
	}

	projection := "*"
	if len(parsed.Columns) > 0 {
		projection = strings.Join(parsed.Columns, ", ")
	}
	if len(parsed.Aggregations) > 0 {
		parts := make([]string, 0, len(parsed.Aggregations))
		for _, aggregation := range parsed.Aggregations {
			parts = append(parts, fmt.Sprintf("%s(%s)", strings.ToUpper(aggregation.Function), aggregation.Column))
		}
		projection = strings.Join(parts, ", ")
	}

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(projection)
	if len(parsed.Tables) > 0 {
		builder.WriteString(" FROM ")
		builder.WriteString(parsed.Tables[0])
	}
	if len(parsed.Filters) > 0 {
		predicates := make([]string, 0, len(parsed.Filters))
		for _, filter := range parsed.Filters {
			predicates = append(predicates, fmt.Sprintf("%s %s '%s'", filter.Column, filter.Operator, filter.Value))
		}
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(predicates, " AND "))
	}
	if parsed.Sorting != nil {
		fmt.Fprintf(&builder, " ORDER BY %s %s", parsed.Sorting.Column, parsed.Sorting.Direction)
	}
	if parsed.Limit != nil {
		fmt.Fprintf(&builder, " LIMIT %d", *parsed.Limit)
	}
	return builder.String()
}
