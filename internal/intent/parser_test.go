package intent

import (
	"encoding/json"
	"reflect"
	"slices"
	"testing"
)

func TestParseShowAllUsers(t *testing.T) {
	parsed := Parse("show all users")

	if parsed.QueryType != QueryTypeSelect {
		t.Fatalf("QueryType = %q", parsed.QueryType)
	}
	if !slices.Contains(parsed.Tables, "users") {
		t.Fatalf("Tables = %v", parsed.Tables)
	}
	if parsed.Confidence < 0.5 {
		t.Fatalf("Confidence = %v", parsed.Confidence)
	}
	if slices.Contains(parsed.Suggestions, SuggestAmbiguous) {
		t.Fatalf("unexpected ambiguity suggestion: %v", parsed.Suggestions)
	}
	if !slices.Contains(parsed.Suggestions, SuggestColumns) {
		t.Fatalf("Suggestions = %v", parsed.Suggestions)
	}
}

func TestParseHowManyOrders(t *testing.T) {
	parsed := Parse("how many orders are there")

	if parsed.QueryType != QueryTypeCount {
		t.Fatalf("QueryType = %q", parsed.QueryType)
	}
	if !slices.Contains(parsed.Tables, "orders") {
		t.Fatalf("Tables = %v", parsed.Tables)
	}
	want := []Aggregation{{Function: "count", Column: "orders"}}
	if !reflect.DeepEqual(parsed.Aggregations, want) {
		t.Fatalf("Aggregations = %+v", parsed.Aggregations)
	}
	if parsed.Confidence != 0.6 {
		t.Fatalf("Confidence = %v", parsed.Confidence)
	}
}

func TestParseDeleteWithFilter(t *testing.T) {
	parsed := Parse("delete record from items where id = 5")

	if parsed.QueryType != QueryTypeDelete {
		t.Fatalf("QueryType = %q", parsed.QueryType)
	}
	if !slices.Contains(parsed.Tables, "items") {
		t.Fatalf("Tables = %v", parsed.Tables)
	}
	if len(parsed.Filters) == 0 {
		t.Fatal("expected at least one filter")
	}
	if parsed.Filters[0] != (Filter{Column: "id", Operator: "=", Value: "5"}) {
		t.Fatalf("Filters[0] = %+v", parsed.Filters[0])
	}
}

func TestParseUnknownText(t *testing.T) {
	parsed := Parse("hello there")

	if parsed.QueryType != QueryTypeUnknown {
		t.Fatalf("QueryType = %q", parsed.QueryType)
	}
	if parsed.Confidence != 0 {
		t.Fatalf("Confidence = %v", parsed.Confidence)
	}
	want := []string{SuggestTable, SuggestAction, SuggestAmbiguous}
	if !reflect.DeepEqual(parsed.Suggestions, want) {
		t.Fatalf("Suggestions = %v", parsed.Suggestions)
	}
}

func TestParseQueryTypes(t *testing.T) {
	tests := []struct {
		text string
		want QueryType
	}{
		{"count the customers", QueryTypeCount},
		{"what is the average of price in products", QueryTypeCount},
		{"list every product", QueryTypeSelect},
		{"retrieve orders from last week", QueryTypeSelect},
		{"add a new customer named bob", QueryTypeInsert},
		{"insert a row into items", QueryTypeInsert},
		{"change the email of user 5", QueryTypeUpdate},
		{"set price to 10 for products", QueryTypeUpdate},
		{"remove the row for bob", QueryTypeDelete},
		{"drop the items table", QueryTypeDelete},
		{"good morning", QueryTypeUnknown},
	}
	for _, tt := range tests {
		if got := Parse(tt.text).QueryType; got != tt.want {
			t.Fatalf("Parse(%q).QueryType = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestParseClassificationIsCaseInsensitive(t *testing.T) {
	parsed := Parse("  SHOW ALL Users  ")
	if parsed.QueryType != QueryTypeSelect || !slices.Contains(parsed.Tables, "users") {
		t.Fatalf("parsed = %+v", parsed)
	}
	if parsed.OriginalQuery != "  SHOW ALL Users  " {
		t.Fatalf("OriginalQuery = %q", parsed.OriginalQuery)
	}
}

func TestParseTablesFromIndicators(t *testing.T) {
	parsed := Parse("show all records in books")
	if !reflect.DeepEqual(parsed.Tables, []string{"books"}) {
		t.Fatalf("Tables = %v", parsed.Tables)
	}

	parsed = Parse("get rows from invoices joined with orders")
	if !reflect.DeepEqual(parsed.Tables, []string{"invoices", "orders"}) {
		t.Fatalf("Tables = %v", parsed.Tables)
	}
}

func TestParseColumns(t *testing.T) {
	parsed := Parse("show name, email from customers")
	if !reflect.DeepEqual(parsed.Columns, []string{"name", "email"}) {
		t.Fatalf("Columns = %v", parsed.Columns)
	}

	parsed = Parse("column bonus and salary column")
	if !reflect.DeepEqual(parsed.Columns, []string{"bonus", "salary"}) {
		t.Fatalf("Columns = %v", parsed.Columns)
	}
}

func TestParseFilterFamilies(t *testing.T) {
	parsed := Parse("find users where age > 30 and name is bob")
	if len(parsed.Filters) != 2 {
		t.Fatalf("Filters = %+v", parsed.Filters)
	}
	if parsed.Filters[0].Column != "age" || parsed.Filters[0].Operator != ">" {
		t.Fatalf("Filters[0] = %+v", parsed.Filters[0])
	}
	if parsed.Filters[1] != (Filter{Column: "name", Operator: "is", Value: "bob"}) {
		t.Fatalf("Filters[1] = %+v", parsed.Filters[1])
	}

	parsed = Parse("list products with price greater than 100")
	if len(parsed.Filters) != 1 || parsed.Filters[0] != (Filter{Column: "price", Operator: "greater than", Value: "100"}) {
		t.Fatalf("Filters = %+v", parsed.Filters)
	}
}

func TestParseSortAndLimit(t *testing.T) {
	parsed := Parse("list products order by price desc limit 5")
	if parsed.Sorting == nil || *parsed.Sorting != (Sort{Column: "price", Direction: SortDescending}) {
		t.Fatalf("Sorting = %+v", parsed.Sorting)
	}
	if parsed.Limit == nil || *parsed.Limit != 5 {
		t.Fatalf("Limit = %v", parsed.Limit)
	}

	parsed = Parse("show items sort by name")
	if parsed.Sorting == nil || parsed.Sorting.Direction != SortAscending {
		t.Fatalf("Sorting = %+v", parsed.Sorting)
	}

	tests := map[string]int{
		"top 3 customers":         3,
		"show 10 rows from items": 10,
		"first 7 orders":          7,
	}
	for text, want := range tests {
		limit := Parse(text).Limit
		if limit == nil || *limit != want {
			t.Fatalf("Parse(%q).Limit = %v, want %d", text, limit, want)
		}
	}
	if limit := Parse("show users limit 0").Limit; limit != nil {
		t.Fatalf("Limit = %d, want nil", *limit)
	}
}

func TestParseAggregationNormalization(t *testing.T) {
	parsed := Parse("total revenue and average of price and number of orders")
	want := []Aggregation{
		{Function: "avg", Column: "price"},
		{Function: "count", Column: "revenue"},
		{Function: "count", Column: "orders"},
	}
	if !reflect.DeepEqual(parsed.Aggregations, want) {
		t.Fatalf("Aggregations = %+v", parsed.Aggregations)
	}
}

func TestConfidenceIsWeightedSumOfSignals(t *testing.T) {
	inputs := []string{
		"",
		"hello",
		"show all users",
		"how many orders are there",
		"show name, email from customers where age > 30 order by name",
		"count of id in table users where id = 1 sort by id desc",
		"sum of price of products where price greater than 10 order by price show price column",
	}
	for _, text := range inputs {
		parsed := Parse(text)
		want := 0
		if parsed.QueryType != QueryTypeUnknown {
			want += 30
		}
		if len(parsed.Tables) > 0 {
			want += 20
		}
		if len(parsed.Columns) > 0 {
			want += 20
		}
		if len(parsed.Filters) > 0 {
			want += 15
		}
		if len(parsed.Aggregations) > 0 {
			want += 10
		}
		if parsed.Sorting != nil {
			want += 5
		}
		want = min(want, 100)
		if parsed.Confidence != float64(want)/100 {
			t.Fatalf("Parse(%q).Confidence = %v, want %v", text, parsed.Confidence, float64(want)/100)
		}
		if parsed.Confidence < 0 || parsed.Confidence > 1 {
			t.Fatalf("Parse(%q).Confidence out of range: %v", text, parsed.Confidence)
		}
	}
}

func TestCustomMatcherCascade(t *testing.T) {
	parser := NewParser(
		NewPatternMatcher(QueryTypeDescribe, `\b(describe|structure of)\b`),
		NewPatternMatcher(QueryTypeSelect, `\bshow\b`),
	)
	if got := parser.Parse("describe and show users").QueryType; got != QueryTypeDescribe {
		t.Fatalf("QueryType = %q", got)
	}
	if got := parser.Parse("how many users").QueryType; got != QueryTypeUnknown {
		t.Fatalf("QueryType = %q", got)
	}
}

func TestParsedQueryJSONShape(t *testing.T) {
	body, err := json.Marshal(Parse("hello"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"original_query", "query_type", "tables", "columns", "filters", "aggregations", "sorting", "limit", "confidence", "suggestions"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing key %q in %s", key, body)
		}
	}
	if decoded["tables"] == nil {
		t.Fatal("tables should encode as an empty list")
	}
}

func TestSQLSkeleton(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"show name, email from customers order by name desc limit 5", "SELECT name, email FROM customers ORDER BY name DESC LIMIT 5"},
		{"how many orders are there", "SELECT COUNT(orders) FROM orders"},
		{"find users where id = 5", "SELECT * FROM users WHERE id = '5'"},
		{"delete record from items where id = 5", unsupportedSkeleton},
	}
	for _, tt := range tests {
		if got := SQLSkeleton(Parse(tt.text)); got != tt.want {
			t.Fatalf("SQLSkeleton(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
