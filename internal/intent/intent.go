// Package intent turns free-form questions into a partial, structured query
// description. Parsing is heuristic and never fails: an all-unknown result is
// a valid answer.
package intent

type QueryType string

const (
	QueryTypeSelect    QueryType = "select"
	QueryTypeInsert    QueryType = "insert"
	QueryTypeUpdate    QueryType = "update"
	QueryTypeDelete    QueryType = "delete"
	QueryTypeCreate    QueryType = "create"
	QueryTypeDrop      QueryType = "drop"
	QueryTypeDescribe  QueryType = "describe"
	QueryTypeCount     QueryType = "count"
	QueryTypeAggregate QueryType = "aggregate"
	QueryTypeUnknown   QueryType = "unknown"
)

const (
	SortAscending  = "ASC"
	SortDescending = "DESC"
)

type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type Aggregation struct {
	Function string `json:"function"`
	Column   string `json:"column"`
}

type Sort struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

// ParsedQuery is request scoped and is not modified after Parse returns.
type ParsedQuery struct {
	OriginalQuery string        `json:"original_query"`
	QueryType     QueryType     `json:"query_type"`
	Tables        []string      `json:"tables"`
	Columns       []string      `json:"columns"`
	Filters       []Filter      `json:"filters"`
	Aggregations  []Aggregation `json:"aggregations"`
	Sorting       *Sort         `json:"sorting"`
	Limit         *int          `json:"limit"`
	Confidence    float64       `json:"confidence"`
	Suggestions   []string      `json:"suggestions"`
}

const (
	SuggestTable     = "Consider specifying which table you want to query"
	SuggestAction    = "Try using clearer action words like 'show', 'find', 'count', etc."
	SuggestAmbiguous = "Your query might be ambiguous. Try being more specific about tables and columns"
	SuggestColumns   = "Specify which columns you want to see, or use 'all columns'"
)
