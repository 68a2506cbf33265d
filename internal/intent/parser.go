package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:table|from)\s+(\w+)`),
		regexp.MustCompile(`\b(?:in|on)\s+(\w+)(?:\s+table)?\b`),
	}
	columnPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:column|field)\s+(\w+)`),
		regexp.MustCompile(`\b(\w+)\s+(?:column|field)\b`),
	}
	projectionPattern = regexp.MustCompile(`\b(?:show|get|display)\s+(\w+(?:,\s*\w+)*)`)
	filterPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`\bwhere\s+(\w+)\s*(>=|<=|!=|=|>|<|like)\s*([\w\s'"]+)`),
		regexp.MustCompile(`\b(\w+)\s+(is|equals?|contains?)\s+([\w\s'"]+)`),
		regexp.MustCompile(`\b(\w+)\s+(greater than|less than|equal to)\s+([\w\s'"]+)`),
	}
	aggregationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(count|sum|average|avg|max|min)\s+(?:of\s+)?(\w+)`),
		regexp.MustCompile(`\b(total|number of)\s+(\w+)`),
		regexp.MustCompile(`\b(how many)\s+(\w+)`),
	}
	sortPattern   = regexp.MustCompile(`\b(?:order|sort)\s+by\s+(\w+)(?:\s+(ascending|descending|asc|desc)\b)?`)
	limitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\blimit\s+(\d+)`),
		regexp.MustCompile(`\btop\s+(\d+)`),
		regexp.MustCompile(`\bfirst\s+(\d+)`),
		regexp.MustCompile(`\b(\d+)\s+rows?\b`),
	}

	commonTables = []string{"users", "products", "orders", "customers", "items", "data"}

	tableStopwords = map[string]struct{}{
		"table": {}, "the": {}, "a": {}, "an": {}, "all": {}, "each": {}, "every": {},
		"my": {}, "our": {}, "this": {}, "that": {}, "which": {}, "where": {},
	}
	columnStopwords = map[string]struct{}{
		"all": {}, "every": {}, "each": {}, "me": {}, "the": {}, "a": {}, "an": {},
		"column": {}, "field": {},
	}
)

// Confidence weights in hundredths so the sum stays exact.
const (
	weightType        = 30
	weightTable       = 20
	weightColumn      = 20
	weightFilter      = 15
	weightAggregation = 10
	weightSort        = 5

	ambiguityThreshold = 50
)

type Parser struct {
	matchers []TypeMatcher
}

// NewParser builds a parser over the given classification cascade, or the
// default cascade when none is given.
func NewParser(matchers ...TypeMatcher) *Parser {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Parser{matchers: matchers}
}

var defaultParser = NewParser()

func Parse(text string) ParsedQuery {
	return defaultParser.Parse(text)
}

func (p *Parser) Parse(text string) ParsedQuery {
	lower := strings.ToLower(strings.TrimSpace(text))

	parsed := ParsedQuery{
		OriginalQuery: text,
		QueryType:     p.classify(lower),
		Tables:        extractTables(lower),
		Columns:       extractColumns(lower),
		Filters:       extractFilters(lower),
		Aggregations:  extractAggregations(lower),
		Sorting:       extractSort(lower),
		Limit:         extractLimit(lower),
	}
	points := confidencePoints(parsed)
	parsed.Confidence = float64(points) / 100
	parsed.Suggestions = suggestions(parsed, points)
	return parsed
}

func (p *Parser) classify(text string) QueryType {
	for _, matcher := range p.matchers {
		if matcher.Match(text) {
			return matcher.QueryType()
		}
	}
	return QueryTypeUnknown
}

func extractTables(text string) []string {
	tables := newOrderedSet()
	for _, pattern := range tablePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if _, skip := tableStopwords[match[1]]; skip {
				continue
			}
			tables.add(match[1])
		}
	}
	for _, word := range commonTables {
		if strings.Contains(text, word) {
			tables.add(word)
		}
	}
	return tables.values()
}

func extractColumns(text string) []string {
	columns := newOrderedSet()
	for _, pattern := range columnPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if _, skip := columnStopwords[match[1]]; skip {
				continue
			}
			columns.add(match[1])
		}
	}
	for _, match := range projectionPattern.FindAllStringSubmatch(text, -1) {
		for _, column := range strings.Split(match[1], ",") {
			column = strings.TrimSpace(column)
			if _, skip := columnStopwords[column]; skip || column == "" {
				continue
			}
			columns.add(column)
		}
	}
	return columns.values()
}

func extractFilters(text string) []Filter {
	filters := make([]Filter, 0)
	for _, pattern := range filterPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			filters = append(filters, Filter{
				Column:   match[1],
				Operator: match[2],
				Value:    strings.TrimSpace(match[3]),
			})
		}
	}
	return filters
}

func extractAggregations(text string) []Aggregation {
	aggregations := make([]Aggregation, 0)
	for _, pattern := range aggregationPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			aggregations = append(aggregations, Aggregation{
				Function: normalizeFunction(match[1]),
				Column:   match[2],
			})
		}
	}
	return aggregations
}

func normalizeFunction(function string) string {
	switch function {
	case "total", "number of", "how many":
		return "count"
	case "average":
		return "avg"
	default:
		return function
	}
}

func extractSort(text string) *Sort {
	match := sortPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	direction := SortAscending
	if match[2] == "desc" || match[2] == "descending" {
		direction = SortDescending
	}
	return &Sort{Column: match[1], Direction: direction}
}

func extractLimit(text string) *int {
	for _, pattern := range limitPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value, err := strconv.Atoi(match[1])
		if err != nil || value <= 0 {
			continue
		}
		return &value
	}
	return nil
}

func confidencePoints(parsed ParsedQuery) int {
	points := 0
	if parsed.QueryType != QueryTypeUnknown {
		points += weightType
	}
	if len(parsed.Tables) > 0 {
		points += weightTable
	}
	if len(parsed.Columns) > 0 {
		points += weightColumn
	}
	if len(parsed.Filters) > 0 {
		points += weightFilter
	}
	if len(parsed.Aggregations) > 0 {
		points += weightAggregation
	}
	if parsed.Sorting != nil {
		points += weightSort
	}
	return min(points, 100)
}

func suggestions(parsed ParsedQuery, points int) []string {
	out := make([]string, 0)
	if len(parsed.Tables) == 0 {
		out = append(out, SuggestTable)
	}
	if parsed.QueryType == QueryTypeUnknown {
		out = append(out, SuggestAction)
	}
	if points < ambiguityThreshold {
		out = append(out, SuggestAmbiguous)
	}
	if parsed.QueryType == QueryTypeSelect && len(parsed.Columns) == 0 {
		out = append(out, SuggestColumns)
	}
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]struct{}{}, items: make([]string, 0)}
}

func (s *orderedSet) add(value string) {
	if _, ok := s.seen[value]; ok {
		return
	}
	s.seen[value] = struct{}{}
	s.items = append(s.items, value)
}

func (s *orderedSet) values() []string {
	return s.items
}
