package intent

import "regexp"

// TypeMatcher classifies lower-cased text into one query type.
type TypeMatcher interface {
	QueryType() QueryType
	Match(text string) bool
}

type patternMatcher struct {
	queryType QueryType
	patterns  []*regexp.Regexp
}

// NewPatternMatcher returns a matcher that reports a match when any pattern matches.
func NewPatternMatcher(queryType QueryType, patterns ...string) TypeMatcher {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(pattern))
	}
	return patternMatcher{queryType: queryType, patterns: compiled}
}

func (m patternMatcher) QueryType() QueryType {
	return m.queryType
}

func (m patternMatcher) Match(text string) bool {
	for _, pattern := range m.patterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// DefaultMatchers is the classification cascade in precedence order.
func DefaultMatchers() []TypeMatcher {
	return []TypeMatcher{
		NewPatternMatcher(QueryTypeCount,
			`\b(count|number of|how many|total)\b`,
			`\b(sum|average|avg|max|min)\b`,
		),
		NewPatternMatcher(QueryTypeSelect,
			`\b(show|display|list|get|find|select|retrieve)\b`,
			`\b(what|which|how many)\b`,
			`\b(all|every)\s+\w+`,
		),
		// Noun-only hints such as "record" or "row" are not insert signals;
		// they appear in delete and update requests just as often.
		NewPatternMatcher(QueryTypeInsert,
			`\b(add|insert|create|new)\b`,
		),
		NewPatternMatcher(QueryTypeUpdate,
			`\b(update|modify|change|edit)\b`,
			`\bset\s+\w+\s*(?:=|to\b)`,
		),
		NewPatternMatcher(QueryTypeDelete,
			`\b(delete|remove|drop)\b`,
		),
	}
}
