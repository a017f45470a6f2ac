package drafting

import (
	"regexp"
	"strings"
)

var (
	fenceOpen        = regexp.MustCompile("(?i)```sql")
	sqlLabel         = regexp.MustCompile(`(?i)SQL:`)
	explanationLabel = regexp.MustCompile(`(?i)EXPLANATION:`)
)

// ParseResponse splits a model reply into query and explanation. It never
// fails: a reply without a SQL: label is taken whole as the query. The query
// ends at the first EXPLANATION: label after SQL:, and that label also starts
// the explanation. Without a SQL: label the first EXPLANATION: label is used.
func ParseResponse(raw string) (query, explanation string) {
	cleaned := cleanFences(raw)

	explEnd := -1
	if loc := explanationLabel.FindStringIndex(cleaned); loc != nil {
		explEnd = loc[1]
	}

	if loc := sqlLabel.FindStringIndex(cleaned); loc != nil {
		body := cleaned[loc[1]:]
		if next := explanationLabel.FindStringIndex(body); next != nil {
			explEnd = loc[1] + next[1]
			body = body[:next[0]]
		}
		query = strings.TrimSpace(body)
	}
	if explEnd >= 0 {
		explanation = strings.TrimSpace(cleaned[explEnd:])
	}
	if query == "" {
		query = cleaned
	}
	return query, explanation
}

func cleanFences(raw string) string {
	s := fenceOpen.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
