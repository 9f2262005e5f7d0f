package translator

import (
	"regexp"
	"strings"
)

var (
	joinPattern     = regexp.MustCompile(`(?i)\bjoin\b`)
	wherePattern    = regexp.MustCompile(`(?i)\bwhere\b`)
	functionPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
)

// words that take a parenthesised operand without being function calls
var nonFunctionWords = map[string]bool{
	"in":      true,
	"join":    true,
	"and":     true,
	"or":      true,
	"not":     true,
	"where":   true,
	"on":      true,
	"by":      true,
	"kind":    true,
	"project": true,
	"search":  true,
	"table":   true,
}

// structureCounts holds the raw counts a complexity score is built from
type structureCounts struct {
	Pipes     int
	Joins     int
	Functions int
	Wheres    int
}

// countStructure counts pipes, joins, function calls and where clauses in a
// query whose string literals have already been stripped.
func countStructure(stripped string) structureCounts {
	c := structureCounts{
		Pipes:  strings.Count(stripped, "|"),
		Joins:  len(joinPattern.FindAllStringIndex(stripped, -1)),
		Wheres: len(wherePattern.FindAllStringIndex(stripped, -1)),
	}
	for _, m := range functionPattern.FindAllStringSubmatch(stripped, -1) {
		if !nonFunctionWords[strings.ToLower(m[1])] {
			c.Functions++
		}
	}
	return c
}

// Score is 5 per pipe, 10 per join, 3 per function call and 2 per where clause
func (c structureCounts) Score() int {
	return 5*c.Pipes + 10*c.Joins + 3*c.Functions + 2*c.Wheres
}
