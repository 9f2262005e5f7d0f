package translator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

var (
	singleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

func quoteSingle(s string) string {
	return "'" + singleQuoteEscaper.Replace(s) + "'"
}

func quoteDouble(s string) string {
	return `"` + doubleQuoteEscaper.Replace(s) + `"`
}

// unquote strips a matching pair of single or double quotes and resolves
// backslash escapes. ok is false when s is not quoted.
func unquote(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s, false
	}
	q := s[0]
	if (q != '\'' && q != '"') || s[len(s)-1] != q {
		return s, false
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			i++
			c = body[i]
		}
		b.WriteByte(c)
	}
	return b.String(), true
}

// scanner state shared by the split helpers: quotes and parentheses nest
// separators out of view.
type scanState struct {
	quote byte
	depth int
}

// step consumes s[i] and reports how many bytes to skip and whether the
// position is at top level.
func (st *scanState) step(s string, i int) (skip int, top bool) {
	c := s[i]
	if st.quote != 0 {
		if c == '\\' {
			return 2, false
		}
		if c == st.quote {
			st.quote = 0
		}
		return 1, false
	}
	switch c {
	case '\'', '"':
		st.quote = c
		return 1, false
	case '(':
		st.depth++
		return 1, false
	case ')':
		if st.depth > 0 {
			st.depth--
		}
		return 1, false
	}
	return 1, st.depth == 0
}

// splitOutside splits s on sep where sep is not inside quotes or parentheses
func splitOutside(s, sep string, fold bool) []string {
	var parts []string
	var st scanState
	start := 0
	for i := 0; i < len(s); {
		skip, top := st.step(s, i)
		if top && i+len(sep) <= len(s) {
			candidate := s[i : i+len(sep)]
			if candidate == sep || (fold && strings.EqualFold(candidate, sep)) {
				parts = append(parts, s[start:i])
				i += len(sep)
				start = i
				continue
			}
		}
		i += skip
	}
	return append(parts, s[start:])
}

// fieldsOutside splits on whitespace outside quotes and parentheses
func fieldsOutside(s string) []string {
	var out []string
	var st scanState
	start := -1
	for i := 0; i < len(s); {
		c := s[i]
		skip, top := st.step(s, i)
		isSpace := top && (c == ' ' || c == '\t' || c == '\n' || c == '\r')
		if isSpace {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += skip
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// stripLiterals blanks out the contents of quoted strings so keyword
// counting does not see user values.
func stripLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
				b.WriteByte(c)
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
		}
		b.WriteByte(c)
	}
	return b.String()
}

// balanced reports whether quotes are closed and parentheses match
func balanced(s string) (quotesOK, parensOK bool) {
	var quote byte
	depth := 0
	parensOK = true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				parensOK = false
			}
		}
	}
	return quote == 0, parensOK && depth == 0
}

// likeToRegex converts a SQL LIKE pattern (% and _) to an anchored regex
func likeToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

var likeGlobReplacer = strings.NewReplacer("%", "*", "_", "?")
var globLikeReplacer = strings.NewReplacer("*", "%", "?", "_")

// likeToGlob converts a LIKE pattern to * and ? wildcards
func likeToGlob(pattern string) string {
	return likeGlobReplacer.Replace(pattern)
}

// globOperator classifies a wildcard pattern back into a canonical operator
func globOperator(pattern string) (entity.Operator, string) {
	if !strings.ContainsAny(pattern, "*?") {
		return entity.OperatorEquals, pattern
	}
	lead := strings.HasPrefix(pattern, "*")
	trail := strings.HasSuffix(pattern, "*")
	inner := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
	if inner == "" || strings.ContainsAny(inner, "*?") {
		return entity.OperatorLike, globLikeReplacer.Replace(pattern)
	}
	switch {
	case lead && trail:
		return entity.OperatorContains, inner
	case trail:
		return entity.OperatorStartsWith, inner
	default:
		return entity.OperatorEndsWith, inner
	}
}

// globFor renders a substring operator as a wildcard pattern
func globFor(op entity.Operator, value string) string {
	switch op {
	case entity.OperatorContains:
		return "*" + value + "*"
	case entity.OperatorStartsWith:
		return value + "*"
	case entity.OperatorEndsWith:
		return "*" + value
	case entity.OperatorLike:
		return likeToGlob(value)
	default:
		return value
	}
}

// literalValue turns an unquoted token into a canonical value: numbers stay
// numeric, everything else is text.
func literalValue(token string) interface{} {
	if s, ok := unquote(token); ok {
		return s
	}
	token = strings.TrimSpace(token)
	if entity.IsNumeric(token) {
		if f, err := strconv.ParseFloat(token, 64); err == nil {
			return f
		}
	}
	return token
}

// listValues parses "(a, b, c)" into canonical values
func listValues(token string) []interface{} {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "(")
	token = strings.TrimSuffix(token, ")")
	var out []interface{}
	for _, item := range splitOutside(token, ",", false) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, literalValue(item))
	}
	return out
}

// sourceFromFields infers the data source from canonical field prefixes
func sourceFromFields(fields []string, fallback entity.DataSource) entity.DataSource {
	for _, f := range fields {
		prefix := f
		if i := strings.Index(f, "."); i > 0 {
			prefix = f[:i]
		}
		if ds := entity.DataSource(prefix); ds.IsValid() {
			return ds
		}
	}
	return fallback
}
