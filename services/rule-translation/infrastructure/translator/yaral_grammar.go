package translator

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var yaralLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Variable", Pattern: `\$[a-zA-Z_]\w*(?:\.[a-zA-Z_]\w*)*`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Regex", Pattern: `/(?:\\.|[^/\\\n])+/`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "DottedIdent", Pattern: `[a-zA-Z_]\w*(?:\.[a-zA-Z_]\w*)+`},
	{Name: "Keyword", Pattern: `(?:rule|meta|events|condition|where|and|or|not|in|matches)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Operator", Pattern: `==|!=|>=|<=|=|<|>`},
	{Name: "Punct", Pattern: `[{}():,]`},
})

var yaralParser = participle.MustBuild[yaralRule](
	participle.Lexer(yaralLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

type yaralRule struct {
	Name      string         `parser:"'rule' @Ident '{'"`
	Meta      []*yaralMeta   `parser:"( 'meta' ':' @@* )?"`
	Events    []*yaralEvent  `parser:"'events' ':' @@+"`
	Condition *yaralCondExpr `parser:"'condition' ':' @@ '}'"`
}

type yaralMeta struct {
	Key   string      `parser:"@Ident '='"`
	Value *yaralValue `parser:"@@"`
}

type yaralEvent struct {
	Variable string     `parser:"@Variable 'where'"`
	Where    *yaralExpr `parser:"@@"`
}

type yaralExpr struct {
	Left  *yaralAnd   `parser:"@@"`
	Right []*yaralAnd `parser:"( 'or' @@ )*"`
}

type yaralAnd struct {
	Left  *yaralUnary   `parser:"@@"`
	Right []*yaralUnary `parser:"( 'and' @@ )*"`
}

type yaralUnary struct {
	Not     bool          `parser:"@'not'?"`
	Group   *yaralExpr    `parser:"( '(' @@ ')'"`
	Compare *yaralCompare `parser:"| @@ )"`
}

type yaralCompare struct {
	Field string        `parser:"@(DottedIdent | Ident)"`
	Op    string        `parser:"@(Operator | 'matches' | 'in')"`
	List  []*yaralValue `parser:"( '(' @@ ( ',' @@ )* ')'"`
	Value *yaralValue   `parser:"| @@ )"`
}

type yaralValue struct {
	String *string  `parser:"  @String"`
	Number *float64 `parser:"| @Number"`
	Regex  *string  `parser:"| @Regex"`
	Ident  *string  `parser:"| @(DottedIdent | Ident)"`
}

type yaralCondExpr struct {
	Left  *yaralCondAnd   `parser:"@@"`
	Right []*yaralCondAnd `parser:"( 'or' @@ )*"`
}

type yaralCondAnd struct {
	Left  *yaralCondTerm   `parser:"@@"`
	Right []*yaralCondTerm `parser:"( 'and' @@ )*"`
}

type yaralCondTerm struct {
	Not      bool           `parser:"@'not'?"`
	Variable string         `parser:"( @Variable"`
	Group    *yaralCondExpr `parser:"| '(' @@ ')' )"`
}

// text returns the value as written, without delimiters
func (v *yaralValue) text() string {
	switch {
	case v == nil:
		return ""
	case v.String != nil:
		return *v.String
	case v.Regex != nil:
		r := *v.Regex
		return strings.ReplaceAll(r[1:len(r)-1], `\/`, "/")
	case v.Ident != nil:
		return *v.Ident
	case v.Number != nil:
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	}
	return ""
}

// canonical returns the value in canonical payload form
func (v *yaralValue) canonical() interface{} {
	if v != nil && v.Number != nil {
		return *v.Number
	}
	return v.text()
}

func (c *yaralCondExpr) operatorCount() int {
	n := len(c.Right)
	for _, and := range append([]*yaralCondAnd{c.Left}, c.Right...) {
		n += len(and.Right)
		for _, term := range append([]*yaralCondTerm{and.Left}, and.Right...) {
			if term.Group != nil {
				n += term.Group.operatorCount()
			}
		}
	}
	return n
}

func (c *yaralCondExpr) variables(out []string) []string {
	for _, and := range append([]*yaralCondAnd{c.Left}, c.Right...) {
		for _, term := range append([]*yaralCondTerm{and.Left}, and.Right...) {
			if term.Group != nil {
				out = term.Group.variables(out)
				continue
			}
			out = append(out, term.Variable)
		}
	}
	return out
}

// comparison pairs a compare node with the negation applied to it
type comparison struct {
	*yaralCompare
	negated bool
}

func (e *yaralExpr) operatorCount() int {
	n := len(e.Right)
	for _, and := range append([]*yaralAnd{e.Left}, e.Right...) {
		n += len(and.Right)
		for _, u := range append([]*yaralUnary{and.Left}, and.Right...) {
			if u.Group != nil {
				n += u.Group.operatorCount()
			}
		}
	}
	return n
}

func (e *yaralExpr) comparisons(negated bool, out []comparison) []comparison {
	for _, and := range append([]*yaralAnd{e.Left}, e.Right...) {
		for _, u := range append([]*yaralUnary{and.Left}, and.Right...) {
			neg := negated != u.Not
			if u.Group != nil {
				out = u.Group.comparisons(neg, out)
				continue
			}
			out = append(out, comparison{yaralCompare: u.Compare, negated: neg})
		}
	}
	return out
}
