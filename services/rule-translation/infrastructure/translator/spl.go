package translator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// SPLConfig holds Splunk validation settings
type SPLConfig struct {
	Strict bool `mapstructure:"strict"`
}

// DefaultSPLConfig returns strict validation
func DefaultSPLConfig() SPLConfig {
	return SPLConfig{Strict: true}
}

// commands in the order they must appear when present
var splCommandOrder = map[string]int{
	"search": 0,
	"table":  1,
	"stats":  2,
	"eval":   3,
	"where":  4,
	"rename": 5,
}

var splForbiddenTokens = []string{"script", "shell"}

var splIndexes = map[entity.DataSource]string{
	entity.DataSourceProcess:  "endpoint",
	entity.DataSourceFile:     "endpoint",
	entity.DataSourceNetwork:  "network",
	entity.DataSourceRegistry: "endpoint",
}

var (
	splAssignPattern   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)(=|!=)(.+)$`)
	splFunctionPattern = regexp.MustCompile(`(?i)(match|like)\(\s*([A-Za-z_][A-Za-z0-9_.]*)\s*,\s*("(?:\\.|[^"\\])*")\s*\)`)
	splFieldPattern    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_.]*)\s*(?:!=|=|\s+IN\s*\()`)
)

// SPLTranslator translates to and from Splunk SPL
type SPLTranslator struct {
	config    SPLConfig
	fields    *FieldMapper
	operators *OperatorMapper
	logger    *logging.Logger
}

// NewSPLTranslator creates a Splunk translator
func NewSPLTranslator(config SPLConfig, logger *logging.Logger) *SPLTranslator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SPLTranslator{
		config:    config,
		fields:    FieldMapperFor(entity.PlatformSplunk),
		operators: OperatorMapperFor(entity.PlatformSplunk),
		logger:    logger.WithComponent("spl_translator").WithPlatform(string(entity.PlatformSplunk)),
	}
}

// Platform returns splunk
func (t *SPLTranslator) Platform() entity.Platform {
	return entity.PlatformSplunk
}

// Translate renders the detection as "search ... | table ... | where ..."
func (t *SPLTranslator) Translate(ctx context.Context, d *entity.CanonicalDetection) (*entity.TranslationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d == nil || len(d.Query) == 0 {
		return nil, entity.NewGenerationError(t.Platform(), "detection has no query conditions", nil)
	}

	index, ok := splIndexes[d.Source()]
	if !ok {
		index = "main"
	}

	searchTerms := []string{
		"index=" + index,
		"sourcetype=" + quoteDouble("sysmon:"+d.Category()),
	}
	var whereTerms []string
	var tabled []string
	seen := make(map[string]bool)

	fields := d.Fields()
	for _, field := range fields {
		native := t.fields.MapField(field)
		cond := d.Query[field]

		switch cond.Operator {
		case entity.OperatorRegex, entity.OperatorLike:
			fn := t.operators.MapOperator(cond.Operator)
			whereTerms = append(whereTerms, fmt.Sprintf("%s(%s, %s)", fn, native, quoteDouble(cond.Scalar())))
		default:
			term, err := t.searchTerm(native, cond)
			if err != nil {
				return nil, entity.NewGenerationError(t.Platform(), fmt.Sprintf("field %s: %v", field, err), err)
			}
			searchTerms = append(searchTerms, term)
		}

		if !seen[native] {
			seen[native] = true
			tabled = append(tabled, native)
		}
	}

	var b strings.Builder
	b.WriteString("search ")
	b.WriteString(strings.Join(searchTerms, " "))
	b.WriteString(" | table ")
	b.WriteString(strings.Join(tabled, ", "))
	if len(whereTerms) > 0 {
		b.WriteString(" | where ")
		b.WriteString(strings.Join(whereTerms, " AND "))
	}
	query := b.String()

	validation, err := t.Validate(ctx, query)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		t.logger.Debug("Generated SPL failed validation", logging.String("reason", validation.Error))
		return nil, entity.NewValidationFailure(t.Platform(), validation.Error)
	}

	return &entity.TranslationResult{
		Query:             query,
		Platform:          t.Platform(),
		FieldMappingsUsed: mappingsUsed(t.fields, fields),
		PerformanceMetrics: entity.PerformanceMetrics{
			ComplexityScore: validation.Metrics.ComplexityScore,
			JoinCount:       validation.Metrics.JoinCount,
			FunctionCount:   validation.Metrics.FunctionCount,
		},
		Validation: *validation,
	}, nil
}

func (t *SPLTranslator) searchTerm(native string, cond entity.Condition) (string, error) {
	switch cond.Operator {
	case entity.OperatorIn, entity.OperatorNotIn:
		values := cond.Values()
		if len(values) == 0 {
			return "", fmt.Errorf("operator %s needs at least one value", cond.Operator)
		}
		items := make([]string, len(values))
		for i, v := range values {
			items[i] = splLiteral(v)
		}
		term := fmt.Sprintf("%s IN (%s)", native, strings.Join(items, ", "))
		if cond.Operator == entity.OperatorNotIn {
			term = "NOT " + term
		}
		return term, nil
	case entity.OperatorEquals:
		return native + "=" + splLiteral(cond.Scalar()), nil
	case entity.OperatorContains, entity.OperatorStartsWith, entity.OperatorEndsWith:
		return native + "=" + quoteDouble(globFor(cond.Operator, cond.Scalar())), nil
	default:
		return "", fmt.Errorf("operator %q cannot be represented in SPL", cond.Operator)
	}
}

func splLiteral(v string) string {
	if entity.IsNumeric(v) {
		return v
	}
	return quoteDouble(v)
}

// Validate enforces the leading search command, the forbidden token rule,
// command ordering and, in strict mode, balanced quotes and parentheses.
func (t *SPLTranslator) Validate(ctx context.Context, query string) (*entity.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(query)
	stripped := stripLiterals(trimmed)
	counts := countStructure(stripped)
	metrics := entity.ValidationMetrics{
		ComplexityScore: counts.Score(),
		FieldCount:      countSPLFields(stripped),
		JoinCount:       counts.Joins,
		FunctionCount:   counts.Functions,
	}

	lower := strings.ToLower(trimmed)
	for _, token := range splForbiddenTokens {
		if strings.Contains(lower, token) {
			return entity.Invalid(fmt.Sprintf("query contains forbidden token %q", token), metrics), nil
		}
	}

	if first := firstWord(lower); first != "search" {
		return entity.Invalid("query must start with the search command", metrics), nil
	}

	if t.config.Strict {
		quotesOK, parensOK := balanced(trimmed)
		if !quotesOK {
			return entity.Invalid("unbalanced quotes", metrics), nil
		}
		if !parensOK {
			return entity.Invalid("unbalanced parentheses", metrics), nil
		}
	}

	var warnings []string
	last := -1
	lastName := ""
	for _, segment := range splitOutside(trimmed, "|", false) {
		name := firstWord(strings.ToLower(strings.TrimSpace(segment)))
		pos, known := splCommandOrder[name]
		if !known {
			continue
		}
		if pos < last {
			warnings = append(warnings, fmt.Sprintf("command %q appears after %q", name, lastName))
			continue
		}
		last, lastName = pos, name
	}

	return entity.Valid(metrics, warnings...), nil
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t\n\r"); i >= 0 {
		return s[:i]
	}
	return s
}

func countSPLFields(stripped string) int {
	seen := make(map[string]bool)
	for _, m := range splFieldPattern.FindAllStringSubmatch(stripped, -1) {
		switch strings.ToLower(m[1]) {
		case "index", "sourcetype", "source", "not":
			continue
		}
		seen[m[1]] = true
	}
	for _, m := range splFunctionPattern.FindAllStringSubmatch(stripped, -1) {
		seen[m[2]] = true
	}
	return len(seen)
}

// TranslateFromNative parses search terms and where functions of an SPL query
func (t *SPLTranslator) TranslateFromNative(ctx context.Context, native string) (*entity.CanonicalDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	segments := splitOutside(strings.TrimSpace(native), "|", false)
	head := strings.TrimSpace(segments[0])
	if !strings.EqualFold(firstWord(head), "search") {
		return nil, entity.NewValidationFailure(t.Platform(), "query must start with the search command")
	}

	query := make(map[string]entity.Condition)
	var index, category string

	tokens := fieldsOutside(strings.TrimSpace(head[len("search"):]))
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		negate := false
		if strings.EqualFold(token, "NOT") && i+1 < len(tokens) {
			negate = true
			i++
			token = tokens[i]
		}

		// field IN (...)
		if i+2 < len(tokens) && strings.EqualFold(tokens[i+1], "IN") {
			op := entity.OperatorIn
			if negate {
				op = entity.OperatorNotIn
			}
			query[t.fields.ReverseField(token)] = entity.Condition{Operator: op, Value: listValues(tokens[i+2])}
			i += 2
			continue
		}

		m := splAssignPattern.FindStringSubmatch(token)
		if m == nil {
			continue
		}
		field, raw := m[1], m[3]
		switch strings.ToLower(field) {
		case "index":
			index = strings.Trim(raw, `"`)
			continue
		case "sourcetype":
			st, _ := unquote(raw)
			if st == "" {
				st = raw
			}
			category = strings.TrimPrefix(st, "sysmon:")
			continue
		}

		value := literalValue(raw)
		if m[2] == "!=" || negate {
			query[t.fields.ReverseField(field)] = entity.Condition{Operator: entity.OperatorNotIn, Value: []interface{}{value}}
			continue
		}
		op := entity.OperatorEquals
		if s, ok := value.(string); ok {
			op, s = globOperator(s)
			value = s
		}
		query[t.fields.ReverseField(field)] = entity.Condition{Operator: op, Value: value}
	}

	for _, segment := range segments[1:] {
		segment = strings.TrimSpace(segment)
		if !strings.EqualFold(firstWord(segment), "where") {
			continue
		}
		for _, m := range splFunctionPattern.FindAllStringSubmatch(segment, -1) {
			value, _ := unquote(m[3])
			op := entity.OperatorRegex
			if strings.EqualFold(m[1], "like") {
				op = entity.OperatorLike
			}
			query[t.fields.ReverseField(m[2])] = entity.Condition{Operator: op, Value: value}
		}
	}

	if len(query) == 0 {
		return nil, entity.NewValidationFailure(t.Platform(), "no search conditions found")
	}

	fields := make([]string, 0, len(query))
	for f := range query {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	fallback := entity.DataSourceProcess
	if index == "network" {
		fallback = entity.DataSourceNetwork
	}
	source := sourceForCategory(category, sourceFromFields(fields, fallback))
	if category == "" {
		category = source.DefaultCategory()
	}

	return &entity.CanonicalDetection{
		Query:     query,
		DataModel: &entity.DataModel{Source: source, Category: category},
	}, nil
}

// sourceForCategory maps a default category back to its source
func sourceForCategory(category string, fallback entity.DataSource) entity.DataSource {
	for _, ds := range entity.DataSources() {
		if ds.DefaultCategory() == category {
			return ds
		}
	}
	return fallback
}
