package translator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// KQLConfig holds Sentinel query limits
type KQLConfig struct {
	MaxJoins      int `mapstructure:"max_joins"`
	MaxFunctions  int `mapstructure:"max_functions"`
	MaxComplexity int `mapstructure:"max_complexity"`
}

// DefaultKQLConfig returns the Sentinel limits
func DefaultKQLConfig() KQLConfig {
	return KQLConfig{
		MaxJoins:      3,
		MaxFunctions:  5,
		MaxComplexity: 100,
	}
}

var kqlTables = map[entity.DataSource]string{
	entity.DataSourceProcess:  "SecurityEvent",
	entity.DataSourceFile:     "FileEvents",
	entity.DataSourceNetwork:  "NetworkConnection",
	entity.DataSourceRegistry: "RegistryEvents",
}

// tables seen in the wild that map onto the same sources
var kqlTableSources = map[string]entity.DataSource{
	"SecurityEvent":        entity.DataSourceProcess,
	"DeviceProcessEvents":  entity.DataSourceProcess,
	"FileEvents":           entity.DataSourceFile,
	"DeviceFileEvents":     entity.DataSourceFile,
	"NetworkConnection":    entity.DataSourceNetwork,
	"DeviceNetworkEvents":  entity.DataSourceNetwork,
	"CommonSecurityLog":    entity.DataSourceNetwork,
	"RegistryEvents":       entity.DataSourceRegistry,
	"DeviceRegistryEvents": entity.DataSourceRegistry,
}

var kqlKeywords = map[string]bool{
	"where": true, "project": true, "extend": true, "summarize": true, "join": true,
	"union": true, "let": true, "take": true, "limit": true, "sort": true, "order": true,
	"top": true, "count": true, "distinct": true, "and": true, "or": true, "not": true,
}

var (
	kqlTablePattern     = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(\||$)`)
	kqlConditionPattern = regexp.MustCompile(`(?is)^([A-Za-z_][A-Za-z0-9_.]*)\s+(==|=~|!=|matches\s+regex|contains|startswith|endswith|has|!in|in)\s+(.+)$`)
	kqlFieldPattern     = regexp.MustCompile(`(?i)\b([A-Za-z_][A-Za-z0-9_.]*)\s+(?:==|=~|!=|matches\s+regex|contains|startswith|endswith|has|!in|in)\s`)
)

// KQLTranslator translates to and from Microsoft Sentinel KQL
type KQLTranslator struct {
	config    KQLConfig
	fields    *FieldMapper
	operators *OperatorMapper
	logger    *logging.Logger
}

// NewKQLTranslator creates a Sentinel translator
func NewKQLTranslator(config KQLConfig, logger *logging.Logger) *KQLTranslator {
	if logger == nil {
		logger = logging.NewNop()
	}
	defaults := DefaultKQLConfig()
	if config.MaxJoins <= 0 {
		config.MaxJoins = defaults.MaxJoins
	}
	if config.MaxFunctions <= 0 {
		config.MaxFunctions = defaults.MaxFunctions
	}
	if config.MaxComplexity <= 0 {
		config.MaxComplexity = defaults.MaxComplexity
	}
	return &KQLTranslator{
		config:    config,
		fields:    FieldMapperFor(entity.PlatformSentinel),
		operators: OperatorMapperFor(entity.PlatformSentinel),
		logger:    logger.WithComponent("kql_translator").WithPlatform(string(entity.PlatformSentinel)),
	}
}

// Platform returns sentinel
func (t *KQLTranslator) Platform() entity.Platform {
	return entity.PlatformSentinel
}

// Translate renders the detection as a KQL query
func (t *KQLTranslator) Translate(ctx context.Context, d *entity.CanonicalDetection) (*entity.TranslationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d == nil || len(d.Query) == 0 {
		return nil, entity.NewGenerationError(t.Platform(), "detection has no query conditions", nil)
	}

	fields := d.Fields()
	conditions := make([]string, 0, len(fields))
	projected := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))

	for _, field := range fields {
		native := t.fields.MapField(field)
		cond, err := t.condition(native, d.Query[field])
		if err != nil {
			return nil, entity.NewGenerationError(t.Platform(), fmt.Sprintf("field %s: %v", field, err), err)
		}
		conditions = append(conditions, cond)
		if !seen[native] {
			seen[native] = true
			projected = append(projected, native)
		}
	}

	table, ok := kqlTables[d.Source()]
	if !ok {
		table = kqlTables[entity.DataSourceProcess]
	}

	var b strings.Builder
	b.WriteString(table)
	b.WriteString("\n| where ")
	b.WriteString(strings.Join(conditions, " and "))
	b.WriteString("\n| project ")
	b.WriteString(strings.Join(projected, ", "))
	query := b.String()

	validation, err := t.Validate(ctx, query)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		t.logger.Debug("Generated KQL failed validation", logging.String("reason", validation.Error))
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

func (t *KQLTranslator) condition(native string, cond entity.Condition) (string, error) {
	token := t.operators.MapOperator(cond.Operator)

	switch cond.Operator {
	case entity.OperatorIn, entity.OperatorNotIn:
		values := cond.Values()
		if len(values) == 0 {
			return "", fmt.Errorf("operator %s needs at least one value", cond.Operator)
		}
		items := make([]string, len(values))
		for i, v := range values {
			items[i] = kqlLiteral(v)
		}
		return fmt.Sprintf("%s %s (%s)", native, token, strings.Join(items, ", ")), nil
	case entity.OperatorLike:
		return fmt.Sprintf("%s %s %s", native, token, quoteSingle(likeToRegex(cond.Scalar()))), nil
	case entity.OperatorRegex:
		return fmt.Sprintf("%s %s %s", native, token, quoteSingle(cond.Scalar())), nil
	case entity.OperatorEquals:
		return fmt.Sprintf("%s %s %s", native, token, kqlLiteral(cond.Scalar())), nil
	case entity.OperatorContains, entity.OperatorStartsWith, entity.OperatorEndsWith:
		return fmt.Sprintf("%s %s %s", native, token, quoteSingle(cond.Scalar())), nil
	default:
		return "", fmt.Errorf("operator %q cannot be represented in KQL", token)
	}
}

func kqlLiteral(v string) string {
	if entity.IsNumeric(v) {
		return v
	}
	return quoteSingle(v)
}

// Validate checks table reference, join and function limits and the complexity ceiling
func (t *KQLTranslator) Validate(ctx context.Context, query string) (*entity.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(query)
	stripped := stripLiterals(trimmed)
	counts := countStructure(stripped)

	metrics := entity.ValidationMetrics{
		ComplexityScore: counts.Score(),
		FieldCount:      countKQLFields(stripped),
		JoinCount:       counts.Joins,
		FunctionCount:   counts.Functions,
	}

	if trimmed == "" {
		return entity.Invalid("query is empty", metrics), nil
	}

	m := kqlTablePattern.FindStringSubmatch(stripped)
	if m == nil || kqlKeywords[strings.ToLower(m[1])] {
		return entity.Invalid("query must start with a table reference", metrics), nil
	}

	if counts.Joins > t.config.MaxJoins {
		return entity.Invalid(fmt.Sprintf("join count %d exceeds maximum of %d", counts.Joins, t.config.MaxJoins), metrics), nil
	}
	if counts.Functions > t.config.MaxFunctions {
		return entity.Invalid(fmt.Sprintf("function count %d exceeds maximum of %d", counts.Functions, t.config.MaxFunctions), metrics), nil
	}
	if metrics.ComplexityScore > t.config.MaxComplexity {
		return entity.Invalid(fmt.Sprintf("complexity score %d exceeds maximum of %d", metrics.ComplexityScore, t.config.MaxComplexity), metrics), nil
	}

	return entity.Valid(metrics), nil
}

func countKQLFields(stripped string) int {
	seen := make(map[string]bool)
	for _, m := range kqlFieldPattern.FindAllStringSubmatch(stripped, -1) {
		name := m[1]
		if kqlKeywords[strings.ToLower(name)] {
			continue
		}
		seen[name] = true
	}
	return len(seen)
}

// TranslateFromNative extracts the table and where conditions of a KQL query
func (t *KQLTranslator) TranslateFromNative(ctx context.Context, native string) (*entity.CanonicalDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(native)
	segments := splitOutside(trimmed, "|", false)
	table := strings.TrimSpace(segments[0])
	if m := kqlTablePattern.FindStringSubmatch(table); m == nil || kqlKeywords[strings.ToLower(m[1])] {
		return nil, entity.NewValidationFailure(t.Platform(), "query must start with a table reference")
	}

	query := make(map[string]entity.Condition)
	for _, segment := range segments[1:] {
		segment = strings.TrimSpace(segment)
		lower := strings.ToLower(segment)
		if !strings.HasPrefix(lower, "where ") {
			continue
		}
		for _, clause := range splitOutside(segment[len("where "):], " and ", true) {
			field, cond, ok := parseKQLCondition(clause)
			if !ok {
				t.logger.Debug("Skipping unparsed KQL clause", logging.String("clause", clause))
				continue
			}
			query[t.fields.ReverseField(field)] = cond
		}
	}

	if len(query) == 0 {
		return nil, entity.NewValidationFailure(t.Platform(), "no where conditions found")
	}

	source, ok := kqlTableSources[table]
	if !ok {
		fields := make([]string, 0, len(query))
		for f := range query {
			fields = append(fields, f)
		}
		source = sourceFromFields(fields, entity.DataSourceProcess)
	}

	return &entity.CanonicalDetection{
		Query:     query,
		DataModel: &entity.DataModel{Source: source, Category: source.DefaultCategory()},
	}, nil
}

func parseKQLCondition(clause string) (string, entity.Condition, bool) {
	m := kqlConditionPattern.FindStringSubmatch(strings.TrimSpace(clause))
	if m == nil {
		return "", entity.Condition{}, false
	}
	field, token, raw := m[1], strings.ToLower(strings.Join(strings.Fields(m[2]), " ")), strings.TrimSpace(m[3])

	switch token {
	case "in", "!in":
		op := entity.OperatorIn
		if token == "!in" {
			op = entity.OperatorNotIn
		}
		return field, entity.Condition{Operator: op, Value: listValues(raw)}, true
	case "matches regex":
		return field, entity.Condition{Operator: entity.OperatorRegex, Value: literalValue(raw)}, true
	case "contains", "has":
		return field, entity.Condition{Operator: entity.OperatorContains, Value: literalValue(raw)}, true
	case "startswith":
		return field, entity.Condition{Operator: entity.OperatorStartsWith, Value: literalValue(raw)}, true
	case "endswith":
		return field, entity.Condition{Operator: entity.OperatorEndsWith, Value: literalValue(raw)}, true
	case "==", "=~":
		return field, entity.Condition{Operator: entity.OperatorEquals, Value: literalValue(raw)}, true
	default:
		return "", entity.Condition{}, false
	}
}
