package translator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// YARALConfig holds Chronicle rule limits
type YARALConfig struct {
	MaxConditionOperators int           `mapstructure:"max_condition_operators"`
	CompileTimeout        time.Duration `mapstructure:"compile_timeout"`
}

// DefaultYARALConfig returns the Chronicle limits
func DefaultYARALConfig() YARALConfig {
	return YARALConfig{
		MaxConditionOperators: 10,
		CompileTimeout:        2 * time.Second,
	}
}

var yaralSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

var (
	yaralNamePattern   = regexp.MustCompile(`[^a-z0-9_]+`)
	yaralNumberPattern = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// yaralCompileError carries a grammar failure, as opposed to a cancelled compile
type yaralCompileError struct {
	err error
}

func (e *yaralCompileError) Error() string {
	return e.err.Error()
}

// YARALTranslator translates to and from Chronicle YARA-L
type YARALTranslator struct {
	config    YARALConfig
	fields    *FieldMapper
	operators *OperatorMapper
	logger    *logging.Logger
}

// NewYARALTranslator creates a Chronicle translator
func NewYARALTranslator(config YARALConfig, logger *logging.Logger) *YARALTranslator {
	if logger == nil {
		logger = logging.NewNop()
	}
	defaults := DefaultYARALConfig()
	if config.MaxConditionOperators <= 0 {
		config.MaxConditionOperators = defaults.MaxConditionOperators
	}
	if config.CompileTimeout <= 0 {
		config.CompileTimeout = defaults.CompileTimeout
	}
	return &YARALTranslator{
		config:    config,
		fields:    FieldMapperFor(entity.PlatformChronicle),
		operators: OperatorMapperFor(entity.PlatformChronicle),
		logger:    logger.WithComponent("yaral_translator").WithPlatform(string(entity.PlatformChronicle)),
	}
}

// Platform returns chronicle
func (t *YARALTranslator) Platform() entity.Platform {
	return entity.PlatformChronicle
}

// Translate renders the detection as a YARA-L rule with one event per data source
func (t *YARALTranslator) Translate(ctx context.Context, d *entity.CanonicalDetection) (*entity.TranslationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d == nil || len(d.Query) == 0 {
		return nil, entity.NewGenerationError(t.Platform(), "detection has no query conditions", nil)
	}

	name, err := yaralRuleName(d)
	if err != nil {
		return nil, entity.NewGenerationError(t.Platform(), "cannot derive rule name", err)
	}

	fields := d.Fields()
	groups := make(map[entity.DataSource][]string)
	for _, field := range fields {
		source := sourceFromFields([]string{field}, d.Source())
		cond, err := t.condition(t.fields.MapField(field), d.Query[field])
		if err != nil {
			return nil, entity.NewGenerationError(t.Platform(), fmt.Sprintf("field %s: %v", field, err), err)
		}
		groups[source] = append(groups[source], cond)
	}

	sources := make([]string, 0, len(groups))
	for source := range groups {
		sources = append(sources, string(source))
	}
	sort.Strings(sources)

	var b strings.Builder
	fmt.Fprintf(&b, "rule %s {\n", name)
	b.WriteString("  meta:\n")
	if author := d.MetadataString("author"); author != "" {
		fmt.Fprintf(&b, "    author = %s\n", strconv.Quote(author))
	}
	if description := d.MetadataString("description"); description != "" {
		fmt.Fprintf(&b, "    description = %s\n", strconv.Quote(description))
	}
	fmt.Fprintf(&b, "    severity = %s\n", strconv.Quote(yaralSeverity(d.Severity())))
	if techniques := d.Techniques(); len(techniques) > 0 {
		fmt.Fprintf(&b, "    mitre_attack = %s\n", strconv.Quote(strings.Join(techniques, ", ")))
	}
	b.WriteString("  events:\n")
	variables := make([]string, 0, len(sources))
	for _, source := range sources {
		variable := "$event." + source
		variables = append(variables, variable)
		fmt.Fprintf(&b, "    %s where %s\n", variable, strings.Join(groups[entity.DataSource(source)], " and "))
	}
	b.WriteString("  condition:\n")
	fmt.Fprintf(&b, "    %s\n", strings.Join(variables, " and "))
	b.WriteString("}\n")
	query := b.String()

	validation, err := t.Validate(ctx, query)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		t.logger.Debug("Generated YARA-L failed validation", logging.String("reason", validation.Error))
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

func (t *YARALTranslator) condition(native string, cond entity.Condition) (string, error) {
	token := t.operators.MapOperator(cond.Operator)

	switch cond.Operator {
	case entity.OperatorIn, entity.OperatorNotIn:
		values := cond.Values()
		if len(values) == 0 {
			return "", fmt.Errorf("operator %s needs at least one value", cond.Operator)
		}
		items := make([]string, len(values))
		for i, v := range values {
			items[i] = yaralLiteral(v)
		}
		list := strings.Join(items, ", ")
		if cond.Operator == entity.OperatorNotIn {
			// negation is a prefix in the grammar
			return fmt.Sprintf("not %s in (%s)", native, list), nil
		}
		return fmt.Sprintf("%s %s (%s)", native, token, list), nil
	case entity.OperatorEquals:
		return fmt.Sprintf("%s %s %s", native, token, yaralLiteral(cond.Scalar())), nil
	case entity.OperatorContains, entity.OperatorStartsWith, entity.OperatorEndsWith, entity.OperatorLike:
		return fmt.Sprintf("%s %s %s", native, token, strconv.Quote(globFor(cond.Operator, cond.Scalar()))), nil
	case entity.OperatorRegex:
		pattern := cond.Scalar()
		if pattern == "" {
			return "", errors.New("regex pattern is empty")
		}
		return fmt.Sprintf("%s %s /%s/", native, token, strings.ReplaceAll(pattern, "/", `\/`)), nil
	default:
		return "", fmt.Errorf("operator %q cannot be represented in YARA-L", token)
	}
}

func yaralLiteral(v string) string {
	if yaralNumberPattern.MatchString(v) {
		return v
	}
	return strconv.Quote(v)
}

// yaralSeverity folds informational levels into low and anything unknown into medium
func yaralSeverity(severity string) string {
	switch s := strings.ToLower(severity); s {
	case "info", "informational":
		return "low"
	default:
		if yaralSeverities[s] {
			return s
		}
		return "medium"
	}
}

// yaralRuleName is the sanitised title suffixed with a content hash
func yaralRuleName(d *entity.CanonicalDetection) (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)

	base := yaralNamePattern.ReplaceAllString(strings.ToLower(d.MetadataString("title")), "_")
	base = strings.Trim(base, "_")
	if base == "" {
		base = "translated_" + yaralNamePattern.ReplaceAllString(strings.ToLower(d.Category()), "_")
	}
	if base[0] >= '0' && base[0] <= '9' {
		base = "rule_" + base
	}
	return base + "_" + hex.EncodeToString(sum[:4]), nil
}

// compile parses the rule off the calling goroutine, bounded by the compile timeout
func (t *YARALTranslator) compile(ctx context.Context, query string) (*yaralRule, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.CompileTimeout)
	defer cancel()

	type outcome struct {
		rule *yaralRule
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		rule, err := yaralParser.ParseString("", query)
		done <- outcome{rule: rule, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, &yaralCompileError{err: out.err}
		}
		return out.rule, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Validate compiles the rule and checks severity, event types, the condition
// operator limit and that every condition variable is declared in events.
func (t *YARALTranslator) Validate(ctx context.Context, query string) (*entity.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rule, err := t.compile(ctx, query)
	if err != nil {
		var compileErr *yaralCompileError
		switch {
		case errors.As(err, &compileErr):
			return entity.Invalid("compile error: "+compileErr.Error(), entity.ValidationMetrics{}), nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return entity.Invalid(fmt.Sprintf("compile timed out after %s", t.config.CompileTimeout), entity.ValidationMetrics{}), nil
		}
	}

	metrics := yaralMetrics(rule)
	var warnings []string

	severity := ""
	for _, m := range rule.Meta {
		if m.Key == "severity" {
			severity = m.Value.text()
		}
	}
	switch {
	case severity == "":
		warnings = append(warnings, "meta has no severity")
	case !yaralSeverities[strings.ToLower(severity)]:
		return entity.Invalid(fmt.Sprintf("severity %q must be one of low, medium, high, critical", severity), metrics), nil
	}

	declared := make(map[string]bool, len(rule.Events))
	for _, event := range rule.Events {
		eventType := yaralEventType(event.Variable)
		if !entity.DataSource(eventType).IsValid() {
			return entity.Invalid(fmt.Sprintf("event %s has unsupported type %q", event.Variable, eventType), metrics), nil
		}
		declared[event.Variable] = true
	}

	if ops := rule.Condition.operatorCount(); ops > t.config.MaxConditionOperators {
		return entity.Invalid(fmt.Sprintf("condition uses %d operators, maximum is %d", ops, t.config.MaxConditionOperators), metrics), nil
	}

	for _, variable := range rule.Condition.variables(nil) {
		if !declared[variable] {
			return entity.Invalid(fmt.Sprintf("condition references undeclared variable %s", variable), metrics), nil
		}
	}

	return entity.Valid(metrics, warnings...), nil
}

// yaralEventType returns the segment after the last dot of an event variable
func yaralEventType(variable string) string {
	if i := strings.LastIndex(variable, "."); i >= 0 {
		return variable[i+1:]
	}
	return ""
}

func yaralMetrics(rule *yaralRule) entity.ValidationMetrics {
	fields := make(map[string]bool)
	comparisons, operators, functions := 0, rule.Condition.operatorCount(), 0
	for _, event := range rule.Events {
		operators += event.Where.operatorCount()
		for _, c := range event.Where.comparisons(false, nil) {
			comparisons++
			fields[c.Field] = true
			if c.Op == "matches" {
				functions++
			}
		}
	}
	joins := len(rule.Events) - 1
	if joins < 0 {
		joins = 0
	}
	return entity.ValidationMetrics{
		ComplexityScore: comparisons + 2*operators,
		FieldCount:      len(fields),
		JoinCount:       joins,
		FunctionCount:   functions,
	}
}

// TranslateFromNative compiles the rule and lifts its event comparisons and meta
func (t *YARALTranslator) TranslateFromNative(ctx context.Context, native string) (*entity.CanonicalDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rule, err := t.compile(ctx, native)
	if err != nil {
		var compileErr *yaralCompileError
		if errors.As(err, &compileErr) {
			return nil, entity.NewValidationFailure(t.Platform(), "compile error: "+compileErr.Error())
		}
		return nil, err
	}

	query := make(map[string]entity.Condition)
	var source entity.DataSource
	for _, event := range rule.Events {
		if ds := entity.DataSource(yaralEventType(event.Variable)); source == "" && ds.IsValid() {
			source = ds
		}
		for _, c := range event.Where.comparisons(false, nil) {
			cond, ok := yaralCondition(c)
			if !ok {
				t.logger.Debug("Skipping unsupported YARA-L comparison",
					logging.String("field", c.Field),
					logging.String("operator", c.Op),
				)
				continue
			}
			query[t.fields.ReverseField(c.Field)] = cond
		}
	}

	if len(query) == 0 {
		return nil, entity.NewValidationFailure(t.Platform(), "no event comparisons found")
	}
	if source == "" {
		fields := make([]string, 0, len(query))
		for f := range query {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		source = sourceFromFields(fields, entity.DataSourceProcess)
	}

	d := &entity.CanonicalDetection{
		Query:     query,
		DataModel: &entity.DataModel{Source: source, Category: source.DefaultCategory()},
	}
	for _, m := range rule.Meta {
		switch m.Key {
		case "mitre_attack":
			d.MitreMappings = entity.MitreFromTechniques(strings.Split(m.Value.text(), ","))
		case "author", "description", "severity":
			if d.Metadata == nil {
				d.Metadata = make(map[string]interface{})
			}
			d.Metadata[m.Key] = m.Value.text()
		}
	}
	return d, nil
}

func yaralCondition(c comparison) (entity.Condition, bool) {
	switch c.Op {
	case "in":
		values := make([]interface{}, len(c.List))
		for i, v := range c.List {
			values[i] = v.canonical()
		}
		if len(values) == 0 && c.Value != nil {
			values = []interface{}{c.Value.canonical()}
		}
		op := entity.OperatorIn
		if c.negated {
			op = entity.OperatorNotIn
		}
		return entity.Condition{Operator: op, Value: values}, true
	case "==", "=", "!=":
		if c.Value == nil {
			return entity.Condition{}, false
		}
		if c.negated != (c.Op == "!=") {
			return entity.Condition{Operator: entity.OperatorNotIn, Value: []interface{}{c.Value.canonical()}}, true
		}
		return entity.Condition{Operator: entity.OperatorEquals, Value: c.Value.canonical()}, true
	case "matches":
		if c.Value == nil || c.negated {
			return entity.Condition{}, false
		}
		if c.Value.Regex != nil {
			return entity.Condition{Operator: entity.OperatorRegex, Value: c.Value.text()}, true
		}
		op, value := globOperator(c.Value.text())
		return entity.Condition{Operator: op, Value: value}, true
	default:
		return entity.Condition{}, false
	}
}
