package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	sigma "github.com/markuskont/go-sigma-rule-engine"
	"gopkg.in/yaml.v3"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// SigmaConfig holds Sigma generation defaults and validation ceilings
type SigmaConfig struct {
	MaxComplexity int    `mapstructure:"max_complexity"`
	MaxFields     int    `mapstructure:"max_fields"`
	CompileCheck  bool   `mapstructure:"compile_check"`
	Product       string `mapstructure:"product"`
}

// DefaultSigmaConfig returns the default ceilings
func DefaultSigmaConfig() SigmaConfig {
	return SigmaConfig{
		MaxComplexity: 1000,
		MaxFields:     50,
		CompileCheck:  true,
		Product:       "windows",
	}
}

var sigmaRequiredKeys = []string{"title", "id", "status", "description", "logsource", "detection", "level"}

var sigmaTagPattern = regexp.MustCompile(`^attack\.(t\d{4}(?:\.\d{3})?)$`)

type sigmaLogsource struct {
	Category string `yaml:"category,omitempty"`
	Product  string `yaml:"product,omitempty"`
	Service  string `yaml:"service,omitempty"`
}

type sigmaDocument struct {
	Title          string                 `yaml:"title"`
	ID             string                 `yaml:"id"`
	Status         string                 `yaml:"status"`
	Description    string                 `yaml:"description"`
	Author         string                 `yaml:"author,omitempty"`
	References     []string               `yaml:"references,omitempty"`
	Tags           []string               `yaml:"tags,omitempty"`
	Logsource      sigmaLogsource         `yaml:"logsource"`
	Detection      map[string]interface{} `yaml:"detection"`
	Falsepositives []string               `yaml:"falsepositives,omitempty"`
	Level          string                 `yaml:"level"`
}

// SigmaTranslator translates to and from Sigma YAML
type SigmaTranslator struct {
	config    SigmaConfig
	fields    *FieldMapper
	operators *OperatorMapper
	logger    *logging.Logger
}

// NewSigmaTranslator creates a Sigma translator
func NewSigmaTranslator(config SigmaConfig, logger *logging.Logger) *SigmaTranslator {
	if logger == nil {
		logger = logging.NewNop()
	}
	defaults := DefaultSigmaConfig()
	if config.MaxComplexity <= 0 {
		config.MaxComplexity = defaults.MaxComplexity
	}
	if config.MaxFields <= 0 {
		config.MaxFields = defaults.MaxFields
	}
	if config.Product == "" {
		config.Product = defaults.Product
	}
	return &SigmaTranslator{
		config:    config,
		fields:    FieldMapperFor(entity.PlatformSigma),
		operators: OperatorMapperFor(entity.PlatformSigma),
		logger:    logger.WithComponent("sigma_translator").WithPlatform(string(entity.PlatformSigma)),
	}
}

// Platform returns sigma
func (t *SigmaTranslator) Platform() entity.Platform {
	return entity.PlatformSigma
}

// Translate renders the detection as a Sigma rule document
func (t *SigmaTranslator) Translate(ctx context.Context, d *entity.CanonicalDetection) (*entity.TranslationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d == nil || len(d.Query) == 0 {
		return nil, entity.NewGenerationError(t.Platform(), "detection has no query conditions", nil)
	}

	detection, err := t.detection(d)
	if err != nil {
		return nil, entity.NewGenerationError(t.Platform(), err.Error(), err)
	}

	id, err := ruleID(d)
	if err != nil {
		return nil, entity.NewGenerationError(t.Platform(), "cannot derive rule id", err)
	}

	doc := sigmaDocument{
		Title:          orDefault(d.MetadataString("title"), fmt.Sprintf("Translated %s detection", d.Category())),
		ID:             id,
		Status:         orDefault(d.MetadataString("status"), "experimental"),
		Description:    orDefault(d.MetadataString("description"), "Detection translated from a canonical rule"),
		Author:         d.MetadataString("author"),
		References:     d.MetadataList("references"),
		Tags:           sigmaTags(d.Techniques()),
		Logsource:      sigmaLogsource{Category: d.Category(), Product: orDefault(d.MetadataString("product"), t.config.Product)},
		Detection:      detection,
		Falsepositives: d.MetadataList("false_positives"),
		Level:          sigmaLevel(d.Severity()),
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, entity.NewGenerationError(t.Platform(), "cannot encode rule", err)
	}
	if err := enc.Close(); err != nil {
		return nil, entity.NewGenerationError(t.Platform(), "cannot encode rule", err)
	}
	query := buf.String()

	validation, err := t.Validate(ctx, query)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		t.logger.Debug("Generated Sigma rule failed validation", logging.String("reason", validation.Error))
		return nil, entity.NewValidationFailure(t.Platform(), validation.Error)
	}

	return &entity.TranslationResult{
		Query:             query,
		Platform:          t.Platform(),
		FieldMappingsUsed: mappingsUsed(t.fields, d.Fields()),
		PerformanceMetrics: entity.PerformanceMetrics{
			ComplexityScore: validation.Metrics.ComplexityScore,
			FunctionCount:   validation.Metrics.FunctionCount,
		},
		Validation: *validation,
	}, nil
}

func (t *SigmaTranslator) detection(d *entity.CanonicalDetection) (map[string]interface{}, error) {
	selection := make(map[string]interface{})
	var filters []map[string]interface{}

	for _, field := range d.Fields() {
		native := t.fields.MapField(field)
		cond := d.Query[field]

		switch cond.Operator {
		case entity.OperatorIn:
			selection[native] = cond.Values()
		case entity.OperatorNotIn:
			filters = append(filters, map[string]interface{}{native: cond.Values()})
		case entity.OperatorEquals:
			selection[native] = cond.Scalar()
		case entity.OperatorLike:
			selection[native] = likeToGlob(cond.Scalar())
		case entity.OperatorContains, entity.OperatorStartsWith, entity.OperatorEndsWith, entity.OperatorRegex:
			selection[native+t.operators.MapOperator(cond.Operator)] = cond.Scalar()
		default:
			return nil, fmt.Errorf("field %s: operator %q cannot be represented in Sigma", field, cond.Operator)
		}
	}

	detection := make(map[string]interface{})
	var terms []string
	if len(selection) > 0 {
		detection["selection"] = selection
		terms = append(terms, "selection")
	}
	for i, filter := range filters {
		name := fmt.Sprintf("filter_%d", i+1)
		detection[name] = filter
		terms = append(terms, "not "+name)
	}
	detection["condition"] = strings.Join(terms, " and ")
	return detection, nil
}

// ruleID derives a stable UUID from the canonical content
func ruleID(d *entity.CanonicalDetection) (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, payload).String(), nil
}

func sigmaTags(techniques []string) []string {
	if len(techniques) == 0 {
		return nil
	}
	tags := make([]string, len(techniques))
	for i, id := range techniques {
		tags[i] = "attack." + strings.ToLower(id)
	}
	return tags
}

func sigmaLevel(severity string) string {
	switch severity {
	case "informational", "low", "medium", "high", "critical":
		return severity
	case "info":
		return "informational"
	default:
		return "medium"
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Validate checks the required keys, logsource and detection shape, the
// configured ceilings and, when enabled, that the condition compiles.
func (t *SigmaTranslator) Validate(ctx context.Context, query string) (*entity.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(query), &doc); err != nil {
		return entity.Invalid(fmt.Sprintf("invalid YAML: %v", err), entity.ValidationMetrics{}), nil
	}
	if doc == nil {
		return entity.Invalid("rule document is empty", entity.ValidationMetrics{}), nil
	}

	for _, key := range sigmaRequiredKeys {
		if _, ok := doc[key]; !ok {
			return entity.Invalid(fmt.Sprintf("missing required key %q", key), entity.ValidationMetrics{}), nil
		}
	}

	logsource, ok := doc["logsource"].(map[string]interface{})
	if !ok || !hasAnyKey(logsource, "product", "service", "category") {
		return entity.Invalid("logsource must define product, service or category", entity.ValidationMetrics{}), nil
	}

	detection, ok := doc["detection"].(map[string]interface{})
	if !ok || len(detection) == 0 {
		return entity.Invalid("detection must be a non-empty mapping", entity.ValidationMetrics{}), nil
	}

	metrics := sigmaMetrics(detection)

	if metrics.ComplexityScore > t.config.MaxComplexity {
		return entity.Invalid(fmt.Sprintf("complexity score %d exceeds maximum of %d", metrics.ComplexityScore, t.config.MaxComplexity), metrics), nil
	}
	if metrics.FieldCount > t.config.MaxFields {
		return entity.Invalid(fmt.Sprintf("field count %d exceeds maximum of %d", metrics.FieldCount, t.config.MaxFields), metrics), nil
	}

	if t.config.CompileCheck {
		if err := compileSigma(doc, detection); err != nil {
			return entity.Invalid(fmt.Sprintf("condition does not compile: %v", err), metrics), nil
		}
	}

	return entity.Valid(metrics), nil
}

func hasAnyKey(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil && entity.FormatValue(v) != "" {
			return true
		}
	}
	return false
}

// sigmaMetrics sums selection sizes and value lengths
func sigmaMetrics(detection map[string]interface{}) entity.ValidationMetrics {
	var metrics entity.ValidationMetrics
	var add func(v interface{})
	add = func(v interface{}) {
		switch sel := v.(type) {
		case map[string]interface{}:
			metrics.FieldCount += len(sel)
			metrics.ComplexityScore += len(sel)
			for key, value := range sel {
				metrics.FunctionCount += strings.Count(key, "|")
				metrics.ComplexityScore += valueLength(value)
			}
		case []interface{}:
			for _, item := range sel {
				if m, ok := item.(map[string]interface{}); ok {
					add(m)
					continue
				}
				metrics.ComplexityScore += valueLength(item)
			}
		default:
			metrics.ComplexityScore += valueLength(sel)
		}
	}
	for name, v := range detection {
		if name == "condition" || name == "timeframe" {
			continue
		}
		add(v)
	}
	return metrics
}

func valueLength(v interface{}) int {
	if list, ok := v.([]interface{}); ok {
		n := 0
		for _, item := range list {
			n += len(entity.FormatValue(item))
		}
		return n
	}
	return len(entity.FormatValue(v))
}

// compileSigma builds the rule engine's condition tree from the document
func compileSigma(doc, detection map[string]interface{}) error {
	rule := sigma.Rule{
		Title:  entity.FormatValue(doc["title"]),
		ID:     entity.FormatValue(doc["id"]),
		Status: entity.FormatValue(doc["status"]),
		Level:  entity.FormatValue(doc["level"]),
	}
	if logsource, ok := doc["logsource"].(map[string]interface{}); ok {
		rule.Logsource = sigma.Logsource{
			Product:  entity.FormatValue(logsource["product"]),
			Category: entity.FormatValue(logsource["category"]),
			Service:  entity.FormatValue(logsource["service"]),
		}
	}

	// the engine walks selections as produced by its own YAML loader
	converted := make(sigma.Detection, len(detection))
	for k, v := range detection {
		converted[k] = toEngineValue(v)
	}
	rule.Detection = converted

	_, err := sigma.NewTree(sigma.RuleHandle{Rule: rule})
	return err
}

func toEngineValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[interface{}]interface{}, len(t))
		for k, x := range t {
			out[k] = toEngineValue(x)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = toEngineValue(x)
		}
		return out
	default:
		return v
	}
}

// TranslateFromNative reads a Sigma rule back into canonical form
func (t *SigmaTranslator) TranslateFromNative(ctx context.Context, native string) (*entity.CanonicalDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc sigmaDocument
	if err := yaml.Unmarshal([]byte(native), &doc); err != nil {
		return nil, entity.NewValidationFailure(t.Platform(), fmt.Sprintf("invalid YAML: %v", err))
	}
	if len(doc.Detection) == 0 {
		return nil, entity.NewValidationFailure(t.Platform(), "detection must be a non-empty mapping")
	}

	negated := negatedSelections(entity.FormatValue(doc.Detection["condition"]))

	names := make([]string, 0, len(doc.Detection))
	for name := range doc.Detection {
		if name != "condition" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	query := make(map[string]entity.Condition)
	for _, name := range names {
		sel, ok := doc.Detection[name].(map[string]interface{})
		if !ok {
			continue
		}
		for key, value := range sel {
			field, cond := t.sigmaCondition(key, value, negated[name])
			query[t.fields.ReverseField(field)] = cond
		}
	}
	if len(query) == 0 {
		return nil, entity.NewValidationFailure(t.Platform(), "no selection fields found")
	}

	fields := make([]string, 0, len(query))
	for f := range query {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	source := sourceForCategory(doc.Logsource.Category, sourceFromFields(fields, entity.DataSourceProcess))
	category := orDefault(doc.Logsource.Category, source.DefaultCategory())

	metadata := map[string]interface{}{
		"title":       doc.Title,
		"description": doc.Description,
		"status":      doc.Status,
		"severity":    doc.Level,
		"sigma_id":    doc.ID,
	}
	if doc.Author != "" {
		metadata["author"] = doc.Author
	}
	if len(doc.Falsepositives) > 0 {
		metadata["false_positives"] = doc.Falsepositives
	}
	if len(doc.References) > 0 {
		metadata["references"] = doc.References
	}
	if doc.Logsource.Product != "" {
		metadata["product"] = doc.Logsource.Product
	}

	var techniques []string
	for _, tag := range doc.Tags {
		if m := sigmaTagPattern.FindStringSubmatch(strings.ToLower(tag)); m != nil {
			techniques = append(techniques, m[1])
		}
	}

	return &entity.CanonicalDetection{
		Query:         query,
		DataModel:     &entity.DataModel{Source: source, Category: category},
		MitreMappings: entity.MitreFromTechniques(techniques),
		Metadata:      metadata,
	}, nil
}

func (t *SigmaTranslator) sigmaCondition(key string, value interface{}, negated bool) (string, entity.Condition) {
	parts := strings.Split(key, "|")
	field := parts[0]
	modifier := ""
	if len(parts) > 1 {
		modifier = strings.ToLower(parts[1])
	}

	list, isList := value.([]interface{})
	if negated {
		if !isList {
			list = []interface{}{value}
		}
		return field, entity.Condition{Operator: entity.OperatorNotIn, Value: stringList(list)}
	}
	if isList && modifier == "" {
		return field, entity.Condition{Operator: entity.OperatorIn, Value: stringList(list)}
	}
	if isList {
		// OR-ed modifier values collapse to the first one
		if len(list) == 0 {
			return field, entity.Condition{Operator: entity.OperatorIn, Value: []interface{}{}}
		}
		value = list[0]
	}

	text := entity.FormatValue(value)
	switch modifier {
	case "contains":
		return field, entity.Condition{Operator: entity.OperatorContains, Value: text}
	case "startswith":
		return field, entity.Condition{Operator: entity.OperatorStartsWith, Value: text}
	case "endswith":
		return field, entity.Condition{Operator: entity.OperatorEndsWith, Value: text}
	case "re":
		return field, entity.Condition{Operator: entity.OperatorRegex, Value: text}
	}
	op, text := globOperator(text)
	return field, entity.Condition{Operator: op, Value: text}
}

func stringList(items []interface{}) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = entity.FormatValue(item)
	}
	return out
}

// negatedSelections returns selection names preceded by "not" in a condition
func negatedSelections(condition string) map[string]bool {
	out := make(map[string]bool)
	words := strings.Fields(strings.NewReplacer("(", " ", ")", " ").Replace(condition))
	for i := 0; i+1 < len(words); i++ {
		if strings.EqualFold(words[i], "not") {
			out[words[i+1]] = true
		}
	}
	return out
}
