package translator

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

func yaralRuleText(meta, events, condition string) string {
	return "rule sample {\n  meta:\n" + meta + "  events:\n" + events + "  condition:\n    " + condition + "\n}\n"
}

func TestYARALTranslator_Translate(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))

	result, err := tr.Translate(context.Background(), cmdDetection())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^rule translated_process_creation_[0-9a-f]{8} \{`), result.Query)
	assert.Contains(t, result.Query, `severity = "medium"`)
	assert.Contains(t, result.Query, `$event.process where target.process.name == "cmd.exe"`)
	assert.Contains(t, result.Query, "condition:\n    $event.process\n}")
	assert.True(t, result.Validation.IsValid)
	assert.Equal(t, 0, result.PerformanceMetrics.JoinCount)
}

func TestYARALTranslator_TranslateMetaAndOperators(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))

	result, err := tr.Translate(context.Background(), powershellDetection())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Query, "rule encoded_powershell_"))
	assert.Contains(t, result.Query, `author = "detections"`)
	assert.Contains(t, result.Query, `severity = "high"`)
	assert.Contains(t, result.Query, `mitre_attack = "T1059, T1059.001"`)
	assert.Contains(t, result.Query, `target.process.command_line matches "*-enc*" and target.process.name == "powershell.exe"`)
}

func TestYARALTranslator_TranslateNotIn(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))
	ctx := context.Background()
	d := &entity.CanonicalDetection{
		Query: map[string]entity.Condition{
			"process.name": {Operator: entity.OperatorNotIn, Value: []interface{}{"cmd.exe", "net.exe"}},
		},
		DataModel: &entity.DataModel{Source: entity.DataSourceProcess},
	}

	result, err := tr.Translate(ctx, d)
	require.NoError(t, err)
	assert.Contains(t, result.Query, `not target.process.name in ("cmd.exe", "net.exe")`)
	assert.True(t, result.Validation.IsValid)

	back, err := tr.TranslateFromNative(ctx, result.Query)
	require.NoError(t, err)
	assert.Equal(t, entity.Condition{Operator: entity.OperatorNotIn, Value: []interface{}{"cmd.exe", "net.exe"}}, back.Query["process.name"])
}

func TestYARALTranslator_TranslateGroupsEventsBySource(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))
	d := cmdDetection()
	d.Query["network.destination.port"] = entity.Condition{Operator: entity.OperatorIn, Value: []interface{}{float64(4444), "8080"}}
	d.Query["process.command_line"] = entity.Condition{Operator: entity.OperatorRegex, Value: "a/b"}
	d.Metadata = map[string]interface{}{"severity": "informational"}

	result, err := tr.Translate(context.Background(), d)
	require.NoError(t, err)

	assert.Contains(t, result.Query, `$event.network where target.port in (4444, 8080)`)
	assert.Contains(t, result.Query, `target.process.command_line matches /a\/b/`)
	assert.Contains(t, result.Query, "$event.network and $event.process")
	assert.Contains(t, result.Query, `severity = "low"`)
	assert.Equal(t, 1, result.PerformanceMetrics.JoinCount)
}

func TestYARALTranslator_Validate(t *testing.T) {
	ctx := context.Background()
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))

	process := "    $event.process where target.process.name == \"cmd.exe\"\n"
	severity := "    severity = \"high\"\n"

	tests := []struct {
		name    string
		query   string
		valid   bool
		message string
	}{
		{"valid", yaralRuleText(severity, process, "$event.process"), true, ""},
		{"not a rule", "select * from events", false, "compile error"},
		{"unknown severity", yaralRuleText("    severity = \"urgent\"\n", process, "$event.process"), false, "severity"},
		{
			"unsupported event type",
			yaralRuleText(severity, "    $event.dns where network.dns.questions.name == \"x\"\n", "$event.dns"),
			false, "unsupported type \"dns\"",
		},
		{"undeclared variable", yaralRuleText(severity, process, "$event.process and $event.file"), false, "undeclared variable $event.file"},
		{
			"too many condition operators",
			yaralRuleText(severity, process, strings.Repeat("$event.process and ", 11)+"$event.process"),
			false, "condition uses 11 operators, maximum is 10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tr.Validate(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.IsValid, result.Error)
			if tt.message != "" {
				assert.Contains(t, result.Error, tt.message)
			}
		})
	}
}

func TestYARALTranslator_ValidateWarnsWithoutSeverity(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))
	query := yaralRuleText("    author = \"soc\"\n", "    $event.file where target.file.name == \"a.txt\"\n", "$event.file")

	result, err := tr.Validate(context.Background(), query)
	require.NoError(t, err)
	assert.True(t, result.IsValid, result.Error)
	assert.Equal(t, []string{"meta has no severity"}, result.Warnings)
}

func TestYARALTranslator_ValidateCancelled(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Validate(ctx, yaralRuleText("", "    $event.file where target.file.name == \"a\"\n", "$event.file"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestYARALTranslator_TranslateFromNative(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))
	native := yaralRuleText(
		"    author = \"soc\"\n    severity = \"high\"\n    mitre_attack = \"T1059, T1059.003\"\n",
		`    $event.process where target.process.name in ("cmd.exe", "wscript.exe") and not principal.process.name in ("explorer.exe") and target.process.command_line matches /whoami\/all/ and target.process.file.full_path matches "C:\\Users\\*"`+"\n",
		"$event.process",
	)

	d, err := tr.TranslateFromNative(context.Background(), native)
	require.NoError(t, err)

	assert.Equal(t, entity.OperatorIn, d.Query["process.name"].Operator)
	assert.Equal(t, []string{"cmd.exe", "wscript.exe"}, d.Query["process.name"].Values())
	assert.Equal(t, entity.OperatorNotIn, d.Query["process.parent.name"].Operator)
	assert.Equal(t, entity.Condition{Operator: entity.OperatorRegex, Value: "whoami/all"}, d.Query["process.command_line"])
	assert.Equal(t, entity.Condition{Operator: entity.OperatorStartsWith, Value: `C:\Users\`}, d.Query["process.path"])
	assert.Equal(t, map[string][]string{"T1059": {"T1059.003"}}, d.MitreMappings)
	assert.Equal(t, "high", d.Severity())
	assert.Equal(t, "soc", d.MetadataString("author"))
	assert.Equal(t, entity.DataSourceProcess, d.Source())
}

func TestYARALTranslator_TranslateFromNativeRejectsGarbage(t *testing.T) {
	tr := NewYARALTranslator(DefaultYARALConfig(), testLogger(t))

	_, err := tr.TranslateFromNative(context.Background(), "rule {")
	var terr *entity.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, entity.StageValidation, terr.Stage)
}
