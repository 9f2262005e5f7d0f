package translator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

func TestKQLTranslator_Translate(t *testing.T) {
	tr := NewKQLTranslator(DefaultKQLConfig(), testLogger(t))
	d := &entity.CanonicalDetection{
		Query: map[string]entity.Condition{
			"process.name": {Operator: entity.OperatorEquals, Value: "powershell.exe"},
		},
		DataModel: &entity.DataModel{Source: entity.DataSourceProcess},
	}

	result, err := tr.Translate(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, "SecurityEvent\n| where ProcessName == 'powershell.exe'\n| project ProcessName", result.Query)
	assert.Contains(t, result.Query, "where ProcessName == 'powershell.exe'")
	assert.Equal(t, entity.PlatformSentinel, result.Platform)
	assert.Equal(t, map[string]string{"process.name": "ProcessName"}, result.FieldMappingsUsed)
	assert.True(t, result.Validation.IsValid)
	assert.Equal(t, 12, result.PerformanceMetrics.ComplexityScore)
}

func TestKQLTranslator_TranslateOperators(t *testing.T) {
	tr := NewKQLTranslator(DefaultKQLConfig(), testLogger(t))
	d := &entity.CanonicalDetection{
		Query: map[string]entity.Condition{
			"network.destination.port": {Operator: entity.OperatorIn, Value: []interface{}{float64(4444), float64(8080)}},
			"network.destination.ip":   {Operator: entity.OperatorLike, Value: "10.%"},
		},
		DataModel: &entity.DataModel{Source: entity.DataSourceNetwork},
	}

	result, err := tr.Translate(context.Background(), d)
	require.NoError(t, err)

	assert.Contains(t, result.Query, "NetworkConnection\n")
	assert.Contains(t, result.Query, `DestinationIp matches regex '^10\\..*$'`)
	assert.Contains(t, result.Query, "DestinationPort in (4444, 8080)")
}

func TestKQLTranslator_Validate(t *testing.T) {
	tr := NewKQLTranslator(DefaultKQLConfig(), testLogger(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		query   string
		valid   bool
		message string
	}{
		{"table reference", "SecurityEvent | where ProcessName == 'cmd.exe'", true, ""},
		{"missing table", "where x == 1", false, "table reference"},
		{"empty", "   ", false, "query is empty"},
		{
			"too many joins",
			"SecurityEvent | join (A) on X | join (B) on X | join (C) on X | join (D) on X",
			false, "join count 4 exceeds maximum of 3",
		},
		{
			"literal join is not counted",
			"SecurityEvent | where CommandLine contains 'join join join join'",
			true, "",
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

func TestKQLTranslator_ConfigurableLimits(t *testing.T) {
	ctx := context.Background()

	tr := NewKQLTranslator(KQLConfig{MaxFunctions: 1}, testLogger(t))
	result, err := tr.Validate(ctx, "SecurityEvent | extend a = tolower(X), b = toupper(Y)")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "function count 2 exceeds maximum of 1", result.Error)

	tr = NewKQLTranslator(KQLConfig{MaxComplexity: 10}, testLogger(t))
	result, err = tr.Validate(ctx, "SecurityEvent | where A == 1 | project A")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "complexity score 12 exceeds maximum of 10", result.Error)
}

func TestKQLTranslator_TranslateFromNative(t *testing.T) {
	tr := NewKQLTranslator(DefaultKQLConfig(), testLogger(t))

	d, err := tr.TranslateFromNative(context.Background(),
		"DeviceFileEvents | where FileName endswith '.ps1' and FileSize == 1024 and FolderPath in ('C:\\\\Temp', 'D:\\\\Temp')")
	require.NoError(t, err)

	assert.Equal(t, entity.DataSourceFile, d.Source())
	assert.Equal(t, entity.Condition{Operator: entity.OperatorEndsWith, Value: ".ps1"}, d.Query["file.name"])
	assert.Equal(t, entity.Condition{Operator: entity.OperatorEquals, Value: float64(1024)}, d.Query["file.size"])
	assert.Equal(t, entity.OperatorIn, d.Query["file.path"].Operator)
	assert.Equal(t, []string{`C:\Temp`, `D:\Temp`}, d.Query["file.path"].Values())
}

func TestKQLTranslator_TranslateFromNativeRejectsMissingTable(t *testing.T) {
	tr := NewKQLTranslator(DefaultKQLConfig(), testLogger(t))

	_, err := tr.TranslateFromNative(context.Background(), "where ProcessName == 'cmd.exe'")
	var terr *entity.TranslationError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, entity.StageValidation, terr.Stage)
}

func TestKQLTranslator_CancelledContext(t *testing.T) {
	tr := NewKQLTranslator(DefaultKQLConfig(), testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Translate(ctx, cmdDetection())
	assert.ErrorIs(t, err, context.Canceled)
}
