package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDetection() *CanonicalDetection {
	return &CanonicalDetection{
		Query: map[string]Condition{
			"process.name":         {Operator: OperatorEquals, Value: "powershell.exe"},
			"process.command_line": {Operator: OperatorContains, Value: "-enc"},
		},
		DataModel:     &DataModel{Source: DataSourceProcess, Category: "process_creation"},
		MitreMappings: map[string][]string{"T1059": {"T1059.001"}},
	}
}

func TestValidateCanonical_Valid(t *testing.T) {
	meta, err := ValidateCanonical(validDetection())
	require.NoError(t, err)
	assert.Equal(t, 2, meta.FieldCount)
	assert.Equal(t, 1, meta.TechniqueCount)
	assert.Equal(t, []string{"process.command_line", "process.name"}, meta.Fields)
}

func TestValidateCanonical_FailFast(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *CanonicalDetection)
		field  string
	}{
		{"nil query", func(d *CanonicalDetection) { d.Query = nil }, "query"},
		{"missing data model", func(d *CanonicalDetection) { d.DataModel = nil }, "data_model"},
		{"bad source", func(d *CanonicalDetection) { d.DataModel.Source = "dns" }, "data_model.source"},
		{"bad technique", func(d *CanonicalDetection) { d.MitreMappings = map[string][]string{"X123": {}} }, "mitre_mappings"},
		{"lowercase technique", func(d *CanonicalDetection) { d.MitreMappings = map[string][]string{"t1059": {}} }, "mitre_mappings"},
		{"foreign sub-technique", func(d *CanonicalDetection) {
			d.MitreMappings = map[string][]string{"T1059": {"T1055.001"}}
		}, "mitre_mappings.T1059"},
		{"unknown operator", func(d *CanonicalDetection) {
			d.Query["process.name"] = Condition{Operator: "between", Value: "a"}
		}, "query.process.name"},
		{"nil value", func(d *CanonicalDetection) {
			d.Query["process.name"] = Condition{Operator: OperatorEquals}
		}, "query.process.name"},
		{"empty in list", func(d *CanonicalDetection) {
			d.Query["process.name"] = Condition{Operator: OperatorIn, Value: []interface{}{}}
		}, "query.process.name"},
		{"bad regex", func(d *CanonicalDetection) {
			d.Query["process.name"] = Condition{Operator: OperatorRegex, Value: "(unclosed"}
		}, "query.process.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDetection()
			tt.mutate(d)

			_, err := ValidateCanonical(d)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestValidateCanonical_ReportsFirstSortedViolation(t *testing.T) {
	d := validDetection()
	d.Query["a.field"] = Condition{Operator: "nope", Value: "x"}
	d.Query["z.field"] = Condition{Operator: "nope", Value: "x"}

	_, err := ValidateCanonical(d)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "query.a.field", vErr.Field)
}

func TestParseCanonicalJSON(t *testing.T) {
	payload := []byte(`{
		"query": {
			"process.name": {"operator": "EQUALS", "value": "powershell.exe"},
			"network.destination.port": {"operator": "in", "value": [443, 8443]}
		},
		"data_model": {"source": "process", "category": "process_creation"},
		"mitre_mappings": {"T1055": ["T1055.001"]},
		"metadata": {"severity": "High", "author": "soc"}
	}`)

	d, err := ParseCanonicalJSON(payload)
	require.NoError(t, err)
	assert.Equal(t, OperatorEquals, d.Query["process.name"].Operator)
	assert.Equal(t, []string{"443", "8443"}, d.Query["network.destination.port"].Values())
	assert.Equal(t, "high", d.Severity())
	assert.Equal(t, []string{"T1055", "T1055.001"}, d.Techniques())

	_, err = ValidateCanonical(d)
	assert.NoError(t, err)

	_, err = ParseCanonicalJSON([]byte(`{"query": `))
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" Sentinel ")
	require.NoError(t, err)
	assert.Equal(t, PlatformSentinel, p)

	_, err = ParsePlatform("qradar")
	var uErr *UnsupportedPlatformError
	require.ErrorAs(t, err, &uErr)
	assert.Equal(t, "qradar", uErr.Platform)
}

func TestMitreFromTechniques(t *testing.T) {
	got := MitreFromTechniques([]string{"t1059.001", "T1055", "T1059"})
	assert.Equal(t, map[string][]string{
		"T1055": {},
		"T1059": {"T1059.001"},
	}, got)
	assert.Nil(t, MitreFromTechniques(nil))
}

func TestIsNumeric(t *testing.T) {
	assert.True(t, IsNumeric("443"))
	assert.True(t, IsNumeric("-1.5"))
	assert.False(t, IsNumeric("Inf"))
	assert.False(t, IsNumeric("1e5"))
	assert.False(t, IsNumeric(""))
	assert.False(t, IsNumeric("1.2.3"))
}
