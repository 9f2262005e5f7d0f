package entity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var techniqueIDPattern = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)

// ValidationMeta summarises a canonical detection that passed validation
type ValidationMeta struct {
	FieldCount     int      `json:"field_count"`
	TechniqueCount int      `json:"technique_count"`
	Fields         []string `json:"fields"`
}

// ValidateCanonical checks the shape of a canonical detection and returns the
// first violation found.
func ValidateCanonical(d *CanonicalDetection) (*ValidationMeta, error) {
	if d == nil {
		return nil, &ValidationError{Reason: "detection is required"}
	}
	if len(d.Query) == 0 {
		return nil, &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if d.DataModel == nil {
		return nil, &ValidationError{Field: "data_model", Reason: "is required"}
	}
	if !d.DataModel.Source.IsValid() {
		return nil, &ValidationError{
			Field:  "data_model.source",
			Reason: fmt.Sprintf("unknown source %q", d.DataModel.Source),
		}
	}

	fields := d.Fields()
	for _, field := range fields {
		if err := validateCondition(field, d.Query[field]); err != nil {
			return nil, err
		}
	}

	techniques := make([]string, 0, len(d.MitreMappings))
	for technique := range d.MitreMappings {
		techniques = append(techniques, technique)
	}
	sort.Strings(techniques)

	for _, technique := range techniques {
		if !techniqueIDPattern.MatchString(technique) {
			return nil, &ValidationError{
				Field:  "mitre_mappings",
				Reason: fmt.Sprintf("invalid technique id %q", technique),
			}
		}
		subPattern := regexp.MustCompile(`^` + regexp.QuoteMeta(technique) + `\.\d{3}$`)
		for _, sub := range d.MitreMappings[technique] {
			if !subPattern.MatchString(sub) {
				return nil, &ValidationError{
					Field:  "mitre_mappings." + technique,
					Reason: fmt.Sprintf("invalid sub-technique id %q", sub),
				}
			}
		}
	}

	return &ValidationMeta{
		FieldCount:     len(fields),
		TechniqueCount: len(techniques),
		Fields:         fields,
	}, nil
}

func validateCondition(field string, cond Condition) error {
	if strings.TrimSpace(field) == "" {
		return &ValidationError{Field: "query", Reason: "field path must not be empty"}
	}
	path := "query." + field
	if !cond.Operator.IsValid() {
		return &ValidationError{Field: path, Reason: fmt.Sprintf("unknown operator %q", cond.Operator)}
	}
	if cond.Value == nil {
		return &ValidationError{Field: path, Reason: "value is required"}
	}
	if cond.Operator.IsList() && len(cond.Values()) == 0 {
		return &ValidationError{Field: path, Reason: fmt.Sprintf("operator %s needs at least one value", cond.Operator)}
	}
	if cond.Operator == OperatorRegex {
		if _, err := regexp.Compile(cond.Scalar()); err != nil {
			return &ValidationError{Field: path, Reason: fmt.Sprintf("invalid regex: %v", err)}
		}
	}
	return nil
}
