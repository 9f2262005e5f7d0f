package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Platform identifies a detection platform
type Platform string

const (
	PlatformSentinel  Platform = "sentinel"
	PlatformSplunk    Platform = "splunk"
	PlatformSigma     Platform = "sigma"
	PlatformChronicle Platform = "chronicle"
)

// AllPlatforms returns the supported platforms in a stable order
func AllPlatforms() []Platform {
	return []Platform{PlatformSentinel, PlatformSplunk, PlatformSigma, PlatformChronicle}
}

// IsValid reports whether p is a supported platform
func (p Platform) IsValid() bool {
	switch p {
	case PlatformSentinel, PlatformSplunk, PlatformSigma, PlatformChronicle:
		return true
	}
	return false
}

// ParsePlatform normalises a platform identifier
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", &UnsupportedPlatformError{Platform: s}
	}
	return p, nil
}

// Operator is a canonical comparison operator
type Operator string

const (
	OperatorEquals     Operator = "equals"
	OperatorContains   Operator = "contains"
	OperatorStartsWith Operator = "startswith"
	OperatorEndsWith   Operator = "endswith"
	OperatorRegex      Operator = "regex"
	OperatorIn         Operator = "in"
	OperatorNotIn      Operator = "notin"
	OperatorLike       Operator = "like"
)

// IsValid reports whether o is a known operator
func (o Operator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorContains, OperatorStartsWith, OperatorEndsWith,
		OperatorRegex, OperatorIn, OperatorNotIn, OperatorLike:
		return true
	}
	return false
}

// IsList reports whether the operator takes a list of values
func (o Operator) IsList() bool {
	return o == OperatorIn || o == OperatorNotIn
}

// ParseOperator parses an operator name, case-insensitively
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	if !op.IsValid() {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// UnmarshalJSON lowercases the operator; unknown names are kept and
// rejected later by ValidateCanonical.
func (o *Operator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("operator must be a string: %w", err)
	}
	*o = Operator(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

// DataSource is the logical event source of a detection
type DataSource string

const (
	DataSourceProcess  DataSource = "process"
	DataSourceFile     DataSource = "file"
	DataSourceNetwork  DataSource = "network"
	DataSourceRegistry DataSource = "registry"
)

// IsValid reports whether d is a known data source
func (d DataSource) IsValid() bool {
	switch d {
	case DataSourceProcess, DataSourceFile, DataSourceNetwork, DataSourceRegistry:
		return true
	}
	return false
}

// DefaultCategory returns the event category used when none is given
func (d DataSource) DefaultCategory() string {
	switch d {
	case DataSourceFile:
		return "file_event"
	case DataSourceNetwork:
		return "network_connection"
	case DataSourceRegistry:
		return "registry_event"
	default:
		return "process_creation"
	}
}

// DataSources lists the known data sources
func DataSources() []DataSource {
	return []DataSource{DataSourceProcess, DataSourceFile, DataSourceNetwork, DataSourceRegistry}
}

// Condition is a single field comparison
type Condition struct {
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Values returns the condition value as strings. Scalars yield one element.
func (c Condition) Values() []string {
	switch v := c.Value.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, FormatValue(item))
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case nil:
		return nil
	default:
		return []string{FormatValue(v)}
	}
}

// Scalar returns the first value, or "" when there is none
func (c Condition) Scalar() string {
	values := c.Values()
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// DataModel selects the logical event category
type DataModel struct {
	Source   DataSource `json:"source"`
	Category string     `json:"category,omitempty"`
}

// CanonicalDetection is the platform-neutral form of a detection rule
type CanonicalDetection struct {
	Query         map[string]Condition   `json:"query"`
	DataModel     *DataModel             `json:"data_model"`
	MitreMappings map[string][]string    `json:"mitre_mappings,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ParseCanonicalJSON decodes a canonical detection payload
func ParseCanonicalJSON(data []byte) (*CanonicalDetection, error) {
	var d CanonicalDetection
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return &d, nil
}

// Fields returns the referenced canonical field paths, sorted
func (d *CanonicalDetection) Fields() []string {
	fields := make([]string, 0, len(d.Query))
	for f := range d.Query {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Source returns the data source, defaulting to process
func (d *CanonicalDetection) Source() DataSource {
	if d.DataModel == nil || d.DataModel.Source == "" {
		return DataSourceProcess
	}
	return d.DataModel.Source
}

// Category returns the event category, falling back to the source default
func (d *CanonicalDetection) Category() string {
	if d.DataModel != nil && d.DataModel.Category != "" {
		return d.DataModel.Category
	}
	return d.Source().DefaultCategory()
}

// MetadataString returns a metadata value as a string
func (d *CanonicalDetection) MetadataString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// MetadataList returns a metadata value as a list of strings
func (d *CanonicalDetection) MetadataList(key string) []string {
	if d.Metadata == nil {
		return nil
	}
	return Condition{Value: d.Metadata[key]}.Values()
}

// Severity returns the normalised severity, "medium" when unset
func (d *CanonicalDetection) Severity() string {
	s := strings.ToLower(d.MetadataString("severity"))
	if s == "" {
		return "medium"
	}
	return s
}

// Techniques returns technique ids with their sub-techniques flattened, sorted
func (d *CanonicalDetection) Techniques() []string {
	seen := make(map[string]struct{})
	for technique, subs := range d.MitreMappings {
		seen[technique] = struct{}{}
		for _, sub := range subs {
			seen[sub] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MitreFromTechniques groups flat technique ids into technique -> sub-techniques
func MitreFromTechniques(ids []string) map[string][]string {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		parent := id
		if i := strings.Index(id, "."); i > 0 {
			parent = id[:i]
		}
		if _, ok := out[parent]; !ok {
			out[parent] = []string{}
		}
		if parent != id {
			out[parent] = append(out[parent], id)
		}
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}

// FormatValue renders a payload value as plain text
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// IsNumeric reports whether s is an integer or decimal literal
func IsNumeric(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" || s == "." {
		return false
	}
	dot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return true
}
