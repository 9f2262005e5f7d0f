package translator

import (
	"sort"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// FieldMapper maps canonical dotted field paths to a platform's native field
// names and back. Unknown names pass through unchanged in both directions.
type FieldMapper struct {
	forward map[string]string
	reverse map[string]string
}

// NewFieldMapper builds a mapper from a canonical -> native table
func NewFieldMapper(table map[string]string) *FieldMapper {
	m := &FieldMapper{
		forward: make(map[string]string, len(table)),
		reverse: make(map[string]string, len(table)),
	}
	for canonical, native := range table {
		m.forward[canonical] = native
		m.reverse[native] = canonical
	}
	return m
}

// MapField returns the native name for a canonical path
func (m *FieldMapper) MapField(path string) string {
	if native, ok := m.forward[path]; ok {
		return native
	}
	return path
}

// ReverseField returns the canonical path for a native name
func (m *FieldMapper) ReverseField(native string) string {
	if canonical, ok := m.reverse[native]; ok {
		return canonical
	}
	return native
}

// CanonicalPaths lists every mapped canonical path, sorted
func (m *FieldMapper) CanonicalPaths() []string {
	paths := make([]string, 0, len(m.forward))
	for p := range m.forward {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// OperatorMapper maps canonical operators to platform syntax tokens
type OperatorMapper struct {
	tokens map[entity.Operator]string
}

// MapOperator returns the platform token. Unknown operators are returned as-is
// and left for the condition builder to reject.
func (m *OperatorMapper) MapOperator(op entity.Operator) string {
	if token, ok := m.tokens[op]; ok {
		return token
	}
	return string(op)
}

// field tables share the same leaf keys for every platform
var fieldTables = map[entity.Platform]map[string]string{
	entity.PlatformSentinel: {
		"process.name":         "ProcessName",
		"process.command_line": "CommandLine",
		"process.pid":          "ProcessId",
		"process.parent.name":  "ParentProcessName",
		"process.parent.pid":   "ParentProcessId",
		"process.user":         "AccountName",
		"process.path":         "ProcessPath",
		"process.hash.sha256":  "ProcessSHA256",

		"file.name":        "FileName",
		"file.path":        "FolderPath",
		"file.hash.sha256": "SHA256",
		"file.hash.md5":    "MD5",
		"file.size":        "FileSize",
		"file.extension":   "FileExtension",

		"network.source.ip":        "SourceIp",
		"network.source.port":      "SourcePort",
		"network.destination.ip":   "DestinationIp",
		"network.destination.port": "DestinationPort",
		"network.protocol":         "Protocol",
		"network.direction":        "Direction",

		"registry.key":   "RegistryKey",
		"registry.value": "RegistryValueName",
		"registry.data":  "RegistryValueData",
		"registry.hive":  "RegistryHive",
	},
	entity.PlatformSplunk: {
		"process.name":         "process_name",
		"process.command_line": "process",
		"process.pid":          "process_id",
		"process.parent.name":  "parent_process_name",
		"process.parent.pid":   "parent_process_id",
		"process.user":         "user",
		"process.path":         "process_path",
		"process.hash.sha256":  "process_hash",

		"file.name":        "file_name",
		"file.path":        "file_path",
		"file.hash.sha256": "file_hash",
		"file.hash.md5":    "file_hash_md5",
		"file.size":        "file_size",
		"file.extension":   "file_extension",

		"network.source.ip":        "src_ip",
		"network.source.port":      "src_port",
		"network.destination.ip":   "dest_ip",
		"network.destination.port": "dest_port",
		"network.protocol":         "transport",
		"network.direction":        "direction",

		"registry.key":   "registry_key_name",
		"registry.value": "registry_value_name",
		"registry.data":  "registry_value_data",
		"registry.hive":  "registry_hive",
	},
	entity.PlatformSigma: {
		"process.name":         "OriginalFileName",
		"process.command_line": "CommandLine",
		"process.pid":          "ProcessId",
		"process.parent.name":  "ParentImage",
		"process.parent.pid":   "ParentProcessId",
		"process.user":         "User",
		"process.path":         "Image",
		"process.hash.sha256":  "Hashes",

		"file.name":        "FileName",
		"file.path":        "TargetFilename",
		"file.hash.sha256": "sha256",
		"file.hash.md5":    "md5",
		"file.size":        "FileSize",
		"file.extension":   "FileExtension",

		"network.source.ip":        "SourceIp",
		"network.source.port":      "SourcePort",
		"network.destination.ip":   "DestinationIp",
		"network.destination.port": "DestinationPort",
		"network.protocol":         "Protocol",
		"network.direction":        "Initiated",

		"registry.key":   "TargetObject",
		"registry.value": "ValueName",
		"registry.data":  "Details",
		"registry.hive":  "RegistryHive",
	},
	entity.PlatformChronicle: {
		"process.name":         "target.process.name",
		"process.command_line": "target.process.command_line",
		"process.pid":          "target.process.pid",
		"process.parent.name":  "principal.process.name",
		"process.parent.pid":   "principal.process.pid",
		"process.user":         "principal.user.userid",
		"process.path":         "target.process.file.full_path",
		"process.hash.sha256":  "target.process.file.sha256",

		"file.name":        "target.file.name",
		"file.path":        "target.file.full_path",
		"file.hash.sha256": "target.file.sha256",
		"file.hash.md5":    "target.file.md5",
		"file.size":        "target.file.size",
		"file.extension":   "target.file.extension",

		"network.source.ip":        "principal.ip",
		"network.source.port":      "principal.port",
		"network.destination.ip":   "target.ip",
		"network.destination.port": "target.port",
		"network.protocol":         "network.ip_protocol",
		"network.direction":        "network.direction",

		"registry.key":   "target.registry.registry_key",
		"registry.value": "target.registry.registry_value_name",
		"registry.data":  "target.registry.registry_value_data",
		"registry.hive":  "target.registry.registry_hive",
	},
}

var operatorTables = map[entity.Platform]map[entity.Operator]string{
	entity.PlatformSentinel: {
		entity.OperatorEquals:     "==",
		entity.OperatorContains:   "contains",
		entity.OperatorStartsWith: "startswith",
		entity.OperatorEndsWith:   "endswith",
		entity.OperatorRegex:      "matches regex",
		entity.OperatorIn:         "in",
		entity.OperatorNotIn:      "!in",
		entity.OperatorLike:       "matches regex",
	},
	entity.PlatformSplunk: {
		entity.OperatorEquals:     "=",
		entity.OperatorContains:   "=",
		entity.OperatorStartsWith: "=",
		entity.OperatorEndsWith:   "=",
		entity.OperatorRegex:      "match",
		entity.OperatorIn:         "IN",
		entity.OperatorNotIn:      "NOT IN",
		entity.OperatorLike:       "like",
	},
	entity.PlatformSigma: {
		entity.OperatorEquals:     "",
		entity.OperatorContains:   "|contains",
		entity.OperatorStartsWith: "|startswith",
		entity.OperatorEndsWith:   "|endswith",
		entity.OperatorRegex:      "|re",
		entity.OperatorIn:         "",
		entity.OperatorNotIn:      "",
		entity.OperatorLike:       "",
	},
	entity.PlatformChronicle: {
		entity.OperatorEquals:     "==",
		entity.OperatorContains:   "matches",
		entity.OperatorStartsWith: "matches",
		entity.OperatorEndsWith:   "matches",
		entity.OperatorRegex:      "matches",
		entity.OperatorIn:         "in",
		entity.OperatorNotIn:      "not in",
		entity.OperatorLike:       "matches",
	},
}

// FieldMapperFor returns the field mapper for a platform. Platforms without a
// table get an identity mapper.
func FieldMapperFor(platform entity.Platform) *FieldMapper {
	return NewFieldMapper(fieldTables[platform])
}

// OperatorMapperFor returns the operator mapper for a platform
func OperatorMapperFor(platform entity.Platform) *OperatorMapper {
	return &OperatorMapper{tokens: operatorTables[platform]}
}

// mappingsUsed restricts a mapper to the referenced fields
func mappingsUsed(m *FieldMapper, fields []string) map[string]string {
	used := make(map[string]string, len(fields))
	for _, f := range fields {
		used[f] = m.MapField(f)
	}
	return used
}
