package calendar

import (
	"bytes"
	"encoding/json"
	"path"
	"strings"

	"sigs.k8s.io/yaml"
)

// ToJSON converts YAML documents (by file extension) to JSON and passes
// everything else through unchanged.
func ToJSON(data []byte, name string) ([]byte, error) {
	if !IsYAMLName(name) {
		return data, nil
	}
	out, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, WrapError(KindMalformedJSON, err, "invalid YAML document %s", name)
	}
	return out, nil
}

// IsYAMLName reports whether name carries a YAML extension.
func IsYAMLName(name string) bool {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// DecodeObject decodes a JSON object into its raw top-level fields.
func DecodeObject(data []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewError(KindMalformedJSON, "empty document")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, WrapError(KindMalformedJSON, err, "invalid JSON document")
	}
	if fields == nil {
		return nil, NewError(KindMalformedJSON, "document is not a JSON object")
	}
	return fields, nil
}

// ParseCalendar decodes and validates a calendar document.
func ParseCalendar(data []byte) (*Calendar, error) {
	fields, err := DecodeObject(data)
	if err != nil {
		return nil, err
	}
	cal := &Calendar{raw: json.RawMessage(bytes.TrimSpace(data))}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &cal.ID); err != nil {
			return nil, WrapError(KindMalformedPayload, err, "calendar id must be a string")
		}
	}
	if raw, ok := fields["name"]; ok {
		// name is informational, a non-string value is tolerated
		_ = json.Unmarshal(raw, &cal.Name)
	}
	if raw, ok := fields["months"]; ok {
		if err := json.Unmarshal(raw, &cal.Months); err != nil {
			return nil, WrapError(KindMalformedPayload, err, "calendar months must be an array")
		}
	}
	if raw, ok := fields["weekdays"]; ok {
		if err := json.Unmarshal(raw, &cal.Weekdays); err != nil {
			return nil, WrapError(KindMalformedPayload, err, "calendar weekdays must be an array")
		}
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// Validate enforces the minimum calendar contract.
func (c *Calendar) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ID) == "" {
		missing = append(missing, "id")
	}
	if len(c.Months) == 0 {
		missing = append(missing, "months")
	}
	if len(c.Weekdays) == 0 {
		missing = append(missing, "weekdays")
	}
	if len(missing) > 0 {
		return NewError(KindMalformedPayload, "invalid calendar data: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
