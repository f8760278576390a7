package schema

import "sort"

// SchemaMap maps trigger values to opaque secondary schema references (for
// example a schema file name). The zero value is an empty map.
type SchemaMap struct {
	entries map[string]string
}

// NewSchemaMap copies entries into a SchemaMap.
func NewSchemaMap(entries map[string]string) SchemaMap {
	if len(entries) == 0 {
		return SchemaMap{}
	}
	out := make(map[string]string, len(entries))
	for trigger, ref := range entries {
		out[trigger] = ref
	}
	return SchemaMap{entries: out}
}

// Lookup returns the schema reference for a trigger value. The boolean is
// false when the value has no mapping.
func (m SchemaMap) Lookup(trigger string) (string, bool) {
	if len(m.entries) == 0 {
		return "", false
	}
	ref, ok := m.entries[trigger]
	return ref, ok
}

// Len returns the number of mapped trigger values.
func (m SchemaMap) Len() int {
	return len(m.entries)
}

// Empty reports whether the map has no entries. Schemas without
// x-schema-map have an empty map.
func (m SchemaMap) Empty() bool {
	return len(m.entries) == 0
}

// Triggers returns the mapped trigger values in sorted order.
func (m SchemaMap) Triggers() []string {
	if len(m.entries) == 0 {
		return nil
	}
	out := make([]string, 0, len(m.entries))
	for trigger := range m.entries {
		out = append(out, trigger)
	}
	sort.Strings(out)
	return out
}
