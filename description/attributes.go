package description

import (
	"encoding/json"
	"sort"
)

// AttributeSet is a set of name/value pairs keyed by name.
// Iteration is ordered by name. Putting an existing name replaces its value.
// The zero value is an empty set ready for use.
type AttributeSet struct {
	m map[string]string
}

// NewAttributeSet builds a set from alternating name/value pairs.
// A trailing name without a value is stored with an empty value.
func NewAttributeSet(pairs ...string) AttributeSet {
	var s AttributeSet
	for i := 0; i < len(pairs); i += 2 {
		value := ""
		if i+1 < len(pairs) {
			value = pairs[i+1]
		}
		s.Put(pairs[i], value)
	}
	return s
}

// Put inserts or replaces the attribute with the given name.
func (s *AttributeSet) Put(name, value string) {
	if s.m == nil {
		s.m = make(map[string]string)
	}
	s.m[name] = value
}

// Get returns the value stored under name.
func (s AttributeSet) Get(name string) (string, bool) {
	v, ok := s.m[name]
	return v, ok
}

// Has reports whether an attribute with the given name exists.
func (s AttributeSet) Has(name string) bool {
	_, ok := s.m[name]
	return ok
}

// Delete removes the attribute with the given name. Missing names are ignored.
func (s *AttributeSet) Delete(name string) {
	delete(s.m, name)
}

// Len returns the number of attributes.
func (s AttributeSet) Len() int {
	return len(s.m)
}

// Names returns the attribute names in ascending order.
func (s AttributeSet) Names() []string {
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Each calls fn for every attribute in name order.
func (s AttributeSet) Each(fn func(name, value string)) {
	for _, name := range s.Names() {
		fn(name, s.m[name])
	}
}

// Clone returns an independent copy of the set.
func (s AttributeSet) Clone() AttributeSet {
	var out AttributeSet
	for name, value := range s.m {
		out.Put(name, value)
	}
	return out
}

// Merge puts every attribute of other into s, replacing same-named entries.
func (s *AttributeSet) Merge(other AttributeSet) {
	for name, value := range other.m {
		s.Put(name, value)
	}
}

// Equal reports whether both sets hold the same pairs.
func (s AttributeSet) Equal(other AttributeSet) bool {
	if len(s.m) != len(other.m) {
		return false
	}
	for name, value := range s.m {
		if v, ok := other.m[name]; !ok || v != value {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a JSON object.
func (s AttributeSet) MarshalJSON() ([]byte, error) {
	if s.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.m)
}

// UnmarshalJSON decodes a JSON object. A null value yields an empty set.
func (s *AttributeSet) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.m = nil
	for name, value := range m {
		s.Put(name, value)
	}
	return nil
}

// MarshalYAML encodes the set as a YAML mapping.
func (s AttributeSet) MarshalYAML() (any, error) {
	if s.m == nil {
		return map[string]string{}, nil
	}
	return s.m, nil
}

// UnmarshalYAML decodes a YAML mapping.
func (s *AttributeSet) UnmarshalYAML(unmarshal func(any) error) error {
	var m map[string]string
	if err := unmarshal(&m); err != nil {
		return err
	}
	s.m = nil
	for name, value := range m {
		s.Put(name, value)
	}
	return nil
}

// NameSet is a set of names with ordered iteration.
// The zero value is an empty set ready for use.
type NameSet struct {
	m map[string]struct{}
}

// NewNameSet builds a set from the given names.
func NewNameSet(names ...string) NameSet {
	var s NameSet
	for _, name := range names {
		s.Add(name)
	}
	return s
}

// Add inserts name. Adding an existing name is a no-op.
func (s *NameSet) Add(name string) {
	if s.m == nil {
		s.m = make(map[string]struct{})
	}
	s.m[name] = struct{}{}
}

// Has reports whether name is in the set.
func (s NameSet) Has(name string) bool {
	_, ok := s.m[name]
	return ok
}

// Delete removes name and reports whether it was present.
func (s *NameSet) Delete(name string) bool {
	if _, ok := s.m[name]; !ok {
		return false
	}
	delete(s.m, name)
	return true
}

// Len returns the number of names.
func (s NameSet) Len() int {
	return len(s.m)
}

// Names returns the names in ascending order.
func (s NameSet) Names() []string {
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the set.
func (s NameSet) Clone() NameSet {
	var out NameSet
	for name := range s.m {
		out.Add(name)
	}
	return out
}

// Merge adds every name of other to s.
func (s *NameSet) Merge(other NameSet) {
	for name := range other.m {
		s.Add(name)
	}
}

// Equal reports whether both sets hold the same names.
func (s NameSet) Equal(other NameSet) bool {
	if len(s.m) != len(other.m) {
		return false
	}
	for name := range s.m {
		if !other.Has(name) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s NameSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes a JSON array. A null value yields an empty set.
func (s *NameSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	s.m = nil
	for _, name := range names {
		s.Add(name)
	}
	return nil
}

// MarshalYAML encodes the set as a sorted YAML sequence.
func (s NameSet) MarshalYAML() (any, error) {
	return s.Names(), nil
}

// UnmarshalYAML decodes a YAML sequence.
func (s *NameSet) UnmarshalYAML(unmarshal func(any) error) error {
	var names []string
	if err := unmarshal(&names); err != nil {
		return err
	}
	s.m = nil
	for _, name := range names {
		s.Add(name)
	}
	return nil
}
