package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/discoverer/description"
)

// AttributeSeparator splits the name and value of a serialized attribute
// target: "name=value", "name", "name=" or "=value".
const AttributeSeparator = "="

// MatchMode is inferred from which parts of an AttributeTarget are present.
type MatchMode int

const (
	// ModeInvalid targets carry neither a name nor a value and match nothing.
	ModeInvalid MatchMode = iota
	// ModeName matches any attribute with the given name.
	ModeName
	// ModeValue matches any attribute with the given value, whatever its name.
	ModeValue
	// ModePair matches an attribute by name and value.
	ModePair
)

// AttributeTarget is the target of a leaf over an attribute-valued field.
type AttributeTarget struct {
	Name     string
	Value    any
	HasName  bool
	HasValue bool
}

// Attr targets the attribute pair name/value.
func Attr(name string, value any) AttributeTarget {
	return AttributeTarget{Name: name, Value: value, HasName: true, HasValue: true}
}

// AttrName targets any attribute called name.
func AttrName(name string) AttributeTarget {
	return AttributeTarget{Name: name, HasName: true}
}

// AttrValue targets any attribute holding value.
func AttrValue(value any) AttributeTarget {
	return AttributeTarget{Value: value, HasValue: true}
}

// ParseAttributeTarget parses the serialized form of an attribute target.
func ParseAttributeTarget(s string) AttributeTarget {
	name, value, found := strings.Cut(s, AttributeSeparator)
	t := AttributeTarget{Name: name, HasName: name != ""}
	if found && value != "" {
		t.Value = value
		t.HasValue = true
	}
	return t
}

// Mode reports how the target matches.
func (t AttributeTarget) Mode() MatchMode {
	switch {
	case t.HasName && t.HasValue:
		return ModePair
	case t.HasName:
		return ModeName
	case t.HasValue:
		return ModeValue
	default:
		return ModeInvalid
	}
}

// String returns the serialized form.
func (t AttributeTarget) String() string {
	switch t.Mode() {
	case ModePair:
		return t.Name + AttributeSeparator + toString(t.Value)
	case ModeName:
		return t.Name
	case ModeValue:
		return AttributeSeparator + toString(t.Value)
	default:
		return ""
	}
}

type wireAttributeTarget struct {
	Name  *string `json:"name,omitempty"`
	Value any     `json:"value,omitempty"`
}

// MarshalJSON encodes the target as {"name":..,"value":..}.
func (t AttributeTarget) MarshalJSON() ([]byte, error) {
	var w wireAttributeTarget
	if t.HasName {
		name := t.Name
		w.Name = &name
	}
	if t.HasValue {
		w.Value = t.Value
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes either the object form or the serialized string form.
func (t *AttributeTarget) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = ParseAttributeTarget(s)
		return nil
	}
	var w wireAttributeTarget
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode attribute target: %w", err)
	}
	*t = AttributeTarget{}
	if w.Name != nil && *w.Name != "" {
		t.Name = *w.Name
		t.HasName = true
	}
	if w.Value != nil {
		t.Value = w.Value
		t.HasValue = true
	}
	return nil
}

// asAttributeTarget converts a leaf target for an attribute-valued field.
// Strings use the serialized form; other scalars are value-only targets.
func asAttributeTarget(v any) AttributeTarget {
	switch t := v.(type) {
	case AttributeTarget:
		return t
	case *AttributeTarget:
		if t == nil {
			return AttributeTarget{}
		}
		return *t
	case string:
		return ParseAttributeTarget(t)
	case nil:
		return AttributeTarget{}
	default:
		return AttrValue(v)
	}
}

// asScalarTarget converts a leaf target for a scalar or name field.
func asScalarTarget(v any) any {
	switch t := v.(type) {
	case AttributeTarget:
		if t.HasValue {
			return t.Value
		}
		return t.Name
	case *AttributeTarget:
		if t == nil {
			return nil
		}
		return asScalarTarget(*t)
	default:
		return v
	}
}

// Matches reports whether any atom of the field in d satisfies cmp against
// target. Matching is existential over collection fields.
func (f Field) Matches(d *description.ComponentDescription, cmp Comparison, target any) bool {
	if f.Kind() == KindAttributes {
		return matchAttributes(f.Atoms(d), cmp, asAttributeTarget(target))
	}
	target = asScalarTarget(target)
	for _, a := range f.Atoms(d) {
		if cmp.Compare(a.Key, target) {
			return true
		}
	}
	return false
}

func matchAttributes(atoms []Atom, cmp Comparison, t AttributeTarget) bool {
	mode := t.Mode()
	for _, a := range atoms {
		if matchAtom(a, cmp, t, mode) {
			return true
		}
	}
	return false
}

func matchAtom(a Atom, cmp Comparison, t AttributeTarget, mode MatchMode) bool {
	switch mode {
	case ModeName:
		return cmp.Compare(a.Key, t.Name)
	case ModeValue:
		return cmp.Compare(a.Value, t.Value)
	case ModePair:
		return Normalize(a.Key) == Normalize(t.Name) && cmp.Compare(a.Value, t.Value)
	default:
		return false
	}
}
