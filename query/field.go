package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360studio/discoverer/description"
)

// Field identifies one queryable part of a component description.
type Field int

// Queryable fields.
const (
	FieldID Field = iota + 1
	FieldPort
	FieldType
	FieldClassname
	// FieldHostname matches either the hostname or the host address.
	FieldHostname
	FieldLocation
	FieldVersion
	FieldConstantAttributes
	FieldNonConstantAttributes
	FieldInAttributes
	FieldOutAttributes
	FieldCallbacks
	FieldServices
	FieldSubscribers
)

// FieldKind groups fields by the shape of their extracted values.
type FieldKind int

const (
	// KindScalar fields hold a single value.
	KindScalar FieldKind = iota
	// KindNames fields hold a set of names.
	KindNames
	// KindAttributes fields hold name/value pairs.
	KindAttributes
)

// Facet selects which part of an atom an index table is keyed by.
type Facet int

const (
	// FacetKey keys by the scalar value, member name or attribute name.
	FacetKey Facet = iota
	// FacetValue keys by the attribute value (or type).
	FacetValue
	// FacetPair keys by the normalized name/value pair.
	FacetPair
)

// PairSeparator joins a name and a value inside a FacetPair key.
const PairSeparator = "\x1f"

var fieldNames = map[Field]string{
	FieldID:                    "id",
	FieldPort:                  "port",
	FieldType:                  "type",
	FieldClassname:             "classname",
	FieldHostname:              "hostname",
	FieldLocation:              "location",
	FieldVersion:               "version",
	FieldConstantAttributes:    "constantAttributes",
	FieldNonConstantAttributes: "nonConstantAttributes",
	FieldInAttributes:          "inAttributes",
	FieldOutAttributes:         "outAttributes",
	FieldCallbacks:             "callbacks",
	FieldServices:              "services",
	FieldSubscribers:           "subscribers",
}

// fieldAliases maps normalized spellings to fields.
var fieldAliases = map[string]Field{
	"hostaddress":             FieldHostname,
	"host":                    FieldHostname,
	"constant_attributes":     FieldConstantAttributes,
	"non_constant_attributes": FieldNonConstantAttributes,
	"nonconstant_attributes":  FieldNonConstantAttributes,
	"in_attributes":           FieldInAttributes,
	"out_attributes":          FieldOutAttributes,
	"attributes":              FieldConstantAttributes,
}

func init() {
	for f, name := range fieldNames {
		fieldAliases[strings.ToLower(name)] = f
	}
}

// Fields returns every queryable field in declaration order.
func Fields() []Field {
	out := make([]Field, 0, len(fieldNames))
	for f := FieldID; f <= FieldSubscribers; f++ {
		out = append(out, f)
	}
	return out
}

// ParseField maps a field name to its Field. Unknown names return false.
func ParseField(name string) (Field, bool) {
	f, ok := fieldAliases[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// String returns the canonical field name.
func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// MarshalJSON encodes the canonical field name.
func (f Field) MarshalJSON() ([]byte, error) {
	if _, ok := fieldNames[f]; !ok {
		return nil, fmt.Errorf("invalid field %d", int(f))
	}
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes any accepted field spelling.
func (f *Field) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseField(s)
	if !ok {
		return fmt.Errorf("unknown field %q", s)
	}
	*f = parsed
	return nil
}

// Kind reports the shape of the field.
func (f Field) Kind() FieldKind {
	switch f {
	case FieldConstantAttributes, FieldNonConstantAttributes, FieldInAttributes, FieldOutAttributes:
		return KindAttributes
	case FieldCallbacks, FieldServices, FieldSubscribers:
		return KindNames
	default:
		return KindScalar
	}
}

// Facets lists the index facets maintained for the field.
func (f Field) Facets() []Facet {
	if f.Kind() == KindAttributes {
		return []Facet{FacetKey, FacetValue, FacetPair}
	}
	return []Facet{FacetKey}
}

// Atom is one extracted element of a field. Scalar and name fields only set
// Key; attribute fields set Key to the name and Value to the value or type.
type Atom struct {
	Key   string
	Value string
}

// Atoms extracts the field from d. Empty scalar values are skipped.
func (f Field) Atoms(d *description.ComponentDescription) []Atom {
	if d == nil {
		return nil
	}
	switch f {
	case FieldID:
		return scalar(d.ID)
	case FieldPort:
		return []Atom{{Key: strconv.Itoa(d.Port)}}
	case FieldType:
		return scalar(string(d.Type))
	case FieldClassname:
		return scalar(d.Classname)
	case FieldHostname:
		return append(scalar(d.Hostname), scalar(d.HostAddress)...)
	case FieldLocation:
		return scalar(d.Location)
	case FieldVersion:
		return scalar(d.Version)
	case FieldConstantAttributes:
		return attributeAtoms(d.ConstantAttributes)
	case FieldNonConstantAttributes:
		return attributeAtoms(d.NonConstantAttributes)
	case FieldInAttributes:
		return attributeAtoms(d.InAttributes)
	case FieldOutAttributes:
		return attributeAtoms(d.OutAttributes)
	case FieldCallbacks:
		return nameAtoms(d.Callbacks)
	case FieldServices:
		return nameAtoms(d.Services)
	case FieldSubscribers:
		return nameAtoms(d.Subscribers)
	default:
		return nil
	}
}

// Keys returns the normalized index keys of d for one facet.
func (f Field) Keys(d *description.ComponentDescription, facet Facet) []string {
	atoms := f.Atoms(d)
	keys := make([]string, 0, len(atoms))
	for _, a := range atoms {
		switch facet {
		case FacetKey:
			keys = append(keys, Normalize(a.Key))
		case FacetValue:
			keys = append(keys, Normalize(a.Value))
		case FacetPair:
			keys = append(keys, PairKey(a.Key, a.Value))
		}
	}
	return keys
}

// Normalize lower-cases an index key.
func Normalize(s string) string {
	return strings.ToLower(s)
}

// PairKey builds the FacetPair key for a name/value pair.
func PairKey(name, value string) string {
	return Normalize(name) + PairSeparator + Normalize(value)
}

// SplitPairKey reverses PairKey.
func SplitPairKey(key string) (name, value string) {
	name, value, _ = strings.Cut(key, PairSeparator)
	return name, value
}

func scalar(v string) []Atom {
	if v == "" {
		return nil
	}
	return []Atom{{Key: v}}
}

func attributeAtoms(s description.AttributeSet) []Atom {
	atoms := make([]Atom, 0, s.Len())
	s.Each(func(name, value string) {
		atoms = append(atoms, Atom{Key: name, Value: value})
	})
	return atoms
}

func nameAtoms(s description.NameSet) []Atom {
	names := s.Names()
	atoms := make([]Atom, len(names))
	for i, name := range names {
		atoms[i] = Atom{Key: name}
	}
	return atoms
}
