// Package description defines the component description registered with the
// discoverer, its attribute collections and its wire codec.
package description

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidData is returned when a description is missing required fields
// or carries values outside their allowed range.
var ErrInvalidData = errors.New("invalid component description")

// ComponentType classifies a registered component.
type ComponentType string

// Known component types.
const (
	TypeWidget      ComponentType = "widget"
	TypeServer      ComponentType = "server"
	TypeApplication ComponentType = "application"
	TypeInterpreter ComponentType = "interpreter"
	TypeBaseObject  ComponentType = "baseobject"
)

// ParseType resolves a type name case-insensitively.
func ParseType(s string) (ComponentType, bool) {
	switch ComponentType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeWidget:
		return TypeWidget, true
	case TypeServer:
		return TypeServer, true
	case TypeApplication:
		return TypeApplication, true
	case TypeInterpreter:
		return TypeInterpreter, true
	case TypeBaseObject:
		return TypeBaseObject, true
	default:
		return "", false
	}
}

// ComponentDescription describes one registered component: where it runs,
// what it is and which attributes, callbacks and services it offers.
type ComponentDescription struct {
	// ID uniquely identifies the component across the registry.
	ID string `json:"id" yaml:"id"`

	Classname   string        `json:"classname,omitempty" yaml:"classname,omitempty"`
	Hostname    string        `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	HostAddress string        `json:"hostaddress,omitempty" yaml:"hostaddress,omitempty"`
	Port        int           `json:"port" yaml:"port"`
	Location    string        `json:"location,omitempty" yaml:"location,omitempty"`
	Type        ComponentType `json:"type" yaml:"type"`
	Version     string        `json:"version,omitempty" yaml:"version,omitempty"`

	// ConstantAttributes maps attribute names to values fixed for the
	// component's lifetime.
	ConstantAttributes AttributeSet `json:"constant_attributes" yaml:"constant_attributes,omitempty"`

	// NonConstantAttributes maps attribute names to their type. Only the
	// schema is stored, never live values.
	NonConstantAttributes AttributeSet `json:"non_constant_attributes" yaml:"non_constant_attributes,omitempty"`

	// InAttributes and OutAttributes describe interpreter input and output
	// schemas (name to type).
	InAttributes  AttributeSet `json:"in_attributes" yaml:"in_attributes,omitempty"`
	OutAttributes AttributeSet `json:"out_attributes" yaml:"out_attributes,omitempty"`

	Callbacks NameSet `json:"callbacks" yaml:"callbacks,omitempty"`
	Services  NameSet `json:"services" yaml:"services,omitempty"`

	// Subscribers names the components subscribed to this one.
	Subscribers NameSet `json:"subscribers" yaml:"subscribers,omitempty"`
}

// Validate checks the fields required for registration.
func (d *ComponentDescription) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil description", ErrInvalidData)
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidData)
	}
	if _, ok := ParseType(string(d.Type)); !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidData, d.Type)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidData, d.Port)
	}
	return nil
}

// Normalize trims the id and canonicalizes the type name.
func (d *ComponentDescription) Normalize() {
	d.ID = strings.TrimSpace(d.ID)
	if t, ok := ParseType(string(d.Type)); ok {
		d.Type = t
	}
}

// AllAttributes returns the sorted union of constant and non-constant
// attribute names.
func (d *ComponentDescription) AllAttributes() []string {
	var names NameSet
	for _, name := range d.ConstantAttributes.Names() {
		names.Add(name)
	}
	for _, name := range d.NonConstantAttributes.Names() {
		names.Add(name)
	}
	return names.Names()
}

// Equal compares identity fields only: id, classname, hostaddress, hostname,
// location, type, version and port. Attribute collections are ignored; use
// DeepEqual to compare them too.
func (d *ComponentDescription) Equal(other *ComponentDescription) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.ID == other.ID &&
		d.Classname == other.Classname &&
		d.HostAddress == other.HostAddress &&
		d.Hostname == other.Hostname &&
		d.Location == other.Location &&
		d.Type == other.Type &&
		d.Version == other.Version &&
		d.Port == other.Port
}

// DeepEqual compares identity fields and every attribute collection.
func (d *ComponentDescription) DeepEqual(other *ComponentDescription) bool {
	if !d.Equal(other) {
		return false
	}
	if d == nil {
		return true
	}
	return d.ConstantAttributes.Equal(other.ConstantAttributes) &&
		d.NonConstantAttributes.Equal(other.NonConstantAttributes) &&
		d.InAttributes.Equal(other.InAttributes) &&
		d.OutAttributes.Equal(other.OutAttributes) &&
		d.Callbacks.Equal(other.Callbacks) &&
		d.Services.Equal(other.Services) &&
		d.Subscribers.Equal(other.Subscribers)
}

// Clone returns a deep copy.
func (d *ComponentDescription) Clone() *ComponentDescription {
	if d == nil {
		return nil
	}
	out := *d
	out.ConstantAttributes = d.ConstantAttributes.Clone()
	out.NonConstantAttributes = d.NonConstantAttributes.Clone()
	out.InAttributes = d.InAttributes.Clone()
	out.OutAttributes = d.OutAttributes.Clone()
	out.Callbacks = d.Callbacks.Clone()
	out.Services = d.Services.Clone()
	out.Subscribers = d.Subscribers.Clone()
	return &out
}

// String returns a short human-readable form.
func (d *ComponentDescription) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s@%s:%d)", d.ID, d.Type, d.Hostname, d.Port)
}
