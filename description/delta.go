package description

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UpdateMode selects how a Delta is applied.
type UpdateMode int

const (
	// UpdateAdd merges the delta into the existing collections.
	UpdateAdd UpdateMode = iota
	// UpdateReplace replaces each collection carried by the delta.
	UpdateReplace
)

// ParseUpdateMode resolves "add" or "replace" case-insensitively.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "add":
		return UpdateAdd, nil
	case "replace":
		return UpdateReplace, nil
	default:
		return UpdateAdd, fmt.Errorf("%w: unknown update mode %q", ErrInvalidData, s)
	}
}

// String returns the wire name of the mode.
func (m UpdateMode) String() string {
	if m == UpdateReplace {
		return "replace"
	}
	return "add"
}

// MarshalJSON encodes the mode by name.
func (m UpdateMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a mode name.
func (m *UpdateMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParseUpdateMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Delta carries the mutable parts of a registered description.
// A nil collection leaves the stored collection untouched.
type Delta struct {
	ID                    string        `json:"id"`
	NonConstantAttributes *AttributeSet `json:"non_constant_attributes,omitempty"`
	Subscribers           *NameSet      `json:"subscribers,omitempty"`
}

// Validate checks that the delta names a component.
func (dl *Delta) Validate() error {
	if dl == nil || strings.TrimSpace(dl.ID) == "" {
		return fmt.Errorf("%w: delta id is required", ErrInvalidData)
	}
	return nil
}

// Apply mutates the non-constant attributes and subscriber list of d.
func (d *ComponentDescription) Apply(dl *Delta, mode UpdateMode) {
	if dl == nil {
		return
	}
	if dl.NonConstantAttributes != nil {
		if mode == UpdateReplace {
			d.NonConstantAttributes = dl.NonConstantAttributes.Clone()
		} else {
			d.NonConstantAttributes.Merge(*dl.NonConstantAttributes)
		}
	}
	if dl.Subscribers != nil {
		if mode == UpdateReplace {
			d.Subscribers = dl.Subscribers.Clone()
		} else {
			d.Subscribers.Merge(*dl.Subscribers)
		}
	}
}
