package description

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a description to its JSON wire form.
func Encode(d *ComponentDescription) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil description", ErrInvalidData)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode description %s: %w", d.ID, err)
	}
	return data, nil
}

// Decode parses the JSON wire form. Absent collections decode as empty sets.
// Decode does not validate; call Validate before registering the result.
func Decode(data []byte) (*ComponentDescription, error) {
	var d ComponentDescription
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidData, err)
	}
	d.Normalize()
	return &d, nil
}
