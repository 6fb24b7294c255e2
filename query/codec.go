package query

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidQuery is returned when a query document cannot be decoded.
var ErrInvalidQuery = errors.New("invalid query")

// wireNode is the JSON form of a query node. Exactly one of the leaf fields,
// And, Or or Not is set.
type wireNode struct {
	Field     *Field           `json:"field,omitempty"`
	Cmp       *Comparison      `json:"cmp,omitempty"`
	Value     any              `json:"value,omitempty"`
	Attribute *AttributeTarget `json:"attribute,omitempty"`

	And []json.RawMessage `json:"and,omitempty"`
	Or  []json.RawMessage `json:"or,omitempty"`
	Not json.RawMessage   `json:"not,omitempty"`
}

// ParseNode decodes a JSON query document:
//
//	{"field":"port","cmp":"gt","value":50}
//	{"field":"constantAttributes","cmp":"eq","attribute":{"name":"loc","value":"room4"}}
//	{"and":[...]}, {"or":[...]}, {"not":{...}}
//
// And and Or fold two or more children left to right.
func ParseNode(data []byte) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	set := 0
	if w.Field != nil || w.Cmp != nil {
		set++
	}
	if w.And != nil {
		set++
	}
	if w.Or != nil {
		set++
	}
	if w.Not != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: expected exactly one of leaf, and, or, not", ErrInvalidQuery)
	}

	switch {
	case w.And != nil:
		return parseChain(w.And, "and", func(l, r Node) Node { return And(l, r) })
	case w.Or != nil:
		return parseChain(w.Or, "or", func(l, r Node) Node { return Or(l, r) })
	case w.Not != nil:
		child, err := ParseNode(w.Not)
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	}

	if w.Field == nil || w.Cmp == nil {
		return nil, fmt.Errorf("%w: leaf needs field and cmp", ErrInvalidQuery)
	}
	target := w.Value
	if w.Attribute != nil {
		if w.Field.Kind() != KindAttributes {
			return nil, fmt.Errorf("%w: field %s does not take an attribute target", ErrInvalidQuery, w.Field)
		}
		target = *w.Attribute
	}
	return NewLeaf(*w.Field, *w.Cmp, target), nil
}

func parseChain(raw []json.RawMessage, op string, join func(l, r Node) Node) (Node, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: %s needs at least two operands", ErrInvalidQuery, op)
	}
	var out Node
	for i, r := range raw {
		n, err := ParseNode(r)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		if out == nil {
			out = n
			continue
		}
		out = join(out, n)
	}
	return out, nil
}

// MarshalNode encodes a query tree in the form ParseNode reads.
func MarshalNode(n Node) ([]byte, error) {
	v, err := toWire(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// MarshalJSON implements json.Marshaler.
func (l *Leaf) MarshalJSON() ([]byte, error) { return MarshalNode(l) }

// MarshalJSON implements json.Marshaler.
func (n *AndNode) MarshalJSON() ([]byte, error) { return MarshalNode(n) }

// MarshalJSON implements json.Marshaler.
func (n *OrNode) MarshalJSON() ([]byte, error) { return MarshalNode(n) }

// MarshalJSON implements json.Marshaler.
func (n *NotNode) MarshalJSON() ([]byte, error) { return MarshalNode(n) }

func toWire(n Node) (map[string]any, error) {
	switch node := n.(type) {
	case *Leaf:
		if !node.Comparison.Valid() {
			return nil, fmt.Errorf("%w: invalid comparison %d", ErrInvalidQuery, int(node.Comparison))
		}
		if _, ok := ParseField(node.Field.String()); !ok {
			return nil, fmt.Errorf("%w: invalid field %d", ErrInvalidQuery, int(node.Field))
		}
		out := map[string]any{
			"field": node.Field.String(),
			"cmp":   node.Comparison.String(),
		}
		if node.Field.Kind() == KindAttributes {
			out["attribute"] = asAttributeTarget(node.Target)
		} else {
			out["value"] = asScalarTarget(node.Target)
		}
		return out, nil
	case *AndNode:
		return binaryWire("and", node.Left, node.Right)
	case *OrNode:
		return binaryWire("or", node.Left, node.Right)
	case *NotNode:
		child, err := toWire(node.Child)
		if err != nil {
			return nil, err
		}
		return map[string]any{"not": child}, nil
	case nil:
		return nil, fmt.Errorf("%w: nil node", ErrInvalidQuery)
	default:
		return nil, fmt.Errorf("%w: unsupported node %T", ErrInvalidQuery, n)
	}
}

func binaryWire(op string, left, right Node) (map[string]any, error) {
	l, err := toWire(left)
	if err != nil {
		return nil, err
	}
	r, err := toWire(right)
	if err != nil {
		return nil, err
	}
	return map[string]any{op: []any{l, r}}, nil
}
