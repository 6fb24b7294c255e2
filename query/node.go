// Package query implements the predicate trees used to find registered
// components, evaluated either against one description or against the
// registry's index tables.
package query

import (
	"fmt"
	"sort"

	"github.com/c360studio/discoverer/description"
)

// Index is the read view of the registry's index tables a query searches.
// Keys are normalized with Normalize (or PairKey for FacetPair).
type Index interface {
	// Lookup returns the slots stored under key, or nil.
	Lookup(f Field, facet Facet, key string) []int
	// Keys lists every key of one table.
	Keys(f Field, facet Facet) []string
	// Slots lists every live slot.
	Slots() []int
}

// SlotSet is a set of slot indices.
type SlotSet map[int]struct{}

// NewSlotSet builds a set from the given slots.
func NewSlotSet(slots ...int) SlotSet {
	s := make(SlotSet, len(slots))
	s.Add(slots...)
	return s
}

// Add inserts slots.
func (s SlotSet) Add(slots ...int) {
	for _, slot := range slots {
		s[slot] = struct{}{}
	}
}

// Has reports whether slot is in the set.
func (s SlotSet) Has(slot int) bool {
	_, ok := s[slot]
	return ok
}

// Intersect returns the slots present in both sets.
func (s SlotSet) Intersect(other SlotSet) SlotSet {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	out := make(SlotSet, len(small))
	for slot := range small {
		if large.Has(slot) {
			out[slot] = struct{}{}
		}
	}
	return out
}

// Union returns the slots present in either set.
func (s SlotSet) Union(other SlotSet) SlotSet {
	out := make(SlotSet, len(s)+len(other))
	for slot := range s {
		out[slot] = struct{}{}
	}
	for slot := range other {
		out[slot] = struct{}{}
	}
	return out
}

// Sorted returns the slots in ascending order.
func (s SlotSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for slot := range s {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}

// Node is one element of a query tree. Nodes are immutable.
type Node interface {
	// Evaluate reports whether d satisfies the node.
	Evaluate(d *description.ComponentDescription) bool
	// Search returns the slots of idx whose components satisfy the node.
	Search(idx Index) SlotSet
	fmt.Stringer
}

// Leaf compares one field of a description against a target value.
type Leaf struct {
	Field      Field
	Comparison Comparison
	Target     any
}

// NewLeaf builds a leaf. Attribute-valued fields accept an AttributeTarget or
// its serialized string form; other fields take any scalar.
func NewLeaf(f Field, cmp Comparison, target any) *Leaf {
	return &Leaf{Field: f, Comparison: cmp, Target: target}
}

// Where builds a leaf from a field name, returning an error for unknown
// fields or comparisons.
func Where(field, cmp string, target any) (*Leaf, error) {
	f, ok := ParseField(field)
	if !ok {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	c, err := ParseComparison(cmp)
	if err != nil {
		return nil, err
	}
	return NewLeaf(f, c, target), nil
}

// Evaluate implements Node.
func (l *Leaf) Evaluate(d *description.ComponentDescription) bool {
	return l.Field.Matches(d, l.Comparison, l.Target)
}

// Search implements Node. Equality against a non-numeric target is a single
// key lookup; everything else scans the keys of the field's table.
func (l *Leaf) Search(idx Index) SlotSet {
	out := SlotSet{}
	if l.Field.Kind() == KindAttributes {
		l.searchAttributes(idx, out)
		return out
	}

	target := asScalarTarget(l.Target)
	if l.Comparison == Equal && !isNumeric(target) {
		out.Add(idx.Lookup(l.Field, FacetKey, Normalize(toString(target)))...)
		return out
	}
	for _, key := range idx.Keys(l.Field, FacetKey) {
		if l.Comparison.Compare(key, target) {
			out.Add(idx.Lookup(l.Field, FacetKey, key)...)
		}
	}
	return out
}

func (l *Leaf) searchAttributes(idx Index, out SlotSet) {
	t := asAttributeTarget(l.Target)
	switch t.Mode() {
	case ModeName:
		l.searchFacet(idx, FacetKey, t.Name, out)
	case ModeValue:
		l.searchFacet(idx, FacetValue, t.Value, out)
	case ModePair:
		if l.Comparison == Equal && !isNumeric(t.Value) {
			out.Add(idx.Lookup(l.Field, FacetPair, PairKey(t.Name, toString(t.Value)))...)
			return
		}
		name := Normalize(t.Name)
		for _, key := range idx.Keys(l.Field, FacetPair) {
			keyName, keyValue := SplitPairKey(key)
			if keyName == name && l.Comparison.Compare(keyValue, t.Value) {
				out.Add(idx.Lookup(l.Field, FacetPair, key)...)
			}
		}
	}
}

func (l *Leaf) searchFacet(idx Index, facet Facet, target any, out SlotSet) {
	if l.Comparison == Equal && !isNumeric(target) {
		out.Add(idx.Lookup(l.Field, facet, Normalize(toString(target)))...)
		return
	}
	for _, key := range idx.Keys(l.Field, facet) {
		if l.Comparison.Compare(key, target) {
			out.Add(idx.Lookup(l.Field, facet, key)...)
		}
	}
}

func (l *Leaf) String() string {
	if l.Field.Kind() == KindAttributes {
		return fmt.Sprintf("%s %s %q", l.Field, l.Comparison.Symbol(), asAttributeTarget(l.Target).String())
	}
	return fmt.Sprintf("%s %s %v", l.Field, l.Comparison.Symbol(), asScalarTarget(l.Target))
}

// AndNode matches components satisfying both children.
type AndNode struct {
	Left, Right Node
}

// And builds the conjunction of two nodes.
func And(left, right Node) *AndNode {
	return &AndNode{Left: left, Right: right}
}

// Evaluate implements Node.
func (n *AndNode) Evaluate(d *description.ComponentDescription) bool {
	return n.Left.Evaluate(d) && n.Right.Evaluate(d)
}

// Search implements Node.
func (n *AndNode) Search(idx Index) SlotSet {
	return n.Left.Search(idx).Intersect(n.Right.Search(idx))
}

func (n *AndNode) String() string {
	return fmt.Sprintf("(%s AND %s)", n.Left, n.Right)
}

// OrNode matches components satisfying either child.
type OrNode struct {
	Left, Right Node
}

// Or builds the disjunction of two nodes.
func Or(left, right Node) *OrNode {
	return &OrNode{Left: left, Right: right}
}

// Evaluate implements Node.
func (n *OrNode) Evaluate(d *description.ComponentDescription) bool {
	return n.Left.Evaluate(d) || n.Right.Evaluate(d)
}

// Search implements Node.
func (n *OrNode) Search(idx Index) SlotSet {
	return n.Left.Search(idx).Union(n.Right.Search(idx))
}

func (n *OrNode) String() string {
	return fmt.Sprintf("(%s OR %s)", n.Left, n.Right)
}

// NotNode matches components not satisfying its child.
type NotNode struct {
	Child Node
}

// Not builds the negation of a node.
func Not(child Node) *NotNode {
	return &NotNode{Child: child}
}

// Evaluate implements Node.
func (n *NotNode) Evaluate(d *description.ComponentDescription) bool {
	return !n.Child.Evaluate(d)
}

// Search implements Node.
func (n *NotNode) Search(idx Index) SlotSet {
	excluded := n.Child.Search(idx)
	out := SlotSet{}
	for _, slot := range idx.Slots() {
		if !excluded.Has(slot) {
			out[slot] = struct{}{}
		}
	}
	return out
}

func (n *NotNode) String() string {
	return fmt.Sprintf("NOT %s", n.Child)
}

// Valid reports whether node and every node below it is non-nil, including
// typed nil pointers held in the Node interface.
func Valid(node Node) bool {
	switch n := node.(type) {
	case nil:
		return false
	case *Leaf:
		return n != nil
	case *AndNode:
		return n != nil && Valid(n.Left) && Valid(n.Right)
	case *OrNode:
		return n != nil && Valid(n.Left) && Valid(n.Right)
	case *NotNode:
		return n != nil && Valid(n.Child)
	default:
		return true
	}
}
