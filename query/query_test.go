package query

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/discoverer/description"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		cmp  Comparison
		a, b any
		want bool
	}{
		{"string equals int", Equal, "123", 123, true},
		{"decimal string equals int string", Equal, "123.0", "123", true},
		{"word never equals number", Equal, "abc", 123, false},
		{"equality ignores case", Equal, "Widget", "WIDGET", true},
		{"different strings", Different, "a", "b", true},
		{"different is not equal", Different, "123", 123.0, false},
		{"typed integers", Greater, 5, 3, true},
		{"typed floats", Greater, float32(1.5), float32(1.25), true},
		{"mixed classes parse as float", Lower, int64(2), "10", true},
		{"string ordering by number", Greater, "100", 50, true},
		{"greater equal on tie", GreaterEqual, "50", 50, true},
		{"lower equal on tie", LowerEqual, 7, int8(7), true},
		{"unparsable ordering", Greater, "abc", 1, false},
		{"nan ordering", Greater, math.NaN(), 1.0, false},
		{"nil ordering", Lower, nil, 1, false},
		{"unknown comparison", Comparison(99), 1, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmp.Compare(tt.a, tt.b))
		})
	}
}

func TestParseComparison(t *testing.T) {
	tests := map[string]Comparison{
		"eq": Equal, "=": Equal, "==": Equal,
		"NE": Different, "!=": Different,
		"gt": Greater, ">": Greater,
		"gte": GreaterEqual, ">=": GreaterEqual,
		"lt": Lower, "<": Lower,
		"lte": LowerEqual, "<=": LowerEqual,
	}
	for in, want := range tests {
		got, err := ParseComparison(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseComparison("~")
	assert.Error(t, err)
}

func TestParseField(t *testing.T) {
	tests := map[string]Field{
		"id":                  FieldID,
		"PORT":                FieldPort,
		"hostaddress":         FieldHostname,
		"constantAttributes":  FieldConstantAttributes,
		"constant_attributes": FieldConstantAttributes,
		"subscribers":         FieldSubscribers,
	}
	for in, want := range tests {
		got, ok := ParseField(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseField("colour")
	assert.False(t, ok)
}

func TestParseAttributeTarget(t *testing.T) {
	tests := []struct {
		in    string
		mode  MatchMode
		name  string
		value any
	}{
		{"loc=room4", ModePair, "loc", "room4"},
		{"loc", ModeName, "loc", nil},
		{"loc=", ModeName, "loc", nil},
		{"=room4", ModeValue, "", "room4"},
		{"", ModeInvalid, "", nil},
		{"a=b=c", ModePair, "a", "b=c"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseAttributeTarget(tt.in)
			assert.Equal(t, tt.mode, got.Mode())
			assert.Equal(t, tt.name, got.Name)
			assert.Equal(t, tt.value, got.Value)
		})
	}
}

func TestFieldMatches(t *testing.T) {
	d := &description.ComponentDescription{
		ID:                 "w1",
		Hostname:           "h1",
		HostAddress:        "10.0.0.1",
		Port:               100,
		Type:               description.TypeWidget,
		ConstantAttributes: description.NewAttributeSet("loc", "room4", "floor", "3"),
		Callbacks:          description.NewNameSet("update"),
	}

	assert.True(t, FieldHostname.Matches(d, Equal, "10.0.0.1"))
	assert.True(t, FieldHostname.Matches(d, Equal, "H1"))
	assert.True(t, FieldConstantAttributes.Matches(d, Equal, Attr("LOC", "Room4")))
	assert.True(t, FieldConstantAttributes.Matches(d, Greater, Attr("floor", 2)))
	assert.False(t, FieldConstantAttributes.Matches(d, Greater, Attr("loc", 2)))
	assert.True(t, FieldConstantAttributes.Matches(d, Equal, "=room4"))
	assert.True(t, FieldConstantAttributes.Matches(d, Equal, AttrName("floor")))
	assert.False(t, FieldConstantAttributes.Matches(d, Equal, AttributeTarget{}))
	assert.True(t, FieldCallbacks.Matches(d, Equal, "update"))
	assert.False(t, FieldServices.Matches(d, Different, "x"), "empty collections match nothing")
	assert.False(t, FieldLocation.Matches(d, Different, "x"), "empty scalars are skipped")
}

// memIndex is an Index built directly from descriptions, one slot per entry.
type memIndex struct {
	tables map[Field]map[Facet]map[string][]int
	slots  []int
}

func newMemIndex(ds ...*description.ComponentDescription) *memIndex {
	idx := &memIndex{tables: map[Field]map[Facet]map[string][]int{}}
	for slot, d := range ds {
		idx.slots = append(idx.slots, slot)
		for _, f := range Fields() {
			for _, facet := range f.Facets() {
				for _, key := range f.Keys(d, facet) {
					idx.add(f, facet, key, slot)
				}
			}
		}
	}
	return idx
}

func (m *memIndex) add(f Field, facet Facet, key string, slot int) {
	if m.tables[f] == nil {
		m.tables[f] = map[Facet]map[string][]int{}
	}
	if m.tables[f][facet] == nil {
		m.tables[f][facet] = map[string][]int{}
	}
	for _, s := range m.tables[f][facet][key] {
		if s == slot {
			return
		}
	}
	m.tables[f][facet][key] = append(m.tables[f][facet][key], slot)
}

func (m *memIndex) Lookup(f Field, facet Facet, key string) []int {
	return m.tables[f][facet][key]
}

func (m *memIndex) Keys(f Field, facet Facet) []string {
	keys := make([]string, 0, len(m.tables[f][facet]))
	for key := range m.tables[f][facet] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *memIndex) Slots() []int { return m.slots }

func fixtures() []*description.ComponentDescription {
	return []*description.ComponentDescription{
		{
			ID: "w1", Hostname: "h1", Port: 100, Type: description.TypeWidget,
			Classname:          "context.arch.widget.WPresence",
			ConstantAttributes: description.NewAttributeSet("loc", "room4", "floor", "3"),
			NonConstantAttributes: description.NewAttributeSet("username", "String",
				"timestamp", "Long"),
			Callbacks: description.NewNameSet("update"),
		},
		{
			ID: "S2", Hostname: "H2", HostAddress: "10.0.0.2", Port: 250,
			Type: description.TypeServer, Location: "Lab", Version: "1.2",
			ConstantAttributes: description.NewAttributeSet("loc", "ROOM5", "capacity", "12.5"),
			Services:           description.NewNameSet("display", "123"),
			Subscribers:        description.NewNameSet("w1"),
		},
		{
			ID: "i3", Port: 0, Type: description.TypeInterpreter,
			InAttributes:  description.NewAttributeSet("raw", "String"),
			OutAttributes: description.NewAttributeSet("cooked", "String", "", "empty"),
		},
		{
			ID: "a4", Hostname: "h1", Port: 50, Type: description.TypeApplication,
			Subscribers: description.NewNameSet("S2", "i3"),
		},
	}
}

func TestLeafSearchAgreesWithEvaluate(t *testing.T) {
	ds := fixtures()
	idx := newMemIndex(ds...)

	comparisons := []Comparison{Equal, Different, Greater, GreaterEqual, Lower, LowerEqual}
	scalarTargets := []any{
		"w1", "W1", "s2", "widget", "SERVER", 100, "100", 50, "50.0", 0, 1e9,
		"h1", "10.0.0.2", "lab", "1.2", 1.2, "update", "DISPLAY", 123, "abc", "",
	}
	attributeTargets := []any{
		Attr("loc", "room4"), Attr("LOC", "Room5"), Attr("floor", 3), Attr("capacity", "12.5"),
		Attr("capacity", 10), AttrName("loc"), AttrName("Username"), AttrValue("string"),
		AttrValue(3), AttrValue("long"), AttributeTarget{}, "loc=room4", "=ROOM5", "timestamp",
		"cooked=", "=empty", Attr("", "empty"),
	}

	for _, f := range Fields() {
		targets := scalarTargets
		if f.Kind() == KindAttributes {
			targets = attributeTargets
		}
		for _, cmp := range comparisons {
			for _, target := range targets {
				leaf := NewLeaf(f, cmp, target)

				want := SlotSet{}
				for slot, d := range ds {
					if leaf.Evaluate(d) {
						want.Add(slot)
					}
				}
				got := leaf.Search(idx)
				assert.Equal(t, want.Sorted(), got.Sorted(), leaf.String())
			}
		}
	}
}

func TestCombinators(t *testing.T) {
	ds := fixtures()
	idx := newMemIndex(ds...)

	widget := NewLeaf(FieldType, Equal, "widget")
	bigPort := NewLeaf(FieldPort, Greater, 60)
	onH1 := NewLeaf(FieldHostname, Equal, "h1")

	tests := []struct {
		name string
		node Node
		want []int
	}{
		{"and", And(onH1, bigPort), []int{0}},
		{"or", Or(widget, NewLeaf(FieldType, Equal, "server")), []int{0, 1}},
		{"not", Not(onH1), []int{1, 2}},
		{"nested", Or(And(widget, bigPort), Not(bigPort)), []int{0, 2, 3}},
		{"empty and", And(widget, NewLeaf(FieldPort, Greater, 200)), []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.Search(idx).Sorted())
			for slot, d := range ds {
				assert.Equal(t, NewSlotSet(tt.want...).Has(slot), tt.node.Evaluate(d), "slot %d", slot)
			}
		})
	}
}

func TestValid(t *testing.T) {
	leaf := NewLeaf(FieldType, Equal, "widget")
	var nilLeaf *Leaf

	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"leaf", leaf, true},
		{"tree", Or(And(leaf, leaf), Not(leaf)), true},
		{"nil interface", nil, false},
		{"typed nil leaf", nilLeaf, false},
		{"typed nil and", (*AndNode)(nil), false},
		{"nil child", And(leaf, nil), false},
		{"typed nil child", Not(nilLeaf), false},
		{"nested typed nil", Or(leaf, And(leaf, nilLeaf)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.node); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlotSetAlgebra(t *testing.T) {
	a := NewSlotSet(1, 2, 3)
	b := NewSlotSet(2, 3, 4)

	assert.Equal(t, []int{2, 3}, a.Intersect(b).Sorted())
	assert.Equal(t, []int{1, 2, 3, 4}, a.Union(b).Sorted())
	assert.Equal(t, a.Intersect(b).Sorted(), b.Intersect(a).Sorted())
	assert.Equal(t, a.Union(b).Sorted(), b.Union(a).Sorted())
	assert.Empty(t, a.Intersect(SlotSet{}))
}

func TestNodeCodecRoundTrip(t *testing.T) {
	nodes := []Node{
		NewLeaf(FieldPort, Greater, 50),
		NewLeaf(FieldType, Equal, "widget"),
		NewLeaf(FieldConstantAttributes, Equal, Attr("loc", "room4")),
		NewLeaf(FieldNonConstantAttributes, Equal, AttrName("username")),
		And(NewLeaf(FieldID, Different, "w1"), Not(NewLeaf(FieldHostname, Equal, "h1"))),
		Or(NewLeaf(FieldServices, Equal, "display"), NewLeaf(FieldInAttributes, Equal, "=String")),
	}
	for _, n := range nodes {
		t.Run(n.String(), func(t *testing.T) {
			data, err := MarshalNode(n)
			require.NoError(t, err)

			parsed, err := ParseNode(data)
			require.NoError(t, err)
			assert.Equal(t, n.String(), parsed.String())

			for _, d := range fixtures() {
				assert.Equal(t, n.Evaluate(d), parsed.Evaluate(d), d.ID)
			}
		})
	}
}

func TestParseNode(t *testing.T) {
	n, err := ParseNode([]byte(`{"and":[{"field":"type","cmp":"=","value":"widget"},` +
		`{"field":"port","cmp":"gt","value":50},{"field":"hostname","cmp":"eq","value":"h1"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "((type = widget AND port > 50) AND hostname = h1)", n.String())

	n, err = ParseNode([]byte(`{"field":"constantAttributes","cmp":"eq","value":"loc=room4"}`))
	require.NoError(t, err)
	assert.True(t, n.Evaluate(fixtures()[0]))

	invalid := []string{
		`{}`,
		`not json`,
		`{"field":"colour","cmp":"eq","value":1}`,
		`{"field":"port","cmp":"~","value":1}`,
		`{"field":"port","value":1}`,
		`{"and":[{"field":"port","cmp":"eq","value":1}]}`,
		`{"field":"port","cmp":"eq","attribute":{"name":"a"}}`,
		`{"not":{"field":"port","cmp":"eq","value":1},"or":[]}`,
	}
	for _, in := range invalid {
		_, err := ParseNode([]byte(in))
		assert.True(t, errors.Is(err, ErrInvalidQuery), "%s: %v", in, err)
	}
}
