package description

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleWidget() *ComponentDescription {
	return &ComponentDescription{
		ID:                    "w1",
		Classname:             "context.arch.widget.WPresence",
		Hostname:              "h1",
		HostAddress:           "10.0.0.1",
		Port:                  100,
		Location:              "room4",
		Type:                  TypeWidget,
		Version:               "1.0",
		ConstantAttributes:    NewAttributeSet("loc", "room4", "floor", "2"),
		NonConstantAttributes: NewAttributeSet("username", "string", "timestamp", "long"),
		Callbacks:             NewNameSet("update"),
		Services:              NewNameSet("display"),
		Subscribers:           NewNameSet("app1"),
	}
}

func TestAttributeSet_PutReplaces(t *testing.T) {
	var s AttributeSet
	s.Put("b", "1")
	s.Put("a", "2")
	s.Put("b", "3")

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "b"}, s.Names())
	v, ok := s.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	s.Delete("a")
	s.Delete("missing")
	assert.Equal(t, []string{"b"}, s.Names())
}

func TestNameSet_Deduplicates(t *testing.T) {
	s := NewNameSet("z", "a", "z")
	assert.Equal(t, []string{"a", "z"}, s.Names())
	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
}

func TestComponentDescription_AllAttributes(t *testing.T) {
	d := sampleWidget()
	d.NonConstantAttributes.Put("loc", "string")

	assert.Equal(t, []string{"floor", "loc", "timestamp", "username"}, d.AllAttributes())
}

func TestComponentDescription_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *ComponentDescription)
		wantErr bool
	}{
		{name: "valid", mutate: func(*ComponentDescription) {}},
		{name: "empty id", mutate: func(d *ComponentDescription) { d.ID = " " }, wantErr: true},
		{name: "unknown type", mutate: func(d *ComponentDescription) { d.Type = "gadget" }, wantErr: true},
		{name: "mixed case type", mutate: func(d *ComponentDescription) { d.Type = "Widget" }},
		{name: "negative port", mutate: func(d *ComponentDescription) { d.Port = -1 }, wantErr: true},
		{name: "port too large", mutate: func(d *ComponentDescription) { d.Port = 70000 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleWidget()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidData))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestComponentDescription_Normalize(t *testing.T) {
	d := sampleWidget()
	d.ID = "  w1\t"
	d.Type = "WIDGET"
	d.Normalize()
	assert.Equal(t, "w1", d.ID)
	assert.Equal(t, TypeWidget, d.Type)
}

func TestComponentDescription_EqualIgnoresCollections(t *testing.T) {
	a := sampleWidget()
	b := sampleWidget()
	b.ConstantAttributes = NewAttributeSet("loc", "lobby")
	b.Callbacks = NameSet{}

	assert.True(t, a.Equal(b))
	assert.False(t, a.DeepEqual(b))

	b = sampleWidget()
	b.Port = 101
	assert.False(t, a.Equal(b))

	var nilDesc *ComponentDescription
	assert.True(t, nilDesc.Equal(nil))
	assert.False(t, a.Equal(nil))
}

func TestComponentDescription_CloneIsIndependent(t *testing.T) {
	a := sampleWidget()
	b := a.Clone()
	b.ConstantAttributes.Put("loc", "lobby")
	b.Subscribers.Add("app2")

	v, _ := a.ConstantAttributes.Get("loc")
	assert.Equal(t, "room4", v)
	assert.False(t, a.Subscribers.Has("app2"))
	assert.True(t, a.Equal(b))
}

func TestCodec_RoundTrip(t *testing.T) {
	original := sampleWidget()
	original.InAttributes = NewAttributeSet("text", "string")
	original.OutAttributes = NewAttributeSet("speech", "bytes")

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, original.Equal(decoded))
	assert.True(t, original.ConstantAttributes.Equal(decoded.ConstantAttributes))
	assert.True(t, original.NonConstantAttributes.Equal(decoded.NonConstantAttributes))
	assert.True(t, original.DeepEqual(decoded))
}

func TestCodec_AbsentCollectionsDecodeEmpty(t *testing.T) {
	d, err := Decode([]byte(`{"id":"s1","type":"SERVER","port":5}`))
	require.NoError(t, err)

	assert.Equal(t, TypeServer, d.Type)
	assert.Equal(t, 0, d.ConstantAttributes.Len())
	assert.Equal(t, 0, d.Callbacks.Len())
	assert.Empty(t, d.AllAttributes())
	require.NoError(t, d.Validate())
}

func TestCodec_DecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"id":`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidData))
}

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		mode      UpdateMode
		delta     *Delta
		wantAttrs []string
		wantSubs  []string
	}{
		{
			name: "add merges",
			mode: UpdateAdd,
			delta: &Delta{
				ID:                    "w1",
				NonConstantAttributes: &AttributeSet{},
				Subscribers:           ptr(NewNameSet("app2")),
			},
			wantAttrs: []string{"timestamp", "username"},
			wantSubs:  []string{"app1", "app2"},
		},
		{
			name: "replace swaps carried collections",
			mode: UpdateReplace,
			delta: &Delta{
				ID:                    "w1",
				NonConstantAttributes: ptr(NewAttributeSet("temperature", "double")),
			},
			wantAttrs: []string{"temperature"},
			wantSubs:  []string{"app1"},
		},
		{
			name:      "replace with nothing is a no-op",
			mode:      UpdateReplace,
			delta:     &Delta{ID: "w1"},
			wantAttrs: []string{"timestamp", "username"},
			wantSubs:  []string{"app1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleWidget()
			d.Apply(tt.delta, tt.mode)
			assert.Equal(t, tt.wantAttrs, d.NonConstantAttributes.Names())
			assert.Equal(t, tt.wantSubs, d.Subscribers.Names())
			assert.Equal(t, []string{"floor", "loc"}, d.ConstantAttributes.Names())
		})
	}
}

func TestParseUpdateMode(t *testing.T) {
	m, err := ParseUpdateMode("REPLACE")
	require.NoError(t, err)
	assert.Equal(t, UpdateReplace, m)

	m, err = ParseUpdateMode("")
	require.NoError(t, err)
	assert.Equal(t, UpdateAdd, m)

	_, err = ParseUpdateMode("merge")
	assert.Error(t, err)
}

func ptr[T any](v T) *T {
	return &v
}
