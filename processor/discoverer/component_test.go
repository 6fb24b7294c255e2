package discoverer

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/discoverer/description"
	"github.com/c360studio/discoverer/journal"
	"github.com/c360studio/discoverer/mediator"
	"github.com/c360studio/discoverer/registry"
)

func newTestComponent(t *testing.T) *Component {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Journal.Backend = JournalMemory
	cfg.applyDefaults()
	metrics := mediator.NewMetrics(nil)
	return &Component{
		name:         componentName,
		config:       cfg,
		logger:       slog.Default(),
		metrics:      metrics,
		mediator:     mediator.New(cfg.MediatorConfig(), registry.NewStore(), journal.NewMemoryLog(), nil, mediator.WithMetrics(metrics)),
		eventSubject: "discoverer.events",
	}
}

func decodeResponse(t *testing.T, data []byte, err error) Response {
	t.Helper()
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestNewComponent_Unit(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{name: "empty config uses defaults", rawConfig: nil},
		{name: "memory journal", rawConfig: json.RawMessage(`{"journal":{"backend":"memory"}}`)},
		{name: "invalid JSON", rawConfig: json.RawMessage(`{invalid json}`), wantErr: true},
		{name: "bad duration", rawConfig: json.RawMessage(`{"default_lease":"soon"}`), wantErr: true},
		{name: "negative duration", rawConfig: json.RawMessage(`{"ping_timeout":"-1s"}`), wantErr: true},
		{name: "zero sweep", rawConfig: json.RawMessage(`{"sweep_interval":"0s"}`), wantErr: true},
		{name: "file journal without path", rawConfig: json.RawMessage(`{"journal":{"backend":"file"}}`), wantErr: true},
		{name: "unknown journal", rawConfig: json.RawMessage(`{"journal":{"backend":"tape"}}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := component.Dependencies{Logger: slog.Default()}
			_, err := NewComponent(tt.rawConfig, deps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComponent_StartRequiresNATS(t *testing.T) {
	comp, err := NewComponent(nil, component.Dependencies{Logger: slog.Default()})
	require.NoError(t, err)
	c := comp.(*Component)

	require.NoError(t, c.Initialize())
	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS client required")
	assert.False(t, c.Health().Healthy)
	assert.NoError(t, c.Stop(time.Second))
}

func TestComponent_RegisterQueryUnregister(t *testing.T) {
	c := newTestComponent(t)
	ctx := context.Background()

	resp := decodeResponse(t, c.handleRegister(ctx, []byte(`{
		"component": {"id":"w1","hostname":"h1","port":100,"type":"widget","constant_attributes":{"loc":"room4"}},
		"lease_seconds": 30
	}`)))
	assert.Equal(t, mediator.CodeNoError, resp.Code)
	require.NotNil(t, resp.Index)

	l, ok := c.mediator.Keeper().Get(*resp.Index)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, l.Duration)

	resp = decodeResponse(t, c.handleQuery(ctx, []byte(`{"query":{"and":[
		{"field":"type","cmp":"eq","value":"widget"},
		{"field":"port","cmp":"gt","value":50}
	]}}`)))
	assert.Equal(t, mediator.CodeNoError, resp.Code)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1, resp.Result.Count)
	assert.Equal(t, "w1", resp.Result.Components[0].ID)

	resp = decodeResponse(t, c.handleQuery(ctx, []byte(`{"query":{"field":"constant_attributes","cmp":"eq","attribute":{"name":"loc","value":"room5"}}}`)))
	assert.Equal(t, mediator.CodeNoError, resp.Code)
	assert.Equal(t, 0, resp.Result.Count)

	resp = decodeResponse(t, c.handleUnregister(ctx, []byte(`{"id":"w1"}`)))
	assert.Equal(t, mediator.CodeNoError, resp.Code)

	resp = decodeResponse(t, c.handleUnregister(ctx, []byte(`{"id":"w1"}`)))
	assert.Equal(t, mediator.CodeUnknownComponent, resp.Code)
	assert.NotEmpty(t, resp.Error)

	assert.Equal(t, int64(5), c.requestsProcessed.Load())
	assert.Equal(t, int64(1), c.requestErrors.Load())
	assert.Equal(t, 1, c.Health().ErrorCount)
}

func TestComponent_RegisterDefaultLease(t *testing.T) {
	c := newTestComponent(t)
	ctx := context.Background()

	resp := decodeResponse(t, c.handleRegister(ctx, []byte(`{"component":{"id":"a","type":"server"}}`)))
	require.Equal(t, mediator.CodeNoError, resp.Code)
	l, ok := c.mediator.Keeper().Get(*resp.Index)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, l.Duration)

	resp = decodeResponse(t, c.handleRegister(ctx, []byte(`{"component":{"id":"b","type":"server"},"lease_seconds":0}`)))
	require.Equal(t, mediator.CodeNoError, resp.Code)
	l, ok = c.mediator.Keeper().Get(*resp.Index)
	require.True(t, ok)
	assert.False(t, l.Expires())
}

func TestComponent_RequestErrors(t *testing.T) {
	c := newTestComponent(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, []byte) ([]byte, error)
		data    string
		want    mediator.Code
	}{
		{"malformed json", c.handleRegister, `{not json`, mediator.CodeInvalidData},
		{"missing component", c.handleRegister, `{}`, mediator.CodeInvalidData},
		{"unknown type", c.handleRegister, `{"component":{"id":"x","type":"gadget"}}`, mediator.CodeInvalidData},
		{"negative lease", c.handleRegister, `{"component":{"id":"x","type":"widget"},"lease_seconds":-1}`, mediator.CodeInvalidData},
		{"update unknown", c.handleUpdate, `{"id":"ghost","subscribers":["a"]}`, mediator.CodeUnknownComponent},
		{"update without id", c.handleUpdate, `{"subscribers":["a"]}`, mediator.CodeInvalidData},
		{"renew unknown", c.handleRenew, `{"id":"ghost","lease_seconds":5}`, mediator.CodeUnknownComponent},
		{"unregister without ref", c.handleUnregister, `{}`, mediator.CodeInvalidData},
		{"bad query", c.handleQuery, `{"query":{"field":"colour","cmp":"eq","value":1}}`, mediator.CodeInvalidData},
		{"empty query", c.handleQuery, `{}`, mediator.CodeInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeResponse(t, tt.handler(ctx, []byte(tt.data)))
			assert.Equal(t, tt.want, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestComponent_UpdateAndRenew(t *testing.T) {
	c := newTestComponent(t)
	ctx := context.Background()

	resp := decodeResponse(t, c.handleRegister(ctx, []byte(`{"component":{"id":"w1","type":"widget"}}`)))
	require.Equal(t, mediator.CodeNoError, resp.Code)
	index := *resp.Index

	resp = decodeResponse(t, c.handleUpdate(ctx, []byte(`{"id":"w1","non_constant_attributes":{"presence":"Boolean"},"mode":"add"}`)))
	assert.Equal(t, mediator.CodeNoError, resp.Code)

	d, err := c.mediator.Get(registry.ByID("w1"))
	require.NoError(t, err)
	typ, ok := d.NonConstantAttributes.Get("presence")
	assert.True(t, ok)
	assert.Equal(t, "Boolean", typ)

	resp = decodeResponse(t, c.handleRenew(ctx, []byte(`{"id":"w1","lease_seconds":120}`)))
	assert.Equal(t, mediator.CodeNoError, resp.Code)
	l, ok := c.mediator.Keeper().Get(index)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, l.Duration)

	resp = decodeResponse(t, c.handleUnregister(ctx, []byte(`{"index":`+jsonInt(index)+`}`)))
	assert.Equal(t, mediator.CodeNoError, resp.Code)
	assert.Equal(t, 0, c.mediator.Store().Len())
}

func TestComponent_WrappedRequest(t *testing.T) {
	c := newTestComponent(t)
	req := &RegisterRequest{Component: &description.ComponentDescription{ID: "wrapped", Type: description.TypeApplication}}
	data, err := json.Marshal(message.NewBaseMessage(RegisterRequestType, req, "test"))
	require.NoError(t, err)

	resp := decodeResponse(t, c.handleRegister(context.Background(), data))
	assert.Equal(t, mediator.CodeNoError, resp.Code)
	_, err = c.mediator.Get(registry.ByID("wrapped"))
	assert.NoError(t, err)
}

func TestComponent_CancelledRequest(t *testing.T) {
	c := newTestComponent(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.handleQuery(ctx, []byte(`{"query":{"field":"type","cmp":"eq","value":"widget"}}`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.requestsProcessed.Load())
}

func TestComponent_NotStarted(t *testing.T) {
	c := newTestComponent(t)
	c.mediator = nil
	resp := decodeResponse(t, c.handleQuery(context.Background(), []byte(`{"query":{"field":"type","cmp":"eq","value":"widget"}}`)))
	assert.Equal(t, mediator.CodeIOFailure, resp.Code)
}

func TestComponent_PublishEventWithoutClient(t *testing.T) {
	c := newTestComponent(t)
	c.publishEvent(mediator.Event{Kind: mediator.EventAdded, Description: &description.ComponentDescription{ID: "x"}})
	assert.Zero(t, c.eventsPublished.Load())
}

func TestComponent_Meta(t *testing.T) {
	c := newTestComponent(t)

	meta := c.Meta()
	assert.Equal(t, "discoverer", meta.Name)
	assert.Equal(t, "processor", meta.Type)

	inputs := c.InputPorts()
	require.Len(t, inputs, 5)
	assert.Equal(t, PortRegister, inputs[0].Name)
	assert.Equal(t, component.DirectionInput, inputs[0].Direction)
	assert.Equal(t, component.NATSPort{Subject: "discoverer.register"}, inputs[0].Config)

	outputs := c.OutputPorts()
	require.Len(t, outputs, 1)
	assert.Equal(t, component.DirectionOutput, outputs[0].Direction)

	assert.Equal(t, "stopped", c.Health().Status)
	assert.Zero(t, c.DataFlow().ErrorRate)
}

func TestConfig_Subject(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "discoverer.query", cfg.Subject(PortQuery, "x"))
	assert.Equal(t, "discoverer.events", cfg.Subject(PortEvents, "x"))
	assert.Equal(t, "fallback", cfg.Subject("missing", "fallback"))

	cfg.Ports = nil
	assert.Equal(t, "fallback", cfg.Subject(PortQuery, "fallback"))
}

func TestConfig_Conversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingTimeout = "3s"
	cfg.ReconfirmWindow = "2s"
	cfg.Seed.Dir = "/etc/discoverer/seeds"
	cfg.Seed.Debounce = "250ms"

	mc := cfg.MediatorConfig()
	assert.Equal(t, time.Minute, mc.DefaultLease)
	assert.Equal(t, 3*time.Second, mc.Lease.ReplyTimeout)
	assert.Equal(t, 2*time.Second, mc.Lease.ReconfirmWindow)
	assert.Equal(t, time.Second, mc.Lease.SweepInterval)

	sc := cfg.SeedSettings()
	assert.Equal(t, "/etc/discoverer/seeds", sc.Dir)
	assert.Equal(t, 250*time.Millisecond, sc.Debounce)
	assert.True(t, sc.Watch)

	stream := cfg.StreamSettings()
	assert.Equal(t, journal.DefaultStreamName, stream.Name)
	assert.Equal(t, journal.DefaultStreamSubject, stream.Subject)
}

type recordingRegistry struct {
	configs []component.RegistrationConfig
}

func (r *recordingRegistry) RegisterWithConfig(cfg component.RegistrationConfig) error {
	r.configs = append(r.configs, cfg)
	return nil
}

func TestRegister(t *testing.T) {
	assert.Error(t, Register(nil))

	reg := &recordingRegistry{}
	require.NoError(t, Register(reg))
	require.Len(t, reg.configs, 1)
	assert.Equal(t, "discoverer", reg.configs[0].Name)
	assert.Equal(t, "processor", reg.configs[0].Type)
	assert.NotNil(t, reg.configs[0].Factory)
}

func TestPayloadValidation(t *testing.T) {
	neg := int64(-5)
	assert.Error(t, (&RegisterRequest{}).Validate())
	assert.Error(t, (&RegisterRequest{Component: &description.ComponentDescription{}, LeaseSeconds: &neg}).Validate())
	assert.Error(t, (&UnregisterRequest{}).Validate())
	assert.Error(t, (&RenewRequest{ID: "a", LeaseSeconds: -1}).Validate())
	assert.Error(t, (&RegistryEvent{Kind: "moved", Component: &description.ComponentDescription{}}).Validate())
	assert.NoError(t, (&RegistryEvent{Kind: mediator.EventRemoved, Component: &description.ComponentDescription{}}).Validate())
	assert.Error(t, (&Response{}).Validate())

	assert.Equal(t, RegisterRequestType, (&RegisterRequest{}).Schema())
	assert.Equal(t, RegistryEventType, (&RegistryEvent{}).Schema())
}

func jsonInt(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}
