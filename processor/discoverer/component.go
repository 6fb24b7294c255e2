// Package discoverer provides the NATS request/reply front end of the
// component registry: registration, updates, lease renewal and search, plus
// registry change events.
package discoverer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/discoverer/journal"
	"github.com/c360studio/discoverer/liveness"
	"github.com/c360studio/discoverer/mediator"
	"github.com/c360studio/discoverer/query"
	"github.com/c360studio/discoverer/registry"
	"github.com/c360studio/discoverer/seed"
)

const (
	componentName = "discoverer"
	// Version is the component version reported in metadata.
	Version = "1.0.0"
)

// Component implements the discoverer processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *mediator.Metrics

	mediator *mediator.Mediator
	pinger   *liveness.NATSPinger
	syncer   *seed.Syncer

	eventSubject string

	// Lifecycle
	running       bool
	startTime     time.Time
	mu            sync.RWMutex
	cancel        context.CancelFunc
	runCtx        context.Context
	subscriptions []*natsclient.Subscription
	unlisten      func()

	// Metrics
	requestsProcessed atomic.Int64
	requestErrors     atomic.Int64
	eventsPublished   atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new discoverer processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var reg prometheus.Registerer
	if deps.MetricsRegistry != nil {
		reg = deps.MetricsRegistry.PrometheusRegistry()
	}

	return &Component{
		name:         componentName,
		config:       config,
		natsClient:   deps.NATSClient,
		logger:       deps.GetLoggerWithComponent(componentName),
		metrics:      mediator.NewMetrics(reg),
		eventSubject: config.Subject(PortEvents, "discoverer.events"),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized discoverer",
		"journal", c.config.Journal.Backend,
		"ping_prefix", c.config.PingPrefix,
		"seed_dir", c.config.Seed.Dir)
	return nil
}

// Start opens the journal, recovers the registry, starts the lease sweep and
// subscribes to the request subjects.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.runCtx = subCtx
	c.mu.Unlock()

	if err := c.start(subCtx); err != nil {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return err
	}

	c.logger.Info("discoverer started",
		"journal", c.config.Journal.Backend,
		"events", c.eventSubject,
		"components", c.mediator.Store().Len())
	return nil
}

func (c *Component) start(ctx context.Context) error {
	log, err := c.openJournal(ctx)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	c.pinger = liveness.NewNATSPinger(c.natsClient.GetConnection(), parseDuration(c.config.PingTimeout, liveness.DefaultTimeout), c.logger)
	m := mediator.New(c.config.MediatorConfig(), registry.NewStore(), log, c.pinger,
		mediator.WithLogger(c.logger),
		mediator.WithMetrics(c.metrics))

	c.mu.Lock()
	c.mediator = m
	c.unlisten = m.Subscribe(mediator.ListenerFunc(c.publishEvent))
	c.mu.Unlock()

	go m.Run(ctx)

	if !c.config.SkipRecovery {
		n, err := m.Recover(ctx)
		if err != nil {
			c.logger.Error("Journal recovery failed, starting empty", "error", err)
		} else {
			c.logger.Info("Journal recovery started", "candidates", n)
		}
	}

	if c.config.Seed.Dir != "" {
		c.syncer = seed.NewSyncer(c.config.SeedSettings(), m, c.logger)
		go func() {
			if err := c.syncer.Run(ctx); err != nil {
				c.logger.Error("Seed watcher stopped", "error", err)
			}
		}()
	}

	handlers := []struct {
		port    string
		handler func(context.Context, []byte) ([]byte, error)
	}{
		{PortRegister, c.handleRegister},
		{PortUpdate, c.handleUpdate},
		{PortUnregister, c.handleUnregister},
		{PortRenew, c.handleRenew},
		{PortQuery, c.handleQuery},
	}
	for _, h := range handlers {
		subject := c.config.Subject(h.port, "discoverer."+h.port)
		sub, err := c.natsClient.SubscribeForRequests(ctx, subject, h.handler)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		c.mu.Lock()
		c.subscriptions = append(c.subscriptions, sub)
		c.mu.Unlock()
		c.logger.Debug("Subscribed", "port", h.port, "subject", subject)
	}
	return nil
}

func (c *Component) openJournal(ctx context.Context) (journal.Log, error) {
	switch c.config.Journal.Backend {
	case JournalMemory:
		return journal.NewMemoryLog(), nil
	case JournalFile:
		return journal.NewFileLog(c.config.Journal.Path, c.config.Journal.SyncWrites), nil
	case JournalStream:
		js, err := c.natsClient.JetStream()
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		return journal.NewStreamLog(ctx, js, c.config.StreamSettings(), c.logger)
	default:
		return nil, fmt.Errorf("unknown journal backend %q", c.config.Journal.Backend)
	}
}

// Mediator returns the registry mediator, or nil before Start.
func (c *Component) Mediator() *mediator.Mediator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mediator
}

// decodeRequest reads either a raw request or a BaseMessage-wrapped one.
func decodeRequest(data []byte, req message.Payload) error {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
		Meta    map[string]any  `json:"meta"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	if len(envelope.Payload) > 0 && envelope.Meta != nil {
		var baseMsg message.BaseMessage
		if err := json.Unmarshal(data, &baseMsg); err != nil {
			return fmt.Errorf("parse message: %w", err)
		}
		payloadBytes, err := json.Marshal(baseMsg.Payload())
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		data = payloadBytes
	}
	if err := json.Unmarshal(data, req); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	return req.Validate()
}

// begin records a request and returns the mediator serving it.
func (c *Component) begin(ctx context.Context, data []byte, req message.Payload) (*mediator.Mediator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.requestsProcessed.Add(1)
	c.updateLastActivity()

	m := c.Mediator()
	if m == nil {
		return nil, fmt.Errorf("discoverer not started: %w", mediator.ErrIO)
	}
	if err := decodeRequest(data, req); err != nil {
		return nil, fmt.Errorf("%w: %v", mediator.ErrInvalidData, err)
	}
	return m, nil
}

func (c *Component) handleRegister(ctx context.Context, data []byte) ([]byte, error) {
	var req RegisterRequest
	m, err := c.begin(ctx, data, &req)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	index, err := m.Register(ctx, req.Component, req.Lease(c.config.MediatorConfig().DefaultLease))
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return json.Marshal(&Response{Code: mediator.CodeNoError, Index: &index})
}

func (c *Component) handleUpdate(ctx context.Context, data []byte) ([]byte, error) {
	var req UpdateRequest
	m, err := c.begin(ctx, data, &req)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	if err := m.Update(ctx, req.Delta(), req.Mode); err != nil {
		return c.errorResponse(ctx, err)
	}
	return json.Marshal(&Response{Code: mediator.CodeNoError})
}

func (c *Component) handleUnregister(ctx context.Context, data []byte) ([]byte, error) {
	var req UnregisterRequest
	m, err := c.begin(ctx, data, &req)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	ref := registry.ByID(req.ID)
	if req.Index != nil {
		ref = registry.ByIndex(*req.Index)
	}
	if err := m.Unregister(ctx, ref); err != nil {
		return c.errorResponse(ctx, err)
	}
	return json.Marshal(&Response{Code: mediator.CodeNoError})
}

func (c *Component) handleRenew(ctx context.Context, data []byte) ([]byte, error) {
	var req RenewRequest
	m, err := c.begin(ctx, data, &req)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	if err := m.RenewLease(ctx, req.ID, time.Duration(req.LeaseSeconds)*time.Second); err != nil {
		return c.errorResponse(ctx, err)
	}
	return json.Marshal(&Response{Code: mediator.CodeNoError})
}

func (c *Component) handleQuery(ctx context.Context, data []byte) ([]byte, error) {
	var req QueryRequest
	m, err := c.begin(ctx, data, &req)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	node, err := query.ParseNode(req.Query)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	result, err := m.Search(ctx, node)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return json.Marshal(&Response{Code: mediator.CodeNoError, Result: &result})
}

// errorResponse builds the reply for a failed request. A cancelled request
// context is returned as an error instead of a reply.
func (c *Component) errorResponse(ctx context.Context, err error) ([]byte, error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, err
	}
	c.requestErrors.Add(1)
	code := mediator.CodeOf(err)
	c.logger.Debug("Request failed", "code", code, "error", err)
	return json.Marshal(&Response{Code: code, Error: err.Error()})
}

// publishEvent forwards a registry change to NATS.
func (c *Component) publishEvent(e mediator.Event) {
	c.mu.RLock()
	ctx := c.runCtx
	c.mu.RUnlock()
	if ctx == nil || c.natsClient == nil {
		return
	}

	event := RegistryEvent{
		Kind:      e.Kind,
		Index:     e.Index,
		Component: e.Description,
		Reason:    e.Reason,
		Timestamp: time.Now(),
	}
	baseMsg := message.NewBaseMessage(RegistryEventType, &event, componentName)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Warn("Failed to marshal registry event", "component_id", e.Description.ID, "error", err)
		return
	}

	subject := c.eventSubject + "." + string(e.Kind)
	if err := c.natsClient.Publish(ctx, subject, data); err != nil {
		c.logger.Warn("Failed to publish registry event",
			"subject", subject,
			"component_id", e.Description.ID,
			"error", err)
		return
	}
	c.eventsPublished.Add(1)
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.unlisten != nil {
		c.unlisten()
		c.unlisten = nil
	}
	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("discoverer stopped",
		"requests_processed", c.requestsProcessed.Load(),
		"request_errors", c.requestErrors.Load(),
		"events_published", c.eventsPublished.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "processor",
		Description: "Component registry with attribute search, leases and journal recovery",
		Version:     Version,
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	return toPorts(c.config.Ports.Inputs, component.DirectionInput)
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	return toPorts(c.config.Ports.Outputs, component.DirectionOutput)
}

func toPorts(defs []component.PortDefinition, direction component.Direction) []component.Port {
	ports := make([]component.Port, len(defs))
	for i, portDef := range defs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   direction,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return discovererSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.requestErrors.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	var errorRate float64
	if total := c.requestsProcessed.Load(); total > 0 {
		errorRate = float64(c.requestErrors.Load()) / float64(total)
	}
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         errorRate,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
