// Package mediator coordinates the registry store, the lease keeper, the
// journal and liveness pings. It is the single entry point for registering,
// updating, removing and finding components.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"k8s.io/utils/clock"

	"github.com/c360studio/discoverer/description"
	"github.com/c360studio/discoverer/journal"
	"github.com/c360studio/discoverer/lease"
	"github.com/c360studio/discoverer/liveness"
	"github.com/c360studio/discoverer/query"
	"github.com/c360studio/discoverer/registry"
)

// Config holds mediator settings.
type Config struct {
	// DefaultLease is used for recovered components and for registrations
	// that do not ask for a lease.
	DefaultLease time.Duration
	// PingPrefix is the subject prefix components listen on for pings.
	PingPrefix string
	// RecoveryTTL bounds how long a recovered component may take to answer
	// its liveness ping.
	RecoveryTTL time.Duration
	// Lease configures the lease keeper.
	Lease lease.Config
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		DefaultLease: 60 * time.Second,
		PingPrefix:   "discoverer",
		RecoveryTTL:  liveness.DefaultTimeout + 5*time.Second,
		Lease:        lease.DefaultConfig(),
	}
}

// Summary is the part of a description returned by Search.
type Summary struct {
	ID       string                    `json:"id"`
	Hostname string                    `json:"hostname"`
	Port     int                       `json:"port"`
	Type     description.ComponentType `json:"type"`
}

// Result is the outcome of a search.
type Result struct {
	Count      int       `json:"count"`
	Components []Summary `json:"components"`
}

// Option configures a Mediator.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *Metrics
	clock   clock.WithTicker
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records operations in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces the lease keeper's clock, for tests.
func WithClock(clk clock.WithTicker) Option {
	return func(o *options) { o.clock = clk }
}

// Mediator orchestrates registry mutations.
type Mediator struct {
	config  Config
	store   *registry.Store
	keeper  *lease.Keeper
	journal journal.Log
	pinger  liveness.Pinger
	metrics *Metrics
	logger  *slog.Logger

	candidates *ttlcache.Cache[string, *description.ComponentDescription]

	// writeMu orders store mutations with their journal entries.
	writeMu sync.Mutex

	ctxMu sync.RWMutex
	ctx   context.Context

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// New creates a mediator over store. A nil log disables journaling and a
// nil pinger treats every ping as unanswered.
func New(cfg Config, store *registry.Store, log journal.Log, pinger liveness.Pinger, opts ...Option) *Mediator {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	defaults := DefaultConfig()
	if cfg.PingPrefix == "" {
		cfg.PingPrefix = defaults.PingPrefix
	}
	if cfg.RecoveryTTL <= 0 {
		cfg.RecoveryTTL = defaults.RecoveryTTL
	}
	if cfg.DefaultLease < 0 {
		cfg.DefaultLease = defaults.DefaultLease
	}
	if log == nil {
		log = journal.NewMemoryLog()
	}
	if pinger == nil {
		pinger = unanswered{}
	}

	m := &Mediator{
		config:    cfg,
		store:     store,
		journal:   log,
		pinger:    pinger,
		metrics:   o.metrics,
		logger:    o.logger,
		ctx:       context.Background(),
		listeners: make(map[int]Listener),
	}

	keeperOpts := []lease.Option{lease.WithLogger(o.logger)}
	if o.clock != nil {
		keeperOpts = append(keeperOpts, lease.WithClock(o.clock))
	}
	m.keeper = lease.NewKeeper(cfg.Lease, m, keeperOpts...)

	m.candidates = ttlcache.New(
		ttlcache.WithTTL[string, *description.ComponentDescription](cfg.RecoveryTTL),
		ttlcache.WithDisableTouchOnHit[string, *description.ComponentDescription](),
	)
	m.candidates.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *description.ComponentDescription]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		m.metrics.recovered.WithLabelValues("timeout").Inc()
		m.logger.Info("Recovery candidate did not answer, dropping", "component_id", item.Key())
	})

	return m
}

// Store returns the underlying registry store.
func (m *Mediator) Store() *registry.Store {
	return m.store
}

// Keeper returns the lease keeper.
func (m *Mediator) Keeper() *lease.Keeper {
	return m.keeper
}

// Run drives the lease sweep and recovery-candidate expiry until ctx is
// cancelled. Pings started by lease handlers use ctx.
func (m *Mediator) Run(ctx context.Context) {
	m.ctxMu.Lock()
	m.ctx = ctx
	m.ctxMu.Unlock()

	go m.candidates.Start()
	defer m.candidates.Stop()

	m.keeper.Run(ctx)
}

func (m *Mediator) runContext() context.Context {
	m.ctxMu.RLock()
	defer m.ctxMu.RUnlock()
	return m.ctx
}

// Register validates d and stores it, replacing any component registered
// under the same id. A zero leaseDuration never expires.
func (m *Mediator) Register(ctx context.Context, d *description.ComponentDescription, leaseDuration time.Duration) (int, error) {
	index, _, err := m.register(ctx, d, leaseDuration, false)
	return index, err
}

// register stores d. With ifAbsent set, a component already registered under
// d's id is left in place and stored is false.
func (m *Mediator) register(ctx context.Context, d *description.ComponentDescription, leaseDuration time.Duration, ifAbsent bool) (index int, stored bool, err error) {
	if d == nil {
		return 0, false, fmt.Errorf("register: %w", ErrInvalidData)
	}
	d = d.Clone()
	d.Normalize()
	if err := d.Validate(); err != nil {
		return 0, false, fmt.Errorf("register: %w", err)
	}
	if leaseDuration < 0 {
		return 0, false, fmt.Errorf("register %s: negative lease: %w", d.ID, ErrLease)
	}

	m.writeMu.Lock()
	if ifAbsent {
		if _, ok := m.store.IndexOf(registry.ByID(d.ID)); ok {
			m.writeMu.Unlock()
			return 0, false, nil
		}
	}
	// A live registration supersedes any journal copy still awaiting its
	// recovery ping.
	m.candidates.Delete(candidateKey(d.ID))
	index, old, err := m.store.Replace(d)
	if err != nil {
		m.writeMu.Unlock()
		return 0, false, fmt.Errorf("register %s: %w", d.ID, err)
	}
	if old != nil {
		m.keeper.Remove(old.Index)
		m.appendJournal(ctx, journal.OpRemove, old.Description)
	}
	m.keeper.Add(index, d.ID, leaseDuration)
	m.appendJournal(ctx, journal.OpAdd, d)
	m.writeMu.Unlock()

	if old != nil {
		m.metrics.removals.WithLabelValues(ReasonReplaced).Inc()
	}
	m.metrics.registrations.Inc()
	m.metrics.components.Set(float64(m.store.Len()))
	m.logger.Info("Component registered",
		"component_id", d.ID,
		"index", index,
		"type", d.Type,
		"lease", leaseDuration,
		"replaced", old != nil)

	if old != nil {
		m.emit(Event{Kind: EventRemoved, Index: old.Index, Description: old.Description, Reason: ReasonReplaced})
	}
	m.emit(Event{Kind: EventAdded, Index: index, Description: d})
	return index, true, nil
}

// Update applies a delta to the non-constant attributes and subscriber list
// of a registered component. The slot index is unchanged.
func (m *Mediator) Update(ctx context.Context, delta *description.Delta, mode description.UpdateMode) error {
	if err := delta.Validate(); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	m.writeMu.Lock()
	updated, err := m.store.Apply(delta, mode)
	if err != nil {
		m.writeMu.Unlock()
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("update %s: %w", delta.ID, ErrUnknownComponent)
		}
		return fmt.Errorf("update %s: %w", delta.ID, err)
	}
	index, _ := m.store.IndexOf(registry.ByID(updated.ID))
	m.appendJournal(ctx, journal.OpAdd, updated)
	m.writeMu.Unlock()

	m.logger.Debug("Component updated", "component_id", updated.ID, "mode", mode)
	m.emit(Event{Kind: EventUpdated, Index: index, Description: updated})
	return nil
}

// Unregister removes a component, drops its lease and removes it from every
// subscriber list.
func (m *Mediator) Unregister(ctx context.Context, ref registry.Ref) error {
	return m.remove(ctx, ref, ReasonUnregistered)
}

func (m *Mediator) remove(ctx context.Context, ref registry.Ref, reason string) error {
	m.writeMu.Lock()
	index, ok := m.store.IndexOf(ref)
	if !ok {
		m.writeMu.Unlock()
		return fmt.Errorf("unregister %s: %w", ref, ErrUnknownComponent)
	}
	removed := m.store.Remove(registry.ByIndex(index))
	if removed == nil {
		m.writeMu.Unlock()
		return fmt.Errorf("unregister %s: %w", ref, ErrUnknownComponent)
	}
	m.keeper.Remove(index)
	updated := m.recordRemovalLocked(ctx, removed)
	m.writeMu.Unlock()

	m.announceRemoval(index, removed, reason, updated)
	return nil
}

// recordRemovalLocked journals a removal and cascades it to subscriber
// lists, returning the components whose lists changed. writeMu must be held.
func (m *Mediator) recordRemovalLocked(ctx context.Context, removed *description.ComponentDescription) []*description.ComponentDescription {
	m.appendJournal(ctx, journal.OpRemove, removed)

	var updated []*description.ComponentDescription
	for _, id := range m.store.PruneSubscriber(removed.ID) {
		d := m.store.Get(registry.ByID(id))
		if d == nil {
			continue
		}
		m.appendJournal(ctx, journal.OpAdd, d)
		updated = append(updated, d)
	}
	return updated
}

// announceRemoval records a removal in metrics and notifies listeners.
func (m *Mediator) announceRemoval(index int, removed *description.ComponentDescription, reason string, updated []*description.ComponentDescription) {
	m.metrics.removals.WithLabelValues(reason).Inc()
	m.metrics.components.Set(float64(m.store.Len()))
	m.logger.Info("Component removed",
		"component_id", removed.ID,
		"index", index,
		"reason", reason,
		"pruned_subscriptions", len(updated))

	m.emit(Event{Kind: EventRemoved, Index: index, Description: removed, Reason: reason})
	for _, d := range updated {
		idx, _ := m.store.IndexOf(registry.ByID(d.ID))
		m.emit(Event{Kind: EventUpdated, Index: idx, Description: d})
	}
}

// RenewLease starts a new lease term for a registered component.
func (m *Mediator) RenewLease(_ context.Context, id string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("renew %s: negative lease: %w", id, ErrLease)
	}
	index, ok := m.store.IndexOf(registry.ByID(id))
	if !ok {
		return fmt.Errorf("renew %s: %w", id, ErrUnknownComponent)
	}
	if !m.keeper.Renew(index, d) {
		return fmt.Errorf("renew %s: no lease tracked: %w", id, ErrLease)
	}
	m.logger.Debug("Lease renewed", "component_id", id, "lease", d)
	return nil
}

// Search returns the components matching node.
func (m *Mediator) Search(_ context.Context, node query.Node) (Result, error) {
	if !query.Valid(node) {
		return Result{}, fmt.Errorf("search: nil query: %w", ErrInvalidData)
	}
	start := time.Now()
	found := m.store.Find(node)
	m.metrics.queries.Inc()
	m.metrics.queryDuration.Observe(time.Since(start).Seconds())

	result := Result{Count: len(found), Components: make([]Summary, len(found))}
	for i, d := range found {
		result.Components[i] = Summary{ID: d.ID, Hostname: d.Hostname, Port: d.Port, Type: d.Type}
	}
	m.logger.Debug("Search", "query", node.String(), "count", result.Count)
	return result, nil
}

// Get returns a copy of a registered component.
func (m *Mediator) Get(ref registry.Ref) (*description.ComponentDescription, error) {
	d := m.store.Get(ref)
	if d == nil {
		return nil, fmt.Errorf("get %s: %w", ref, ErrUnknownComponent)
	}
	return d, nil
}

// LeaseEnding implements lease.Handler by asking the component to reconfirm.
// A reply either renews the lease or unregisters the component; silence is
// left to the keeper's reply timeout.
func (m *Mediator) LeaseEnding(l lease.Lease) {
	d := m.store.Get(registry.ByIndex(l.Index))
	if d == nil || d.ID != l.ComponentID {
		return
	}
	m.metrics.reconfirmations.Inc()

	ctx := m.runContext()
	target := liveness.Target{ComponentID: d.ID, Subject: liveness.SubjectFor(m.config.PingPrefix, d.ID)}
	m.pinger.Ping(ctx, target, liveness.Request{Kind: liveness.KindReconfirm}, func(r liveness.Result) {
		if r.Err != nil {
			m.logger.Debug("Reconfirmation unanswered", "component_id", d.ID, "error", r.Err)
			return
		}
		switch r.Reply.Action {
		case liveness.ActionTerminate:
			if err := m.remove(ctx, registry.ByIndex(l.Index), ReasonTerminated); err != nil {
				m.logger.Debug("Terminate after reconfirmation failed", "component_id", d.ID, "error", err)
			}
		default:
			duration := r.Reply.Lease()
			if duration <= 0 {
				duration = l.Duration
			}
			if err := m.RenewLease(ctx, d.ID, duration); err != nil {
				m.logger.Warn("Renew after reconfirmation failed", "component_id", d.ID, "error", err)
			}
		}
	})
}

// LeaseExpired implements lease.Handler. The component is removed only if
// its slot still holds the component the lease was issued for.
func (m *Mediator) LeaseExpired(l lease.Lease) {
	m.writeMu.Lock()
	var removed *description.ComponentDescription
	m.store.WithLock(func(tx registry.Tx) {
		d := tx.Get(registry.ByIndex(l.Index))
		if d == nil || d.ID != l.ComponentID {
			return
		}
		removed = tx.Remove(registry.ByIndex(l.Index))
	})
	if removed == nil {
		m.writeMu.Unlock()
		return
	}
	updated := m.recordRemovalLocked(m.runContext(), removed)
	m.writeMu.Unlock()

	m.announceRemoval(l.Index, removed, ReasonExpired, updated)
}

func (m *Mediator) appendJournal(ctx context.Context, op journal.Op, d *description.ComponentDescription) {
	if err := m.journal.Append(ctx, op, d); err != nil {
		m.metrics.journalErrors.Inc()
		m.logger.Warn("Journal append failed", "op", op, "component_id", d.ID, "error", err)
	}
}

// unanswered is the pinger used when none is configured.
type unanswered struct{}

func (unanswered) Ping(_ context.Context, target liveness.Target, req liveness.Request, cb liveness.Callback) {
	if cb != nil {
		go cb(liveness.Result{Target: target, Request: req, Err: liveness.ErrNoReply})
	}
}
