// Package lease tracks how long each registered component may stay in the
// registry without renewing, asks components to reconfirm before their lease
// runs out and reports leases that expire without a reply.
package lease

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Default timings.
const (
	DefaultSweepInterval   = time.Second
	DefaultReconfirmWindow = 5 * time.Second
	DefaultReplyTimeout    = 10 * time.Second
)

// Lease is the registration lease of the component held in one slot.
// A zero Duration never expires.
type Lease struct {
	Index       int
	ComponentID string
	Duration    time.Duration
	ExpiresAt   time.Time

	notified   bool
	notifiedAt time.Time
}

// Expires reports whether the lease can run out.
func (l Lease) Expires() bool {
	return l.Duration > 0
}

// Handler receives lease notifications. Calls happen on the sweep goroutine
// outside the keeper's lock and must not block for long.
type Handler interface {
	// LeaseEnding is called once per lease term when the lease enters the
	// reconfirmation window.
	LeaseEnding(l Lease)
	// LeaseExpired is called once when a notified lease was not renewed in
	// time. The lease is already dropped from the keeper.
	LeaseExpired(l Lease)
}

// Config holds the keeper timings.
type Config struct {
	// SweepInterval is the period of the background sweep.
	SweepInterval time.Duration
	// ReconfirmWindow is how long before expiry LeaseEnding fires.
	ReconfirmWindow time.Duration
	// ReplyTimeout is how long a notified lease survives past its expiry.
	ReplyTimeout time.Duration
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   DefaultSweepInterval,
		ReconfirmWindow: DefaultReconfirmWindow,
		ReplyTimeout:    DefaultReplyTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.ReconfirmWindow < 0 {
		c.ReconfirmWindow = 0
	}
	if c.ReplyTimeout < 0 {
		c.ReplyTimeout = 0
	}
	return c
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithClock replaces the wall clock, for tests.
func WithClock(clk clock.WithTicker) Option {
	return func(k *Keeper) {
		if clk != nil {
			k.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keeper) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// Keeper holds one lease per registry slot.
type Keeper struct {
	config  Config
	handler Handler
	clock   clock.WithTicker
	logger  *slog.Logger

	mu     sync.Mutex
	leases map[int]*Lease
}

// NewKeeper creates a keeper reporting to handler.
func NewKeeper(cfg Config, handler Handler, opts ...Option) *Keeper {
	k := &Keeper{
		config:  cfg.withDefaults(),
		handler: handler,
		logger:  slog.Default(),
		leases:  make(map[int]*Lease),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.clock == nil {
		k.clock = &clock.RealClock{}
	}
	return k
}

// Add starts tracking a lease for the component in slot index, replacing any
// lease already held for that slot.
func (k *Keeper) Add(index int, componentID string, d time.Duration) Lease {
	k.mu.Lock()
	defer k.mu.Unlock()

	l := &Lease{Index: index, ComponentID: componentID, Duration: d}
	if d > 0 {
		l.ExpiresAt = k.clock.Now().Add(d)
	}
	k.leases[index] = l
	return *l
}

// Renew starts a new term of length d for the lease of slot index. It
// returns false when no lease is tracked for the slot.
func (k *Keeper) Renew(index int, d time.Duration) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.leases[index]
	if !ok {
		return false
	}
	l.Duration = d
	l.ExpiresAt = time.Time{}
	if d > 0 {
		l.ExpiresAt = k.clock.Now().Add(d)
	}
	l.notified = false
	l.notifiedAt = time.Time{}
	return true
}

// Remove stops tracking the lease of slot index.
func (k *Keeper) Remove(index int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.leases, index)
}

// Get returns the lease of slot index.
func (k *Keeper) Get(index int) (Lease, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.leases[index]
	if !ok {
		return Lease{}, false
	}
	return *l, true
}

// Len returns the number of tracked leases.
func (k *Keeper) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.leases)
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	k.logger.Debug("Lease sweep started", "interval", k.config.SweepInterval)
	defer k.logger.Debug("Lease sweep stopped")

	ticker := k.clock.NewTicker(k.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			k.Sweep()
		}
	}
}

// Sweep notifies leases entering the reconfirmation window and drops leases
// whose reply timeout has passed.
func (k *Keeper) Sweep() {
	now := k.clock.Now()
	var ending, expired []Lease

	k.mu.Lock()
	for index, l := range k.leases {
		if !l.Expires() {
			continue
		}
		if !l.notified {
			if !now.Before(l.ExpiresAt.Add(-k.config.ReconfirmWindow)) {
				l.notified = true
				l.notifiedAt = now
				ending = append(ending, *l)
			}
			continue
		}
		deadline := l.ExpiresAt
		if l.notifiedAt.After(deadline) {
			deadline = l.notifiedAt
		}
		if !now.Before(deadline.Add(k.config.ReplyTimeout)) {
			delete(k.leases, index)
			expired = append(expired, *l)
		}
	}
	k.mu.Unlock()

	sortByIndex(ending)
	sortByIndex(expired)
	for _, l := range ending {
		k.logger.Debug("Lease ending", "component_id", l.ComponentID, "index", l.Index, "expires_at", l.ExpiresAt)
		if k.handler != nil {
			k.handler.LeaseEnding(l)
		}
	}
	for _, l := range expired {
		k.logger.Info("Lease expired", "component_id", l.ComponentID, "index", l.Index)
		if k.handler != nil {
			k.handler.LeaseExpired(l)
		}
	}
}

func sortByIndex(leases []Lease) {
	sort.Slice(leases, func(i, j int) bool { return leases[i].Index < leases[j].Index })
}
