package discoverer

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/discoverer/journal"
	"github.com/c360studio/discoverer/lease"
	"github.com/c360studio/discoverer/mediator"
	"github.com/c360studio/discoverer/seed"
)

// discovererSchema defines the configuration schema.
var discovererSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Port names resolved from the port configuration.
const (
	PortRegister   = "register"
	PortUpdate     = "update"
	PortUnregister = "unregister"
	PortRenew      = "renew"
	PortQuery      = "query"
	PortEvents     = "events"
)

// Journal backends.
const (
	JournalMemory = "memory"
	JournalFile   = "file"
	JournalStream = "stream"
)

// Config holds configuration for the discoverer processor.
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	PingPrefix      string `json:"ping_prefix" schema:"type:string,description:Subject prefix components listen on for liveness pings,category:basic,default:discoverer"`
	DefaultLease    string `json:"default_lease" schema:"type:string,description:Lease for registrations that do not ask for one,category:basic,default:60s"`
	PingTimeout     string `json:"ping_timeout" schema:"type:string,description:How long to wait for a ping reply,category:advanced,default:10s"`
	SweepInterval   string `json:"sweep_interval" schema:"type:string,description:Lease sweep period,category:advanced,default:1s"`
	ReconfirmWindow string `json:"reconfirm_window" schema:"type:string,description:How long before expiry a component is asked to reconfirm,category:advanced,default:5s"`
	RecoveryTTL     string `json:"recovery_ttl" schema:"type:string,description:How long a recovered component may take to answer,category:advanced,default:15s"`
	SkipRecovery    bool   `json:"skip_recovery" schema:"type:bool,description:Start empty instead of replaying the journal,category:advanced,default:false"`

	Journal JournalConfig `json:"journal" schema:"type:object,description:Recovery journal,category:basic"`
	Seed    SeedConfig    `json:"seed" schema:"type:object,description:Static component registrations,category:advanced"`
}

// JournalConfig selects and configures the recovery journal.
type JournalConfig struct {
	Backend    string `json:"backend" schema:"type:enum,description:Journal backend,category:basic,enum:memory|file|stream,default:stream"`
	Path       string `json:"path,omitempty" schema:"type:string,description:Journal file for the file backend,category:basic"`
	SyncWrites bool   `json:"sync_writes,omitempty" schema:"type:bool,description:Fsync every file journal append,category:advanced"`
	Stream     string `json:"stream,omitempty" schema:"type:string,description:JetStream stream for the stream backend,category:basic,default:DISCOVERER_JOURNAL"`
	Subject    string `json:"subject,omitempty" schema:"type:string,description:Subject journal lines are published on,category:advanced,default:discoverer.journal"`
	Replicas   int    `json:"replicas,omitempty" schema:"type:int,description:Stream replicas,category:advanced,default:1"`
}

// SeedConfig configures static registrations.
type SeedConfig struct {
	Dir      string `json:"dir,omitempty" schema:"type:string,description:Directory of seed files (empty disables seeding),category:basic"`
	Pattern  string `json:"pattern,omitempty" schema:"type:string,description:Glob for seed files below dir,category:advanced"`
	Watch    bool   `json:"watch,omitempty" schema:"type:bool,description:Re-sync when seed files change,category:advanced"`
	Debounce string `json:"debounce,omitempty" schema:"type:string,description:Delay collecting seed file changes,category:advanced,default:500ms"`
}

// DefaultConfig returns the default configuration for the discoverer.
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{Name: PortRegister, Type: "nats-request", Subject: "discoverer.register", Required: true, Description: "Register a component description"},
				{Name: PortUpdate, Type: "nats-request", Subject: "discoverer.update", Required: true, Description: "Update non-constant attributes and subscribers"},
				{Name: PortUnregister, Type: "nats-request", Subject: "discoverer.unregister", Required: true, Description: "Unregister a component"},
				{Name: PortRenew, Type: "nats-request", Subject: "discoverer.renew", Required: true, Description: "Renew a component lease"},
				{Name: PortQuery, Type: "nats-request", Subject: "discoverer.query", Required: true, Description: "Search registered components"},
			},
			Outputs: []component.PortDefinition{
				{Name: PortEvents, Type: "nats", Subject: "discoverer.events", Required: false, Description: "Registry change events (suffixed .added, .removed, .updated)"},
			},
		},
		PingPrefix:      "discoverer",
		DefaultLease:    "60s",
		PingTimeout:     "10s",
		SweepInterval:   "1s",
		ReconfirmWindow: "5s",
		RecoveryTTL:     "15s",
		Journal: JournalConfig{
			Backend:  JournalStream,
			Stream:   journal.DefaultStreamName,
			Subject:  journal.DefaultStreamSubject,
			Replicas: 1,
		},
		Seed: SeedConfig{
			Pattern:  seed.DefaultPattern,
			Watch:    true,
			Debounce: "500ms",
		},
	}
}

// applyDefaults fills zero values from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Ports == nil {
		c.Ports = d.Ports
	}
	if c.PingPrefix == "" {
		c.PingPrefix = d.PingPrefix
	}
	if c.DefaultLease == "" {
		c.DefaultLease = d.DefaultLease
	}
	if c.PingTimeout == "" {
		c.PingTimeout = d.PingTimeout
	}
	if c.SweepInterval == "" {
		c.SweepInterval = d.SweepInterval
	}
	if c.ReconfirmWindow == "" {
		c.ReconfirmWindow = d.ReconfirmWindow
	}
	if c.RecoveryTTL == "" {
		c.RecoveryTTL = d.RecoveryTTL
	}
	if c.Journal.Backend == "" {
		c.Journal.Backend = d.Journal.Backend
	}
	if c.Journal.Stream == "" {
		c.Journal.Stream = d.Journal.Stream
	}
	if c.Journal.Subject == "" {
		c.Journal.Subject = d.Journal.Subject
	}
	if c.Journal.Replicas == 0 {
		c.Journal.Replicas = d.Journal.Replicas
	}
	if c.Seed.Pattern == "" {
		c.Seed.Pattern = d.Seed.Pattern
	}
	if c.Seed.Debounce == "" {
		c.Seed.Debounce = d.Seed.Debounce
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	durations := map[string]string{
		"default_lease":    c.DefaultLease,
		"ping_timeout":     c.PingTimeout,
		"sweep_interval":   c.SweepInterval,
		"reconfirm_window": c.ReconfirmWindow,
		"recovery_ttl":     c.RecoveryTTL,
		"seed.debounce":    c.Seed.Debounce,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	if c.SweepInterval != "" && parseDuration(c.SweepInterval, 0) == 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}

	switch c.Journal.Backend {
	case JournalMemory, JournalStream:
	case JournalFile:
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.Journal.Backend)
	}
	if c.Journal.Replicas < 0 {
		return fmt.Errorf("journal.replicas must be non-negative")
	}
	return nil
}

// MediatorConfig converts the durations for the mediator.
func (c *Config) MediatorConfig() mediator.Config {
	defaults := mediator.DefaultConfig()
	return mediator.Config{
		DefaultLease: parseDuration(c.DefaultLease, defaults.DefaultLease),
		PingPrefix:   c.PingPrefix,
		RecoveryTTL:  parseDuration(c.RecoveryTTL, defaults.RecoveryTTL),
		Lease: lease.Config{
			SweepInterval:   parseDuration(c.SweepInterval, defaults.Lease.SweepInterval),
			ReconfirmWindow: parseDuration(c.ReconfirmWindow, defaults.Lease.ReconfirmWindow),
			ReplyTimeout:    parseDuration(c.PingTimeout, defaults.Lease.ReplyTimeout),
		},
	}
}

// SeedSettings converts the seed section for the seed syncer.
func (c *Config) SeedSettings() seed.Config {
	return seed.Config{
		Dir:      c.Seed.Dir,
		Pattern:  c.Seed.Pattern,
		Watch:    c.Seed.Watch,
		Debounce: parseDuration(c.Seed.Debounce, seed.DefaultConfig().Debounce),
	}
}

// StreamSettings converts the journal section for a stream journal.
func (c *Config) StreamSettings() journal.StreamConfig {
	cfg := journal.DefaultStreamConfig()
	cfg.Name = c.Journal.Stream
	cfg.Subject = c.Journal.Subject
	if c.Journal.Replicas > 0 {
		cfg.Replicas = c.Journal.Replicas
	}
	return cfg
}

// Subject returns the subject of the named port, or fallback.
func (c *Config) Subject(port, fallback string) string {
	if c.Ports == nil {
		return fallback
	}
	for _, defs := range [][]component.PortDefinition{c.Ports.Inputs, c.Ports.Outputs} {
		for _, def := range defs {
			if def.Name == port && def.Subject != "" {
				return def.Subject
			}
		}
	}
	return fallback
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
