// Package liveness asks registered components whether they are still alive.
// Pings are asynchronous: Ping returns immediately and the outcome is
// delivered to a callback once the component replies or the timeout passes.
package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds how long a ping waits for its reply.
const DefaultTimeout = 10 * time.Second

// ErrNoReply is reported when a ping times out or nobody is listening.
var ErrNoReply = errors.New("no reply from component")

// Kind says why a component is being pinged.
type Kind string

// Ping kinds.
const (
	// KindReconfirm asks a component to renew a lease that is about to end.
	KindReconfirm Kind = "reconfirm"
	// KindRecover asks a component recovered from the journal whether it is
	// still running.
	KindRecover Kind = "recover"
)

// Action is a component's answer to a ping.
type Action string

// Reply actions.
const (
	// ActionRenew renews the lease for the duration carried by the reply.
	ActionRenew Action = "renew"
	// ActionTerminate asks the discoverer to unregister the component.
	ActionTerminate Action = "terminate"
	// ActionAlive confirms the component is running without changing its lease.
	ActionAlive Action = "alive"
)

// Target addresses the component being pinged.
type Target struct {
	ComponentID string
	Subject     string
}

// Request is the ping payload.
type Request struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	ComponentID string    `json:"component_id"`
	SentAt      time.Time `json:"sent_at"`
}

// Reply is the component's answer.
type Reply struct {
	RequestID string `json:"request_id"`
	Action    Action `json:"action"`
	// LeaseSeconds is the renewed lease length for ActionRenew.
	LeaseSeconds int `json:"lease_seconds,omitempty"`
}

// Lease returns the renewed lease duration.
func (r Reply) Lease() time.Duration {
	return time.Duration(r.LeaseSeconds) * time.Second
}

// Validate checks the reply action.
func (r Reply) Validate() error {
	switch r.Action {
	case ActionRenew, ActionTerminate, ActionAlive:
		return nil
	default:
		return fmt.Errorf("unknown reply action %q", r.Action)
	}
}

// Result is delivered to the callback exactly once per ping.
type Result struct {
	Target  Target
	Request Request
	Reply   Reply
	Err     error
}

// Alive reports whether the component answered.
func (r Result) Alive() bool {
	return r.Err == nil
}

// Callback receives the outcome of a ping.
type Callback func(Result)

// Pinger sends pings.
type Pinger interface {
	// Ping sends req to target without blocking and calls cb with the
	// outcome. Cancelling ctx abandons the ping.
	Ping(ctx context.Context, target Target, req Request, cb Callback)
}

// SubjectFor returns the subject a component listens on for pings.
func SubjectFor(prefix, componentID string) string {
	r := strings.NewReplacer(" ", "_", "*", "_", ">", "_", "\t", "_")
	return prefix + ".ping." + r.Replace(componentID)
}

func encodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func decodeReply(data []byte) (Reply, error) {
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode ping reply: %w", err)
	}
	if err := reply.Validate(); err != nil {
		return Reply{}, err
	}
	return reply, nil
}
