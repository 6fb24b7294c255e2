package discoverer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/discoverer/description"
	"github.com/c360studio/discoverer/mediator"
)

// Message types for discoverer payloads.
var (
	RegisterRequestType = message.Type{Domain: "discoverer", Category: "register.request", Version: "v1"}
	UpdateRequestType   = message.Type{Domain: "discoverer", Category: "update.request", Version: "v1"}
	UnregisterType      = message.Type{Domain: "discoverer", Category: "unregister.request", Version: "v1"}
	RenewRequestType    = message.Type{Domain: "discoverer", Category: "renew.request", Version: "v1"}
	QueryRequestType    = message.Type{Domain: "discoverer", Category: "query.request", Version: "v1"}
	ResponseType        = message.Type{Domain: "discoverer", Category: "response", Version: "v1"}
	RegistryEventType   = message.Type{Domain: "discoverer", Category: "event", Version: "v1"}
)

// RegisterRequest registers a component.
type RegisterRequest struct {
	Component *description.ComponentDescription `json:"component"`

	// LeaseSeconds is the requested lease. Omitted uses the configured
	// default lease; zero never expires.
	LeaseSeconds *int64 `json:"lease_seconds,omitempty"`
}

// Lease resolves the requested lease against the default.
func (p *RegisterRequest) Lease(fallback time.Duration) time.Duration {
	if p.LeaseSeconds == nil {
		return fallback
	}
	return time.Duration(*p.LeaseSeconds) * time.Second
}

// Schema returns the message type for RegisterRequest.
func (p *RegisterRequest) Schema() message.Type { return RegisterRequestType }

// Validate validates the RegisterRequest.
func (p *RegisterRequest) Validate() error {
	if p.Component == nil {
		return fmt.Errorf("component is required")
	}
	if p.LeaseSeconds != nil && *p.LeaseSeconds < 0 {
		return fmt.Errorf("lease_seconds must be non-negative")
	}
	return nil
}

// MarshalJSON marshals the RegisterRequest to JSON.
func (p *RegisterRequest) MarshalJSON() ([]byte, error) {
	type Alias RegisterRequest
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the RegisterRequest from JSON.
func (p *RegisterRequest) UnmarshalJSON(data []byte) error {
	type Alias RegisterRequest
	return json.Unmarshal(data, (*Alias)(p))
}

// UpdateRequest changes the non-constant attributes and subscribers of a
// registered component.
type UpdateRequest struct {
	ID                    string                    `json:"id"`
	NonConstantAttributes *description.AttributeSet `json:"non_constant_attributes,omitempty"`
	Subscribers           *description.NameSet      `json:"subscribers,omitempty"`
	Mode                  description.UpdateMode    `json:"mode"`
}

// Delta returns the change as a description delta.
func (p *UpdateRequest) Delta() *description.Delta {
	return &description.Delta{
		ID:                    p.ID,
		NonConstantAttributes: p.NonConstantAttributes,
		Subscribers:           p.Subscribers,
	}
}

// Schema returns the message type for UpdateRequest.
func (p *UpdateRequest) Schema() message.Type { return UpdateRequestType }

// Validate validates the UpdateRequest.
func (p *UpdateRequest) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// MarshalJSON marshals the UpdateRequest to JSON.
func (p *UpdateRequest) MarshalJSON() ([]byte, error) {
	type Alias UpdateRequest
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the UpdateRequest from JSON.
func (p *UpdateRequest) UnmarshalJSON(data []byte) error {
	type Alias UpdateRequest
	return json.Unmarshal(data, (*Alias)(p))
}

// UnregisterRequest removes a component by id or by slot index.
type UnregisterRequest struct {
	ID    string `json:"id,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// Schema returns the message type for UnregisterRequest.
func (p *UnregisterRequest) Schema() message.Type { return UnregisterType }

// Validate validates the UnregisterRequest.
func (p *UnregisterRequest) Validate() error {
	if strings.TrimSpace(p.ID) == "" && p.Index == nil {
		return fmt.Errorf("id or index is required")
	}
	return nil
}

// MarshalJSON marshals the UnregisterRequest to JSON.
func (p *UnregisterRequest) MarshalJSON() ([]byte, error) {
	type Alias UnregisterRequest
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the UnregisterRequest from JSON.
func (p *UnregisterRequest) UnmarshalJSON(data []byte) error {
	type Alias UnregisterRequest
	return json.Unmarshal(data, (*Alias)(p))
}

// RenewRequest starts a new lease term.
type RenewRequest struct {
	ID           string `json:"id"`
	LeaseSeconds int64  `json:"lease_seconds"`
}

// Schema returns the message type for RenewRequest.
func (p *RenewRequest) Schema() message.Type { return RenewRequestType }

// Validate validates the RenewRequest.
func (p *RenewRequest) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if p.LeaseSeconds < 0 {
		return fmt.Errorf("lease_seconds must be non-negative")
	}
	return nil
}

// MarshalJSON marshals the RenewRequest to JSON.
func (p *RenewRequest) MarshalJSON() ([]byte, error) {
	type Alias RenewRequest
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the RenewRequest from JSON.
func (p *RenewRequest) UnmarshalJSON(data []byte) error {
	type Alias RenewRequest
	return json.Unmarshal(data, (*Alias)(p))
}

// QueryRequest carries a query document in the form query.ParseNode reads.
type QueryRequest struct {
	Query json.RawMessage `json:"query"`
}

// Schema returns the message type for QueryRequest.
func (p *QueryRequest) Schema() message.Type { return QueryRequestType }

// Validate validates the QueryRequest.
func (p *QueryRequest) Validate() error {
	if len(p.Query) == 0 {
		return fmt.Errorf("query is required")
	}
	return nil
}

// MarshalJSON marshals the QueryRequest to JSON.
func (p *QueryRequest) MarshalJSON() ([]byte, error) {
	type Alias QueryRequest
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the QueryRequest from JSON.
func (p *QueryRequest) UnmarshalJSON(data []byte) error {
	type Alias QueryRequest
	return json.Unmarshal(data, (*Alias)(p))
}

// Response is the reply to every discoverer request.
type Response struct {
	Code  mediator.Code `json:"code"`
	Error string        `json:"error,omitempty"`

	// Index is the slot a registration was stored in.
	Index *int `json:"index,omitempty"`

	// Result is set for queries.
	Result *mediator.Result `json:"result,omitempty"`
}

// Schema returns the message type for Response.
func (p *Response) Schema() message.Type { return ResponseType }

// Validate validates the Response.
func (p *Response) Validate() error {
	if p.Code == "" {
		return fmt.Errorf("code is required")
	}
	return nil
}

// MarshalJSON marshals the Response to JSON.
func (p *Response) MarshalJSON() ([]byte, error) {
	type Alias Response
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the Response from JSON.
func (p *Response) UnmarshalJSON(data []byte) error {
	type Alias Response
	return json.Unmarshal(data, (*Alias)(p))
}

// RegistryEvent is published for every registry change.
type RegistryEvent struct {
	Kind      mediator.EventKind                `json:"kind"`
	Index     int                               `json:"index"`
	Component *description.ComponentDescription `json:"component"`
	Reason    string                            `json:"reason,omitempty"`
	Timestamp time.Time                         `json:"timestamp"`
}

// Schema returns the message type for RegistryEvent.
func (p *RegistryEvent) Schema() message.Type { return RegistryEventType }

// Validate validates the RegistryEvent.
func (p *RegistryEvent) Validate() error {
	switch p.Kind {
	case mediator.EventAdded, mediator.EventRemoved, mediator.EventUpdated:
	default:
		return fmt.Errorf("unknown event kind %q", p.Kind)
	}
	if p.Component == nil {
		return fmt.Errorf("component is required")
	}
	return nil
}

// MarshalJSON marshals the RegistryEvent to JSON.
func (p *RegistryEvent) MarshalJSON() ([]byte, error) {
	type Alias RegistryEvent
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the RegistryEvent from JSON.
func (p *RegistryEvent) UnmarshalJSON(data []byte) error {
	type Alias RegistryEvent
	return json.Unmarshal(data, (*Alias)(p))
}
