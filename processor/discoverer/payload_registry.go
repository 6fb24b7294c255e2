package discoverer

import "github.com/c360studio/semstreams/component"

func init() {
	payloads := []struct {
		category    string
		description string
		factory     func() any
	}{
		{"register.request", "Component registration request", func() any { return &RegisterRequest{} }},
		{"update.request", "Component attribute and subscriber update request", func() any { return &UpdateRequest{} }},
		{"unregister.request", "Component unregistration request", func() any { return &UnregisterRequest{} }},
		{"renew.request", "Component lease renewal request", func() any { return &RenewRequest{} }},
		{"query.request", "Component search request", func() any { return &QueryRequest{} }},
		{"response", "Discoverer request reply", func() any { return &Response{} }},
		{"event", "Registry change event", func() any { return &RegistryEvent{} }},
	}
	for _, p := range payloads {
		if err := component.RegisterPayload(&component.PayloadRegistration{
			Domain:      "discoverer",
			Category:    p.category,
			Version:     "v1",
			Description: p.description,
			Factory:     p.factory,
		}); err != nil {
			panic("failed to register discoverer." + p.category + " payload: " + err.Error())
		}
	}
}
