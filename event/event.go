// Package event defines the wire shape of the events that trigger and flow
// through durable functions.
package event

import "fmt"

// Event is the payload the executor matches against function triggers and
// hands to user code as Input.Event. It is opaque to the core beyond Name,
// which drives trigger matching.
type Event struct {
	// ID is an optional event ID used for deduplication on ingest.
	ID *string `json:"id,omitempty"`

	// Name identifies the event for trigger matching. Conventionally
	// "noun.action", e.g. "signup.new" or "payment.succeeded". Required.
	Name string `json:"name"`

	// Data is user-defined payload data.
	Data map[string]any `json:"data"`

	// User carries data about the event's originating user, if any.
	User any `json:"user,omitempty"`

	// Timestamp is the event time in Unix milliseconds. Left zero, it
	// defaults to ingest time.
	Timestamp int64 `json:"ts,omitempty"`

	// Version denotes the shape of Data at the time the event was emitted,
	// e.g. "2021-03-19.01". Optional.
	Version string `json:"v,omitempty"`
}

// Validate reports an error if the event is missing required fields, and
// normalizes Data to a non-nil map.
func (e *Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("event name must be present")
	}
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	return nil
}

// Map renders the event as the JSON-ready shape the ingest API expects.
func (e Event) Map() map[string]any {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	if e.User == nil {
		e.User = make(map[string]any)
	}

	data := map[string]any{
		"name": e.Name,
		"data": e.Data,
		"user": e.User,
		// JSON round-trips numbers as float64; match that here so callers
		// comparing the map against a decoded response see equal types.
		"ts": float64(e.Timestamp),
	}

	if e.Version != "" {
		data["v"] = e.Version
	}
	if e.ID != nil {
		data["id"] = *e.ID
	}

	return data
}
