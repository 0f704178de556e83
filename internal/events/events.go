// Package events defines the progress/completion events emitted by the
// import pipeline and a hub that fans them out to live subscribers.
package events

import "time"

// Type names an event kind.
type Type string

const (
	// BatchItem is emitted after every batch item status transition.
	BatchItem Type = "batch.item"
	// BatchComplete is emitted once per batch with the final stats.
	BatchComplete Type = "batch.complete"
	// BatchCancelled is emitted when a batch is cancelled.
	BatchCancelled Type = "batch.cancelled"
	// EnrichmentComplete is emitted when a phase-two job succeeds.
	EnrichmentComplete Type = "enrichment.complete"
	// EnrichmentFailed is emitted when a phase-two job fails terminally.
	EnrichmentFailed Type = "enrichment.failed"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Sink receives events fire-and-forget; emitters never wait on delivery.
type Sink interface {
	Emit(event Event)
}

// NopSink discards all events. Used in tests and when no hub is wired.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// New builds an event with the current timestamp.
func New(t Type, payload interface{}) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Payload: payload}
}
