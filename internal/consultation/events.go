package consultation

import (
	"context"
	"time"
)

// EventKind names something observable that happened during a turn.
type EventKind string

const (
	EventTurnStarted         EventKind = "turn.started"
	EventEmergencyDispatched EventKind = "emergency.dispatched"
	EventGenerationCompleted EventKind = "generation.completed"
	EventGenerationFailed    EventKind = "generation.failed"
	EventFactsMerged         EventKind = "facts.merged"
	EventJourneySynthesized  EventKind = "journey.synthesized"
	EventJourneyStored       EventKind = "journey.stored"
	EventReportSent          EventKind = "report.sent"
	EventReportFailed        EventKind = "report.failed"
	EventSessionsEvicted     EventKind = "sessions.evicted"
)

// Event is a structured record handed to an EventSink.
type Event struct {
	Kind      EventKind
	SessionID string
	JourneyID string
	// Phrase is the matched emergency phrase.
	Phrase   string
	Duration time.Duration
	// Counts holds per-category record counts for facts.merged and the
	// number of removed sessions for sessions.evicted.
	Counts map[string]int
	Err    error
}

// EventSink receives events from the orchestrator. Implementations must be
// safe for concurrent use.
type EventSink interface {
	Record(ctx context.Context, e Event)
}

type nopSink struct{}

func (nopSink) Record(context.Context, Event) {}

// NopSink discards every event.
var NopSink EventSink = nopSink{}

func bundleCounts(b FactBundle) map[string]int {
	return map[string]int{
		"medications":  len(b.Medications),
		"appointments": len(b.Appointments),
		"treatments":   len(b.Treatments),
	}
}
