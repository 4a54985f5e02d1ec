// Package observability turns consultation events into logs and metrics.
package observability

import (
	"context"

	"github.com/rs/zerolog"

	"treatment-journey/internal/consultation"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "consultation").Logger()}
}

func (s *LogSink) Record(_ context.Context, e consultation.Event) {
	var ev *zerolog.Event
	switch e.Kind {
	case consultation.EventGenerationFailed, consultation.EventReportFailed:
		ev = s.log.Error().Err(e.Err)
	case consultation.EventEmergencyDispatched:
		ev = s.log.Warn().Str("phrase", e.Phrase)
	case consultation.EventTurnStarted, consultation.EventFactsMerged:
		ev = s.log.Debug()
	default:
		ev = s.log.Info()
	}
	if e.SessionID != "" {
		ev = ev.Str("session_id", e.SessionID)
	}
	if e.JourneyID != "" {
		ev = ev.Str("journey_id", e.JourneyID)
	}
	if e.Duration > 0 {
		ev = ev.Dur("took", e.Duration)
	}
	for k, v := range e.Counts {
		ev = ev.Int(k, v)
	}
	ev.Msg(string(e.Kind))
}

// Multi fans an event out to several sinks in order.
type Multi []consultation.EventSink

func (m Multi) Record(ctx context.Context, e consultation.Event) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}
