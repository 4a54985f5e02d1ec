package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientData is returned when synthesis is attempted on a state that
// has not reached completeness.
var ErrInsufficientData = errors.New("insufficient data to create treatment journey")

// Synthesizer turns a complete aggregated state into a treatment journey.
type Synthesizer struct {
	gen           Generator
	seedFromFacts bool
}

// NewSynthesizer builds a synthesizer. With seedFromFacts the journey's daily
// schedule and appointments are filled from the aggregated facts; otherwise
// an empty skeleton is returned.
func NewSynthesizer(gen Generator, seedFromFacts bool) *Synthesizer {
	return &Synthesizer{gen: gen, seedFromFacts: seedFromFacts}
}

// Synthesize asks the generator for a journey narrative and structures it.
// It returns ErrInsufficientData when the state is not complete.
func (s *Synthesizer) Synthesize(ctx context.Context, st MedicalState) (Journey, error) {
	if !st.Complete {
		return Journey{}, ErrInsufficientData
	}

	narrative, err := s.gen.Generate(ctx, journeyPrompt(st), nil)
	if err != nil {
		return Journey{}, &GenerationError{Stage: "journey", Err: err}
	}
	return s.structure(narrative, st), nil
}

// structure converts the narrative into a journey. The narrative itself is not
// parsed yet.
func (s *Synthesizer) structure(_ string, st MedicalState) Journey {
	j := NewJourney()
	if !s.seedFromFacts {
		return j
	}
	for _, m := range st.Medications {
		j.DailySchedule = append(j.DailySchedule, ScheduleEntry{
			Time:       m.Timing,
			Medication: m.Name,
			Dosage:     m.Dosage,
		})
	}
	j.Appointments = append(j.Appointments, st.Appointments...)
	return j
}

func journeyPrompt(st MedicalState) string {
	var b strings.Builder
	b.WriteString("Create a treatment journey based on the following information:\n")
	fmt.Fprintf(&b, "Medications: %s\n", compactJSON(st.Medications))
	fmt.Fprintf(&b, "Appointments: %s\n", compactJSON(st.Appointments))
	fmt.Fprintf(&b, "Treatments: %s\n", compactJSON(st.Treatments))
	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}
