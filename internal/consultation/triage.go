package consultation

import (
	"fmt"
	"strings"
)

// DefaultEmergencyNumber is the dispatch code returned on an emergency match.
const DefaultEmergencyNumber = "112"

var emergencyPhrases = []string{
	"heart attack",
	"stroke",
	"seizure",
	"choking",
	"difficulty breathing",
	"heavy bleeding",
}

// EmergencyDetector matches messages against a fixed list of emergency
// phrases.
type EmergencyDetector struct {
	number  string
	phrases []string
}

func NewEmergencyDetector(number string) *EmergencyDetector {
	if number == "" {
		number = DefaultEmergencyNumber
	}
	return &EmergencyDetector{number: number, phrases: emergencyPhrases}
}

// Detect returns the dispatch code and the matched phrase. ok is false when
// nothing matched. The first phrase in list order wins.
func (d *EmergencyDetector) Detect(message string) (code string, phrase string, ok bool) {
	lower := strings.ToLower(message)
	for _, p := range d.phrases {
		if strings.Contains(lower, p) {
			return d.number, p, true
		}
	}
	return "", "", false
}

type specialist struct {
	name     string
	keywords []string
}

// Order matters: "headache" belongs to both the neurologist and the general
// practitioner, and the neurologist is checked first.
var specialists = []specialist{
	{name: "cardiologist", keywords: []string{"heart attack", "chest pain", "heart failure", "high blood pressure"}},
	{name: "neurologist", keywords: []string{"stroke", "seizure", "headache", "brain injury"}},
	{name: "general practitioner", keywords: []string{"fever", "cold", "flu", "cough", "headache", "fatigue"}},
	{name: "orthopedist", keywords: []string{"bone fracture", "joint pain", "arthritis", "back pain"}},
}

const unmatchedRecommendation = "Sorry, we couldn't determine which doctor is needed based on the symptoms provided."

// Recommendation is the Specialist Router outcome. Matched is false when no
// specialist keyword was found; that is a normal result, not an error.
type Recommendation struct {
	Specialist string
	Matched    bool
}

// Message renders the recommendation as shown to the user.
func (r Recommendation) Message() string {
	if !r.Matched {
		return unmatchedRecommendation
	}
	return fmt.Sprintf("You should see a %s.", r.Specialist)
}

// RouteSpecialist picks the first specialist whose keywords occur in the
// symptom text.
func RouteSpecialist(symptoms string) Recommendation {
	lower := strings.ToLower(symptoms)
	for _, s := range specialists {
		if containsAny(lower, s.keywords...) {
			return Recommendation{Specialist: s.name, Matched: true}
		}
	}
	return Recommendation{}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
