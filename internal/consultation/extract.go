package consultation

import (
	"regexp"
	"strings"
)

var (
	medicationPattern = regexp.MustCompile(`Medication: (.*?) Dosage: (.*?) Time: (.*?)(?:\n|$)`)
	treatmentPattern  = regexp.MustCompile(`Treatment: (.*?) Procedure: (.*?)(?:\n|$)`)
)

// ParseFacts extracts facts from generated text that follows the labelled
// template. A category is only attempted when its gating word appears in the
// text. Appointments are never produced here; they arrive through direct fact
// input only.
func ParseFacts(text string) FactBundle {
	var b FactBundle
	lower := strings.ToLower(text)

	if strings.Contains(lower, "medication") {
		for _, m := range medicationPattern.FindAllStringSubmatch(text, -1) {
			b.Medications = append(b.Medications, Medication{Name: m[1], Dosage: m[2], Timing: m[3]})
		}
	}
	if strings.Contains(lower, "treatment") {
		for _, m := range treatmentPattern.FindAllStringSubmatch(text, -1) {
			b.Treatments = append(b.Treatments, Treatment{Name: m[1], Procedure: m[2]})
		}
	}
	return b
}
