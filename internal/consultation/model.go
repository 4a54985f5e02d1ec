package consultation

// Medication is a single medication fact. Two medications are the same fact
// only when every field matches exactly; no normalization is applied.
type Medication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Timing string `json:"timing"`
}

type Appointment struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Description string `json:"description"`
}

type Treatment struct {
	Name      string `json:"name"`
	Procedure string `json:"procedure"`
}

// FactBundle is the result of one extraction pass over a block of text.
type FactBundle struct {
	Medications  []Medication  `json:"medications"`
	Appointments []Appointment `json:"appointments"`
	Treatments   []Treatment   `json:"treatments"`
}

// IsEmpty reports whether the bundle carries no facts at all.
func (b FactBundle) IsEmpty() bool {
	return len(b.Medications) == 0 && len(b.Appointments) == 0 && len(b.Treatments) == 0
}

// MedicalState is the accumulated, deduplicated fact history of a session.
type MedicalState struct {
	Medications  []Medication  `json:"medications"`
	Appointments []Appointment `json:"appointments"`
	Treatments   []Treatment   `json:"treatments"`
	Complete     bool          `json:"complete"`
}

// Clone returns a deep copy so a turn can stage changes before committing.
// Empty categories come back as empty, non-nil slices so they encode as [].
func (s MedicalState) Clone() MedicalState {
	return MedicalState{
		Medications:  cloneSlice(s.Medications),
		Appointments: cloneSlice(s.Appointments),
		Treatments:   cloneSlice(s.Treatments),
		Complete:     s.Complete,
	}
}

func cloneSlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const RoleUser = "user"

type ScheduleEntry struct {
	Time         string `json:"time"`
	Medication   string `json:"medication"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
}

type Milestone struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Datetime    string `json:"datetime"`
}

type Reminder struct {
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// Journey is the structured treatment journey derived from a complete state.
// All four sequences are always non-nil so they encode as JSON arrays.
type Journey struct {
	Title         string          `json:"title,omitempty"`
	DailySchedule []ScheduleEntry `json:"daily_schedule"`
	Milestones    []Milestone     `json:"milestones"`
	Reminders     []Reminder      `json:"reminders"`
	Appointments  []Appointment   `json:"appointments"`
}

// NewJourney returns a journey skeleton with empty sequences.
func NewJourney() Journey {
	return Journey{
		DailySchedule: []ScheduleEntry{},
		Milestones:    []Milestone{},
		Reminders:     []Reminder{},
		Appointments:  []Appointment{},
	}
}

// Normalize replaces nil sequences so stored and decoded journeys keep the
// same shape as synthesized ones.
func (j *Journey) Normalize() {
	if j.DailySchedule == nil {
		j.DailySchedule = []ScheduleEntry{}
	}
	if j.Milestones == nil {
		j.Milestones = []Milestone{}
	}
	if j.Reminders == nil {
		j.Reminders = []Reminder{}
	}
	if j.Appointments == nil {
		j.Appointments = []Appointment{}
	}
}

// Dispatch is returned instead of a normal reply when an emergency phrase is
// detected.
type Dispatch struct {
	Emergency       bool   `json:"emergency"`
	EmergencyNumber string `json:"emergency_number"`
}

// Reply is the payload of a processed turn. MedicalInfo and Journey are only
// present when non-empty.
type Reply struct {
	SessionID           string      `json:"session_id"`
	Response            string      `json:"response"`
	DoctorAssignment    string      `json:"doctor_assignment"`
	MedicalInfo         *FactBundle `json:"medical_info,omitempty"`
	InformationComplete bool        `json:"information_complete"`
	Journey             *Journey    `json:"journey,omitempty"`
	JourneyID           string      `json:"journey_id,omitempty"`
}

// TurnState is where a turn ended up.
type TurnState string

const (
	StateAwaitingTurn        TurnState = "awaiting_turn"
	StateEmergencyDispatched TurnState = "emergency_dispatched"
	StateTurnProcessed       TurnState = "turn_processed"
)

// TurnResult carries exactly one of Dispatch or Reply depending on State.
type TurnResult struct {
	State     TurnState
	SessionID string
	Dispatch  *Dispatch
	Reply     *Reply
}

// Payload returns the value the transport layer should encode.
func (r *TurnResult) Payload() any {
	if r.Dispatch != nil {
		return r.Dispatch
	}
	return r.Reply
}
