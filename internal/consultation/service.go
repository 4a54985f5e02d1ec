package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrGeneration matches every GenerationError.
	ErrGeneration       = errors.New("generation failed")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMissingSessionID = errors.New("session id is required")
	ErrVoiceDisabled    = errors.New("voice input is not configured")
)

// GenerationError reports a failed call to the text-generation backend.
type GenerationError struct {
	Stage string // "chat" or "journey"
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// Generator is the text-generation capability. turns are the conversation so
// far, oldest first; prompt carries the instruction for this call.
type Generator interface {
	Generate(ctx context.Context, prompt string, turns []Turn) (string, error)
}

// JourneyReporter delivers a stored journey to the care team.
type JourneyReporter interface {
	SendJourneyReport(ctx context.Context, journeyID string, j Journey, st MedicalState) error
}

// Transcriber converts recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

type Service interface {
	ProcessTurn(ctx context.Context, sessionID, message string, prior []Turn) (*TurnResult, error)
	ProcessAudio(ctx context.Context, sessionID string, audio []byte, fileName string, prior []Turn) (string, *TurnResult, error)
	AddFacts(ctx context.Context, sessionID string, b FactBundle) (MedicalState, error)
	SessionState(sessionID string) (MedicalState, bool)
	ResetSession(sessionID string) bool
	CreateJourney(ctx context.Context, j Journey) (string, error)
	GetJourney(ctx context.Context, id string) (*Journey, error)
	Close()
}

// Options carries the optional collaborators and policies of a Service.
type Options struct {
	CompletenessMode     CompletenessMode
	EmergencyNumber      string
	SeedJourneyFromFacts bool
	// SessionTTL evicts sessions idle for longer than this. Zero keeps them
	// until they are reset.
	SessionTTL           time.Duration
	Reporter             JourneyReporter
	Transcriber          Transcriber
	Events               EventSink
}

type service struct {
	repo        JourneyRepository
	gen         Generator
	agg         *Aggregator
	detector    *EmergencyDetector
	synth       *Synthesizer
	reporter    JourneyReporter
	transcriber Transcriber
	events      EventSink

	reports   sync.WaitGroup
	sweeper   sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

func NewService(repo JourneyRepository, gen Generator, opts Options) Service {
	events := opts.Events
	if events == nil {
		events = NopSink
	}
	s := &service{
		repo:        repo,
		gen:         gen,
		agg:         NewAggregator(opts.CompletenessMode),
		detector:    NewEmergencyDetector(opts.EmergencyNumber),
		synth:       NewSynthesizer(gen, opts.SeedJourneyFromFacts),
		reporter:    opts.Reporter,
		transcriber: opts.Transcriber,
		events:      events,
		stop:        make(chan struct{}),
	}
	if opts.SessionTTL > 0 {
		s.sweeper.Add(1)
		go s.sweep(opts.SessionTTL)
	}
	return s
}

// sweep evicts idle sessions until the service is closed.
func (s *service) sweep(ttl time.Duration) {
	defer s.sweeper.Done()
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.agg.Evict(ttl); n > 0 {
				s.events.Record(context.Background(), Event{Kind: EventSessionsEvicted, Counts: map[string]int{"sessions": n}})
			}
		}
	}
}

// ProcessTurn runs one conversational turn. An emergency phrase short-circuits
// the turn before any generation call. Otherwise the session state is only
// changed when every step of the turn succeeds.
func (s *service) ProcessTurn(ctx context.Context, sessionID, message string, prior []Turn) (*TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s.events.Record(ctx, Event{Kind: EventTurnStarted, SessionID: sessionID})

	if code, phrase, ok := s.detector.Detect(message); ok {
		s.events.Record(ctx, Event{Kind: EventEmergencyDispatched, SessionID: sessionID, Phrase: phrase})
		return &TurnResult{
			State:     StateEmergencyDispatched,
			SessionID: sessionID,
			Dispatch:  &Dispatch{Emergency: true, EmergencyNumber: code},
		}, nil
	}

	reply := &Reply{SessionID: sessionID}
	var (
		stored  *Journey
		stState MedicalState
	)
	err := s.agg.Update(sessionID, func(st *MedicalState) error {
		start := time.Now()
		text, err := s.gen.Generate(ctx, SystemPrompt, conversation(prior, message))
		if err != nil {
			s.events.Record(ctx, Event{Kind: EventGenerationFailed, SessionID: sessionID, Duration: time.Since(start), Err: err})
			return &GenerationError{Stage: "chat", Err: err}
		}
		s.events.Record(ctx, Event{Kind: EventGenerationCompleted, SessionID: sessionID, Duration: time.Since(start)})
		reply.Response = text

		info := ParseFacts(text)
		st.Merge(info)
		st.markComplete(s.agg.Mode())
		s.events.Record(ctx, Event{Kind: EventFactsMerged, SessionID: sessionID, Counts: bundleCounts(info)})
		if !info.IsEmpty() {
			reply.MedicalInfo = &info
		}

		if st.Complete {
			j, err := s.synth.Synthesize(ctx, *st)
			if err != nil {
				s.events.Record(ctx, Event{Kind: EventGenerationFailed, SessionID: sessionID, Err: err})
				return err
			}
			s.events.Record(ctx, Event{Kind: EventJourneySynthesized, SessionID: sessionID})
			id, err := s.repo.Store(ctx, j)
			if err != nil {
				return fmt.Errorf("store journey: %w", err)
			}
			s.events.Record(ctx, Event{Kind: EventJourneyStored, SessionID: sessionID, JourneyID: id})
			reply.Journey = &j
			reply.JourneyID = id
			stored = &j
			stState = st.Clone()
		}
		reply.InformationComplete = st.Complete
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stored != nil {
		s.dispatchReport(ctx, sessionID, reply.JourneyID, *stored, stState)
	}

	reply.DoctorAssignment = RouteSpecialist(message).Message()
	return &TurnResult{State: StateTurnProcessed, SessionID: sessionID, Reply: reply}, nil
}

// ProcessAudio transcribes a recorded message and runs it as a turn. It
// returns the transcript alongside the turn result.
func (s *service) ProcessAudio(ctx context.Context, sessionID string, audio []byte, fileName string, prior []Turn) (string, *TurnResult, error) {
	if s.transcriber == nil {
		return "", nil, ErrVoiceDisabled
	}
	text, err := s.transcriber.Transcribe(ctx, audio, fileName)
	if err != nil {
		return "", nil, fmt.Errorf("transcription failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", nil, nil
	}
	res, err := s.ProcessTurn(ctx, sessionID, text, prior)
	return text, res, err
}

// AddFacts merges facts supplied directly by a client, bypassing generation.
func (s *service) AddFacts(ctx context.Context, sessionID string, b FactBundle) (MedicalState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return MedicalState{}, ErrMissingSessionID
	}
	st := s.agg.Merge(sessionID, b)
	s.events.Record(ctx, Event{Kind: EventFactsMerged, SessionID: sessionID, Counts: bundleCounts(b)})
	return st, nil
}

func (s *service) SessionState(sessionID string) (MedicalState, bool) {
	return s.agg.Snapshot(sessionID)
}

func (s *service) ResetSession(sessionID string) bool {
	return s.agg.Reset(sessionID)
}

func (s *service) CreateJourney(ctx context.Context, j Journey) (string, error) {
	j.Normalize()
	id, err := s.repo.Store(ctx, j)
	if err != nil {
		return "", err
	}
	s.events.Record(ctx, Event{Kind: EventJourneyStored, JourneyID: id})
	return id, nil
}

func (s *service) GetJourney(ctx context.Context, id string) (*Journey, error) {
	return s.repo.Fetch(ctx, id)
}

// Close stops the session sweeper and waits for in-flight care-team reports.
func (s *service) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
	s.sweeper.Wait()
	s.reports.Wait()
}

func (s *service) dispatchReport(ctx context.Context, sessionID, journeyID string, j Journey, st MedicalState) {
	if s.reporter == nil {
		return
	}
	bgCtx := context.WithoutCancel(ctx)
	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		if err := s.reporter.SendJourneyReport(bgCtx, journeyID, j, st); err != nil {
			s.events.Record(bgCtx, Event{Kind: EventReportFailed, SessionID: sessionID, JourneyID: journeyID, Err: err})
			return
		}
		s.events.Record(bgCtx, Event{Kind: EventReportSent, SessionID: sessionID, JourneyID: journeyID})
	}()
}

// conversation tags every prior message as a user turn and appends the
// current message.
func conversation(prior []Turn, message string) []Turn {
	turns := make([]Turn, 0, len(prior)+1)
	for _, t := range prior {
		turns = append(turns, Turn{Role: RoleUser, Content: t.Content})
	}
	return append(turns, Turn{Role: RoleUser, Content: message})
}
