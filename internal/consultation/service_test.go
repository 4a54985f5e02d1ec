package consultation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, turns []Turn) (string, error) {
	args := m.Called(ctx, prompt, turns)
	return args.String(0), args.Error(1)
}

type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) SendJourneyReport(ctx context.Context, journeyID string, j Journey, st MedicalState) error {
	args := m.Called(ctx, journeyID, j, st)
	return args.Error(0)
}

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	args := m.Called(ctx, audio, fileName)
	return args.String(0), args.Error(1)
}

// recordingSink keeps every event for later assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

var isJourneyPrompt = mock.MatchedBy(func(p string) bool {
	return strings.HasPrefix(p, "Create a treatment journey")
})

const paracetamolReply = "Take it regularly.\nMedication: Paracetamol Dosage: 500mg Time: 8am"

func TestProcessTurnBuildsJourney(t *testing.T) {
	ctx := context.Background()
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, []Turn{{Role: RoleUser, Content: "I have a fever"}}).
		Return(paracetamolReply, nil).Once()
	gen.On("Generate", mock.Anything, isJourneyPrompt, []Turn(nil)).Return("narrative", nil).Once()

	sink := &recordingSink{}
	svc := NewService(NewMemoryRepository(), gen, Options{Events: sink})
	defer svc.Close()

	res, err := svc.ProcessTurn(ctx, "s1", "I have a fever", nil)
	require.NoError(t, err)

	assert.Equal(t, StateTurnProcessed, res.State)
	assert.Nil(t, res.Dispatch)
	require.NotNil(t, res.Reply)

	r := res.Reply
	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, paracetamolReply, r.Response)
	assert.Equal(t, "You should see a general practitioner.", r.DoctorAssignment)
	require.NotNil(t, r.MedicalInfo)
	assert.Equal(t, []Medication{{Name: "Paracetamol", Dosage: "500mg", Timing: "8am"}}, r.MedicalInfo.Medications)
	assert.True(t, r.InformationComplete)
	require.NotNil(t, r.Journey)
	assert.Equal(t, "1", r.JourneyID)

	stored, err := svc.GetJourney(ctx, r.JourneyID)
	require.NoError(t, err)
	assert.Equal(t, *r.Journey, *stored)

	assert.Equal(t, []EventKind{
		EventTurnStarted,
		EventGenerationCompleted,
		EventFactsMerged,
		EventJourneySynthesized,
		EventJourneyStored,
	}, sink.kinds())
	gen.AssertExpectations(t)
}

func TestProcessTurnEmergencySkipsGeneration(t *testing.T) {
	gen := new(MockGenerator)
	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	res, err := svc.ProcessTurn(context.Background(), "s1", "my father has difficulty breathing", nil)
	require.NoError(t, err)

	assert.Equal(t, StateEmergencyDispatched, res.State)
	assert.Nil(t, res.Reply)
	assert.Equal(t, &Dispatch{Emergency: true, EmergencyNumber: "112"}, res.Payload())
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)

	_, ok := svc.SessionState("s1")
	assert.False(t, ok)
}

func TestProcessTurnWithoutFacts(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return("Rest and drink water.", nil).Once()

	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	res, err := svc.ProcessTurn(context.Background(), "s1", "I have a sore toe", nil)
	require.NoError(t, err)

	r := res.Reply
	assert.Nil(t, r.MedicalInfo)
	assert.Nil(t, r.Journey)
	assert.Empty(t, r.JourneyID)
	assert.False(t, r.InformationComplete)
	assert.Equal(t, unmatchedRecommendation, r.DoctorAssignment)
	gen.AssertExpectations(t)
}

func TestProcessTurnParsesGeneratedTextOnly(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return("Please tell me more.", nil)

	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	res, err := svc.ProcessTurn(context.Background(), "s1", "Medication: Aspirin Dosage: 75mg Time: morning", nil)
	require.NoError(t, err)
	assert.Nil(t, res.Reply.MedicalInfo)
	assert.False(t, res.Reply.InformationComplete)
}

func TestProcessTurnGenerationFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return("", errors.New("upstream unavailable")).Once()

	svc := NewService(NewMemoryRepository(), gen, Options{CompletenessMode: CompletenessAll})
	defer svc.Close()

	_, err := svc.AddFacts(ctx, "s1", FactBundle{Medications: []Medication{medA}})
	require.NoError(t, err)
	before, _ := svc.SessionState("s1")

	_, err = svc.ProcessTurn(ctx, "s1", "what should I take next?", nil)
	require.ErrorIs(t, err, ErrGeneration)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "chat", genErr.Stage)

	after, _ := svc.SessionState("s1")
	assert.Equal(t, before, after)
}

func TestProcessTurnJourneyFailureRollsBack(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return(paracetamolReply, nil).Once()
	gen.On("Generate", mock.Anything, isJourneyPrompt, mock.Anything).Return("", errors.New("timeout")).Once()

	repo := NewMemoryRepository()
	svc := NewService(repo, gen, Options{})
	defer svc.Close()

	_, err := svc.ProcessTurn(context.Background(), "s1", "fever", nil)
	require.ErrorIs(t, err, ErrGeneration)

	_, ok := svc.SessionState("s1")
	assert.False(t, ok)

	_, err = repo.Fetch(context.Background(), "1")
	assert.ErrorIs(t, err, ErrJourneyNotFound)
}

func TestProcessTurnPriorTurnsAreUserTurns(t *testing.T) {
	gen := new(MockGenerator)
	want := []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleUser, Content: "the assistant said this"},
		{Role: RoleUser, Content: "and now?"},
	}
	gen.On("Generate", mock.Anything, SystemPrompt, want).Return("ok", nil).Once()

	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	prior := []Turn{{Role: "user", Content: "hello"}, {Role: "assistant", Content: "the assistant said this"}}
	_, err := svc.ProcessTurn(context.Background(), "s1", "and now?", prior)
	require.NoError(t, err)
	gen.AssertExpectations(t)
}

func TestProcessTurnAssignsSessionID(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)

	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	res, err := svc.ProcessTurn(context.Background(), "", "hello", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, res.SessionID, res.Reply.SessionID)
}

func TestProcessTurnEmptyMessage(t *testing.T) {
	svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{})
	defer svc.Close()

	_, err := svc.ProcessTurn(context.Background(), "s1", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestProcessTurnCompleteSessionRebuildsJourneyEachTurn(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return(paracetamolReply, nil).Once()
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return("You are welcome.", nil).Once()
	gen.On("Generate", mock.Anything, isJourneyPrompt, mock.Anything).Return("narrative", nil).Twice()

	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	first, err := svc.ProcessTurn(context.Background(), "s1", "fever", nil)
	require.NoError(t, err)
	second, err := svc.ProcessTurn(context.Background(), "s1", "thanks", nil)
	require.NoError(t, err)

	assert.Nil(t, second.Reply.MedicalInfo)
	assert.True(t, second.Reply.InformationComplete)
	assert.NotEqual(t, first.Reply.JourneyID, second.Reply.JourneyID)
	gen.AssertExpectations(t)
}

func TestProcessTurnDispatchesReport(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return(paracetamolReply, nil)
	gen.On("Generate", mock.Anything, isJourneyPrompt, mock.Anything).Return("narrative", nil)

	reporter := new(MockReporter)
	reporter.On("SendJourneyReport", mock.Anything, "1", mock.Anything, mock.MatchedBy(func(st MedicalState) bool {
		return st.Complete && len(st.Medications) == 1
	})).Return(errors.New("telegram down")).Once()

	sink := &recordingSink{}
	svc := NewService(NewMemoryRepository(), gen, Options{Reporter: reporter, Events: sink})

	res, err := svc.ProcessTurn(context.Background(), "s1", "fever", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Reply.JourneyID)

	svc.Close()
	reporter.AssertExpectations(t)
	assert.Contains(t, sink.kinds(), EventReportFailed)
}

func TestAddFactsCompletesSession(t *testing.T) {
	svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{})
	defer svc.Close()

	appt := Appointment{Date: "2024-11-07", Time: "10:00", Description: "follow-up"}
	st, err := svc.AddFacts(context.Background(), "s1", FactBundle{Appointments: []Appointment{appt, appt}})
	require.NoError(t, err)
	assert.Equal(t, []Appointment{appt}, st.Appointments)
	assert.True(t, st.Complete)

	assert.True(t, svc.ResetSession("s1"))
	_, ok := svc.SessionState("s1")
	assert.False(t, ok)
}

func TestCreateAndGetJourney(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{})
	defer svc.Close()

	id, err := svc.CreateJourney(ctx, Journey{Title: "Malaria course"})
	require.NoError(t, err)

	j, err := svc.GetJourney(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Malaria course", j.Title)
	assert.NotNil(t, j.Milestones)

	_, err = svc.GetJourney(ctx, "missing")
	assert.ErrorIs(t, err, ErrJourneyNotFound)
}

func TestProcessAudio(t *testing.T) {
	ctx := context.Background()
	audio := []byte("RIFF....WAVE")

	t.Run("disabled", func(t *testing.T) {
		svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{})
		defer svc.Close()

		_, _, err := svc.ProcessAudio(ctx, "s1", audio, "a.wav", nil)
		assert.ErrorIs(t, err, ErrVoiceDisabled)
	})

	t.Run("transcript becomes a turn", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, audio, "a.wav").Return("I had a heart attack", nil)

		svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{Transcriber: tr})
		defer svc.Close()

		text, res, err := svc.ProcessAudio(ctx, "s1", audio, "a.wav", nil)
		require.NoError(t, err)
		assert.Equal(t, "I had a heart attack", text)
		assert.Equal(t, StateEmergencyDispatched, res.State)
	})

	t.Run("silence", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, audio, "a.wav").Return("  ", nil)

		svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{Transcriber: tr})
		defer svc.Close()

		text, res, err := svc.ProcessAudio(ctx, "s1", audio, "a.wav", nil)
		require.NoError(t, err)
		assert.Empty(t, text)
		assert.Nil(t, res)
	})

	t.Run("transcription error", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, audio, "a.wav").Return("", errors.New("bad format"))

		svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{Transcriber: tr})
		defer svc.Close()

		_, _, err := svc.ProcessAudio(ctx, "s1", audio, "a.wav", nil)
		assert.ErrorContains(t, err, "bad format")
	})
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return("Medication: X Dosage: 1 Time: am", nil)
	gen.On("Generate", mock.Anything, isJourneyPrompt, mock.Anything).Return("narrative", nil)

	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.ProcessTurn(context.Background(), id, "fever", nil)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d"} {
		st, ok := svc.SessionState(id)
		require.True(t, ok)
		assert.Equal(t, []Medication{{Name: "X", Dosage: "1", Timing: "am"}}, st.Medications)
	}
}

func TestProcessTurnFailedFirstTurnCreatesNoSession(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, SystemPrompt, mock.Anything).Return("", errors.New("down")).Once()

	svc := NewService(NewMemoryRepository(), gen, Options{})
	defer svc.Close()

	_, ok := svc.SessionState("new")
	require.False(t, ok)

	_, err := svc.ProcessTurn(context.Background(), "new", "hello", nil)
	require.ErrorIs(t, err, ErrGeneration)

	_, ok = svc.SessionState("new")
	assert.False(t, ok)
	assert.False(t, svc.ResetSession("new"))
}

func TestAddFactsRequiresSessionID(t *testing.T) {
	svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{})
	defer svc.Close()

	_, err := svc.AddFacts(context.Background(), "", FactBundle{Medications: []Medication{medA}})
	require.ErrorIs(t, err, ErrMissingSessionID)

	_, ok := svc.SessionState("")
	assert.False(t, ok)
}

func TestCloseStopsSessionSweeper(t *testing.T) {
	svc := NewService(NewMemoryRepository(), new(MockGenerator), Options{SessionTTL: time.Hour})

	_, err := svc.AddFacts(context.Background(), "s1", FactBundle{Medications: []Medication{medA}})
	require.NoError(t, err)

	svc.Close()
	svc.Close()

	_, ok := svc.SessionState("s1")
	assert.True(t, ok)
}
