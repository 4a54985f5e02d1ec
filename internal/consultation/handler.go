package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// JourneyRenderer produces a printable document for a journey.
type JourneyRenderer interface {
	RenderJourneyPDF(journeyID string, j Journey) ([]byte, error)
}

type Handler struct {
	svc         Service
	renderer    JourneyRenderer
	turnTimeout time.Duration
	log         zerolog.Logger
}

func NewHandler(svc Service, renderer JourneyRenderer, turnTimeout time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		svc:         svc,
		renderer:    renderer,
		turnTimeout: turnTimeout,
		log:         log.With().Str("component", "handler").Logger(),
	}
}

type ChatMessage struct {
	Content string `json:"content"`
}

// ChatRequest carries the whole visible conversation; the last message is the
// one being answered and the ones before it are prior turns.
type ChatRequest struct {
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}

func (r ChatRequest) split() (string, []Turn) {
	if len(r.Messages) == 0 {
		return "", nil
	}
	last := len(r.Messages) - 1
	prior := make([]Turn, 0, last)
	for _, m := range r.Messages[:last] {
		prior = append(prior, Turn{Role: RoleUser, Content: m.Content})
	}
	return r.Messages[last].Content, prior
}

const sessionHeader = "X-Session-ID"

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Medical Treatment Journey API"})
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	message, prior := req.split()

	ctx, cancel := h.turnContext(r.Context())
	defer cancel()

	res, err := h.svc.ProcessTurn(ctx, req.SessionID, message, prior)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set(sessionHeader, res.SessionID)
	writeJSON(w, http.StatusOK, res.Payload())
}

func (h *Handler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error retrieving audio file")
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read audio file")
		return
	}

	var prior []Turn
	if raw := r.FormValue("context"); raw != "" {
		var msgs []ChatMessage
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid context")
			return
		}
		for _, m := range msgs {
			prior = append(prior, Turn{Role: RoleUser, Content: m.Content})
		}
	}

	ctx, cancel := h.turnContext(r.Context())
	defer cancel()

	text, res, err := h.svc.ProcessAudio(ctx, r.FormValue("session_id"), buf.Bytes(), header.Filename, prior)
	if err != nil {
		h.fail(w, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]any{"text": "", "result": nil})
		return
	}
	w.Header().Set(sessionHeader, res.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "result": res.Payload()})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	st, ok := h.svc.SessionState(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.svc.ResetSession(chi.URLParam(r, "sessionID")) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddFacts(w http.ResponseWriter, r *http.Request) {
	var b FactBundle
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	st, err := h.svc.AddFacts(r.Context(), chi.URLParam(r, "sessionID"), b)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) CreateJourney(w http.ResponseWriter, r *http.Request) {
	var j Journey
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, err := h.svc.CreateJourney(r.Context(), j)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"journey_id": id,
		"message":    "Journey created successfully",
	})
}

func (h *Handler) GetJourney(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.GetJourney(r.Context(), chi.URLParam(r, "journeyID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handler) GetJourneyPDF(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		writeError(w, http.StatusNotImplemented, "PDF export is not configured")
		return
	}
	id := chi.URLParam(r, "journeyID")
	j, err := h.svc.GetJourney(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := h.renderer.RenderJourneyPDF(id, *j)
	if err != nil {
		h.log.Error().Err(err).Str("journey_id", id).Msg("render journey pdf")
		writeError(w, http.StatusInternalServerError, "Failed to render journey")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="journey_`+id+`.pdf"`)
	w.Write(data)
}

// turnContext bounds a turn by the configured timeout. The core imposes no
// deadline of its own.
func (h *Handler) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.turnTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, h.turnTimeout)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMissingSessionID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrJourneyNotFound):
		writeError(w, http.StatusNotFound, "Journey not found")
	case errors.Is(err, ErrVoiceDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, ErrGeneration):
		h.log.Error().Err(err).Msg("generation failed")
		writeError(w, http.StatusBadGateway, "Error processing chat: "+err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/", h.Root)
	r.Route("/chatbot", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/audio", h.HandleAudio)
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Delete("/sessions/{sessionID}", h.DeleteSession)
		r.Post("/sessions/{sessionID}/facts", h.AddFacts)
	})
	r.Route("/journey", func(r chi.Router) {
		r.Post("/create", h.CreateJourney)
		r.Get("/{journeyID}", h.GetJourney)
		r.Get("/{journeyID}/pdf", h.GetJourneyPDF)
	})
}
