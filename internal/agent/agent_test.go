package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treatment-journey/internal/consultation"
)

func TestGeminiRequestPromptOnly(t *testing.T) {
	contents, config := geminiRequest("build a journey", nil, 0.3)

	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 1)
	assert.Equal(t, "build a journey", contents[0].Parts[0].Text)
	assert.Nil(t, config.SystemInstruction)
	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.3, *config.Temperature, 1e-6)
}

func TestGeminiRequestConversation(t *testing.T) {
	turns := []consultation.Turn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "I take aspirin"},
	}
	contents, config := geminiRequest("system prompt", turns, 0.2)

	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "system prompt", config.SystemInstruction.Parts[0].Text)

	require.Len(t, contents, 3)
	var roles []string
	for _, c := range contents {
		roles = append(roles, c.Role)
	}
	assert.Equal(t, []string{"user", "model", "user"}, roles)
	assert.Equal(t, "I take aspirin", contents[2].Parts[0].Text)
}

func TestOpenAIMessages(t *testing.T) {
	assert.Equal(t,
		[]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "only prompt"}},
		openAIMessages("only prompt", nil))

	msgs := openAIMessages("sys", []consultation.Turn{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "tool", Content: "c"},
	})
	assert.Equal(t, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "sys"},
		{Role: openai.ChatMessageRoleUser, Content: "a"},
		{Role: openai.ChatMessageRoleAssistant, Content: "b"},
		{Role: openai.ChatMessageRoleUser, Content: "c"},
	}, msgs)
}

func TestNewGenerator(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	_, err := NewGenerator(ctx, Config{Provider: ProviderOpenAI}, log)
	assert.ErrorContains(t, err, "api key is required")

	_, err = NewGenerator(ctx, Config{Provider: "llama", APIKey: "k"}, log)
	assert.ErrorContains(t, err, "unknown llm provider")

	gen, err := NewGenerator(ctx, Config{Provider: ProviderDeepSeek, APIKey: "k"}, log)
	require.NoError(t, err)
	ds, ok := gen.(*OpenAIGenerator)
	require.True(t, ok)
	assert.Equal(t, defaultDeepSeekModel, ds.model)
}

func TestOpenAIGeneratorGenerate(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: "assistant", Content: "Medication: X Dosage: 1 Time: am"},
			}},
		})
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(Config{Provider: ProviderOpenAI, APIKey: "test-key", BaseURL: srv.URL}, zerolog.Nop())
	text, err := gen.Generate(context.Background(), "sys", []consultation.Turn{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "Medication: X Dosage: 1 Time: am", text)
	assert.Equal(t, defaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "sys", got.Messages[0].Content)
}

func TestOpenAIGeneratorEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(Config{APIKey: "k", BaseURL: srv.URL}, zerolog.Nop())
	_, err := gen.Generate(context.Background(), "p", nil)
	assert.ErrorContains(t, err, "empty response")
}

func TestWhisperTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "note.ogg", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "ogg-bytes", string(data))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"I have a headache"}`))
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber("k", "", srv.URL, zerolog.Nop())
	text, err := tr.Transcribe(context.Background(), []byte("ogg-bytes"), "note.ogg")
	require.NoError(t, err)
	assert.Equal(t, "I have a headache", text)
}
