package agent

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// WhisperTranscriber transcribes recorded messages with the OpenAI audio API.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

func NewWhisperTranscriber(apiKey, model, baseURL string, log zerolog.Logger) *WhisperTranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log.With().Str("component", "stt").Logger(),
	}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	if fileName == "" {
		fileName = "audio.wav"
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: fileName,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("STT API error: %w", err)
	}
	t.log.Debug().Int("bytes", len(audio)).Int("chars", len(resp.Text)).Msg("transcribed audio")
	return resp.Text, nil
}
