package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"treatment-journey/internal/consultation"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiGenerator generates text with Google's Gemini API.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	log         zerolog.Logger
}

func NewGeminiGenerator(ctx context.Context, cfg Config, log zerolog.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		log:         log,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, turns []consultation.Turn) (string, error) {
	contents, config := geminiRequest(prompt, turns, g.temperature)

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		g.log.Error().Err(err).Msg("gemini request failed")
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	g.log.Debug().Dur("took", time.Since(start)).Int("turns", len(turns)).Msg("gemini response")
	return text, nil
}

// geminiRequest maps a prompt and conversation onto Gemini contents. With no
// turns the prompt is the only user content; otherwise it becomes the system
// instruction.
func geminiRequest(prompt string, turns []consultation.Turn, temperature float32) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{Temperature: genai.Ptr(temperature)}
	if len(turns) == 0 {
		return []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, config
	}

	config.SystemInstruction = genai.NewContentFromText(prompt, genai.RoleUser)
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == "assistant" || t.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	return contents, config
}
