package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"treatment-journey/internal/consultation"
)

const (
	defaultDeepSeekBaseURL = "https://api.deepseek.com"
	defaultDeepSeekModel   = "deepseek-chat"
	defaultOpenAIModel     = "gpt-4o-mini"
)

// OpenAIGenerator talks to any OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	log         zerolog.Logger
}

func NewOpenAIGenerator(cfg Config, log zerolog.Logger) *OpenAIGenerator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	model := cfg.Model
	switch cfg.Provider {
	case ProviderDeepSeek:
		clientConfig.BaseURL = defaultDeepSeekBaseURL
		if model == "" {
			model = defaultDeepSeekModel
		}
	default:
		if model == "" {
			model = defaultOpenAIModel
		}
	}
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: 120 * time.Second}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		log:         log,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, turns []consultation.Turn) (string, error) {
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    openAIMessages(prompt, turns),
		Temperature: g.temperature,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("chat completion failed")
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from LLM")
	}
	g.log.Debug().
		Dur("took", time.Since(start)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("chat completion")
	return resp.Choices[0].Message.Content, nil
}

// openAIMessages uses the same layout as the Gemini backend: the prompt is the
// system message when there is a conversation, the user message otherwise.
func openAIMessages(prompt string, turns []consultation.Turn) []openai.ChatCompletionMessage {
	if len(turns) == 0 {
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}}
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	for _, t := range turns {
		role := t.Role
		if role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}
