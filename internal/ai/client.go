// Package ai wraps the OpenRouter chat-completion API behind a small
// Completer interface. Callers treat any failure uniformly as "no
// response"; usage accounting happens in the service layer.
package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"tgassist-backend/internal/models"
)

// CompletionRequest is an ordered prompt plus resolved sampling settings.
type CompletionRequest struct {
	Messages    []models.PromptMessage
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completion is the generated text plus usage metadata.
type Completion struct {
	Text       string
	TokensUsed int
}

// Completer produces a completion for an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// OpenRouterClient talks to OpenRouter, which speaks the OpenAI chat
// completion wire format.
type OpenRouterClient struct {
	client *openai.Client
}

// NewOpenRouterClient builds a client for the given API key and base URL.
func NewOpenRouterClient(apiKey, baseURL string) *OpenRouterClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenRouterClient{client: openai.NewClientWithConfig(cfg)}
}

// Complete submits the prompt and returns the generated text with token
// usage. A response without choices is an error; the caller maps every
// error to the same user-facing fallback.
func (c *OpenRouterClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion response contains no choices")
	}

	return &Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func toOpenAIMessages(prompt []models.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(prompt))
	for _, pm := range prompt {
		msg := openai.ChatCompletionMessage{Role: pm.Role}

		// Single text blocks go out as plain content; anything richer uses
		// the multimodal part encoding.
		if len(pm.Content) == 1 && pm.Content[0].Type == models.BlockTypeText {
			msg.Content = pm.Content[0].Text
			out = append(out, msg)
			continue
		}

		for _, block := range pm.Content {
			switch block.Type {
			case models.BlockTypeText:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: block.Text,
				})
			case models.BlockTypeImageURL:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: block.ImageURL},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// visionModelPrefixes lists model families known to accept image input.
var visionModelPrefixes = []string{
	"google/gemini-2.0-pro-exp-02-05",
	"google/gemini-pro-vision",
	"anthropic/claude-3",
}

// VisionFallbackModel is used for image requests when the user's selected
// model cannot process images.
const VisionFallbackModel = "google/gemini-2.0-pro-exp-02-05:free"

// SupportsImages reports whether the model family accepts image input.
func SupportsImages(model string) bool {
	for _, prefix := range visionModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
