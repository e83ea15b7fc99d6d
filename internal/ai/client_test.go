package ai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgassist-backend/internal/models"
)

func TestToOpenAIMessages(t *testing.T) {
	t.Run("single text block uses plain content", func(t *testing.T) {
		out := toOpenAIMessages([]models.PromptMessage{
			models.TextPrompt(models.RoleSystem, "Ты ассистент."),
			models.TextPrompt(models.RoleUser, "привет"),
		})

		require.Len(t, out, 2)
		assert.Equal(t, "system", out[0].Role)
		assert.Equal(t, "Ты ассистент.", out[0].Content)
		assert.Empty(t, out[0].MultiContent)
		assert.Equal(t, "привет", out[1].Content)
	})

	t.Run("image blocks use multipart encoding", func(t *testing.T) {
		out := toOpenAIMessages([]models.PromptMessage{{
			Role: models.RoleUser,
			Content: []models.ContentBlock{
				{Type: models.BlockTypeText, Text: "Что на этом изображении?"},
				{Type: models.BlockTypeImageURL, ImageURL: "file:///tmp/photo.jpg"},
			},
		}})

		require.Len(t, out, 1)
		assert.Empty(t, out[0].Content)
		require.Len(t, out[0].MultiContent, 2)
		assert.Equal(t, openai.ChatMessagePartTypeText, out[0].MultiContent[0].Type)
		assert.Equal(t, "Что на этом изображении?", out[0].MultiContent[0].Text)
		assert.Equal(t, openai.ChatMessagePartTypeImageURL, out[0].MultiContent[1].Type)
		require.NotNil(t, out[0].MultiContent[1].ImageURL)
		assert.Equal(t, "file:///tmp/photo.jpg", out[0].MultiContent[1].ImageURL.URL)
	})
}

func TestSupportsImages(t *testing.T) {
	assert.True(t, SupportsImages("google/gemini-2.0-pro-exp-02-05:free"))
	assert.True(t, SupportsImages("anthropic/claude-3-haiku:free"))
	assert.False(t, SupportsImages("mistralai/mistral-large:free"))
	assert.False(t, SupportsImages(""))
}
