package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgassist-backend/internal/config"
	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultModel:       "google/gemini-2.0-pro-exp-02-05:free",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1000,
		DefaultMode:        "friendly",
		DefaultLanguage:    "ru",
	}
}

func TestUpsertUser(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	t.Run("new user gets default settings", func(t *testing.T) {
		require.NoError(t, st.UpsertUser(ctx, 100, "alice", "Alice", ""))

		user, err := st.GetUser(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "google/gemini-2.0-pro-exp-02-05:free", user.Settings.Model)
		assert.Equal(t, 0.7, user.Settings.Temperature)
		assert.Equal(t, 1000, user.Settings.MaxTokens)
		assert.Equal(t, "friendly", user.Settings.ConversationMode)
		assert.Equal(t, "ru", user.Settings.Language)
	})

	t.Run("repeat upsert preserves settings", func(t *testing.T) {
		temp := 0.2
		require.NoError(t, st.UpdateUserSettings(ctx, 100, store.SettingsPatch{Temperature: &temp}))

		require.NoError(t, st.UpsertUser(ctx, 100, "alice2", "Alice", "A"))

		user, err := st.GetUser(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, "alice2", user.Username, "display fields refresh")
		assert.Equal(t, 0.2, user.Settings.Temperature, "settings survive the upsert")
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := st.GetUser(ctx, 999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestUpdateUserSettings(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())
	require.NoError(t, st.UpsertUser(ctx, 1, "u", "U", ""))

	model := "anthropic/claude-3-haiku:free"
	require.NoError(t, st.UpdateUserSettings(ctx, 1, store.SettingsPatch{Model: &model}))

	lang := "en"
	require.NoError(t, st.UpdateUserSettings(ctx, 1, store.SettingsPatch{Language: &lang}))

	user, err := st.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model, user.Settings.Model, "earlier patch keys survive later patches")
	assert.Equal(t, "en", user.Settings.Language)
	assert.Equal(t, 0.7, user.Settings.Temperature, "untouched keys keep defaults")

	assert.ErrorIs(t, st.UpdateUserSettings(ctx, 42, store.SettingsPatch{Model: &model}), store.ErrNotFound)
}

func appendText(t *testing.T, st *MemoryStore, userID int64, role, content string) {
	t.Helper()
	_, err := st.AppendMessage(context.Background(), store.AppendMessageParams{
		UserID:  userID,
		Role:    role,
		Content: content,
		Type:    models.MessageTypeText,
	})
	require.NoError(t, err)
}

func TestGetRecentMessages(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	t.Run("chronological order", func(t *testing.T) {
		appendText(t, st, 1, models.RoleUser, "first")
		appendText(t, st, 1, models.RoleAssistant, "second")
		appendText(t, st, 1, models.RoleUser, "third")

		history, err := st.GetRecentMessages(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "first", history[0].Content[0].Text)
		assert.Equal(t, models.RoleAssistant, history[1].Role)
		assert.Equal(t, "third", history[2].Content[0].Text)
	})

	t.Run("window keeps the newest rows", func(t *testing.T) {
		history, err := st.GetRecentMessages(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "second", history[0].Content[0].Text)
		assert.Equal(t, "third", history[1].Content[0].Text)
	})

	t.Run("other users are invisible", func(t *testing.T) {
		appendText(t, st, 2, models.RoleUser, "elsewhere")

		history, err := st.GetRecentMessages(ctx, 1, 10)
		require.NoError(t, err)
		assert.Len(t, history, 3)
	})

	t.Run("unknown role is skipped", func(t *testing.T) {
		appendText(t, st, 3, "tool", "ignored")
		appendText(t, st, 3, models.RoleUser, "kept")

		history, err := st.GetRecentMessages(ctx, 3, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "kept", history[0].Content[0].Text)
	})
}

func TestGetRecentMessagesExpandsImages(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	_, err := st.AddAttachment(ctx, store.AddAttachmentParams{
		UserID:        1,
		FileID:        "file-1",
		FileUniqueID:  "uniq-1",
		FilePath:      "/tmp/photo.jpg",
		MediaType:     "image",
		ProcessedText: "/tmp/photo.jpg",
	})
	require.NoError(t, err)

	attachmentID := "uniq-1"
	_, err = st.AppendMessage(ctx, store.AppendMessageParams{
		UserID:       1,
		Role:         models.RoleUser,
		Content:      "",
		Type:         models.MessageTypeImage,
		AttachmentID: &attachmentID,
	})
	require.NoError(t, err)

	// Image message without any stored attachment contributes nothing.
	missing := "uniq-missing"
	_, err = st.AppendMessage(ctx, store.AppendMessageParams{
		UserID:       1,
		Role:         models.RoleUser,
		Content:      "lost",
		Type:         models.MessageTypeImage,
		AttachmentID: &missing,
	})
	require.NoError(t, err)

	history, err := st.GetRecentMessages(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	blocks := history[0].Content
	require.Len(t, blocks, 2)
	assert.Equal(t, models.BlockTypeText, blocks[0].Type)
	assert.Equal(t, "Что на этом изображении?", blocks[0].Text, "empty caption falls back")
	assert.Equal(t, models.BlockTypeImageURL, blocks[1].Type)
	assert.Equal(t, "file:///tmp/photo.jpg", blocks[1].ImageURL)
}

func TestClearHistory(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	appendText(t, st, 1, models.RoleUser, "mine")
	appendText(t, st, 2, models.RoleUser, "theirs")

	require.NoError(t, st.ClearHistory(ctx, 1))

	history, err := st.GetRecentMessages(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	other, err := st.GetRecentMessages(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, other, 1, "clearing one user leaves others untouched")
}

func TestExportHistory(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	appendText(t, st, 1, models.RoleUser, "привет")
	appendText(t, st, 1, models.RoleAssistant, "здравствуйте")

	t.Run("text", func(t *testing.T) {
		dump, err := st.ExportHistory(ctx, 1, store.ExportFormatText)
		require.NoError(t, err)
		assert.Contains(t, dump, "Вы: привет")
		assert.Contains(t, dump, "Бот: здравствуйте")
		assert.Equal(t, 2, len(strings.Split(dump, "\n\n")))
	})

	t.Run("json", func(t *testing.T) {
		dump, err := st.ExportHistory(ctx, 1, store.ExportFormatJSON)
		require.NoError(t, err)

		var entries []map[string]any
		require.NoError(t, json.Unmarshal([]byte(dump), &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, "user", entries[0]["role"])
		assert.Equal(t, "привет", entries[0]["content"])
		assert.Equal(t, "assistant", entries[1]["role"])
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := st.ExportHistory(ctx, 1, "csv")
		assert.ErrorIs(t, err, store.ErrUnsupportedFormat)
	})

	t.Run("empty history is empty in both formats", func(t *testing.T) {
		for _, format := range []store.ExportFormat{store.ExportFormatText, store.ExportFormatJSON} {
			dump, err := st.ExportHistory(ctx, 99, format)
			require.NoError(t, err)
			assert.Empty(t, dump)
		}
	})
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	appendText(t, st, 1, models.RoleUser, "q")
	appendText(t, st, 1, models.RoleAssistant, "a")
	require.NoError(t, st.RecordUsage(ctx, 1, "model-a", 120, models.RequestTypeChat))
	require.NoError(t, st.RecordUsage(ctx, 1, "model-a", 80, models.RequestTypeChat))
	require.NoError(t, st.RecordUsage(ctx, 1, "model-b", 50, models.RequestTypeImage))
	require.NoError(t, st.RecordUsage(ctx, 2, "model-a", 999, models.RequestTypeChat))

	stats, err := st.GetUserStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 200, stats.TokensByModel["model-a"])
	assert.Equal(t, 50, stats.TokensByModel["model-b"])
	assert.Equal(t, 2, stats.RequestsByType[models.RequestTypeChat])
	assert.Equal(t, 1, stats.RequestsByType[models.RequestTypeImage])
}

func TestDeferredMessages(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	id1, err := st.AddDeferredMessage(ctx, 1, "past", 1000)
	require.NoError(t, err)
	id2, err := st.AddDeferredMessage(ctx, 1, "exactly now", 2000)
	require.NoError(t, err)
	_, err = st.AddDeferredMessage(ctx, 1, "future", 3000)
	require.NoError(t, err)

	t.Run("due predicate includes the boundary", func(t *testing.T) {
		due, err := st.GetDueDeferredMessages(ctx, 2000)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, id1, due[0].ID)
		assert.Equal(t, id2, due[1].ID)
	})

	t.Run("marked messages stop being due", func(t *testing.T) {
		require.NoError(t, st.MarkDeferredMessageSent(ctx, id1))

		due, err := st.GetDueDeferredMessages(ctx, 2000)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, id2, due[0].ID)
	})

	t.Run("marking twice is harmless", func(t *testing.T) {
		require.NoError(t, st.MarkDeferredMessageSent(ctx, id1))
	})

	t.Run("marking a missing id fails", func(t *testing.T) {
		assert.ErrorIs(t, st.MarkDeferredMessageSent(ctx, 404), store.ErrNotFound)
	})

	t.Run("listing includes sent rows", func(t *testing.T) {
		msgs, err := st.ListDeferredMessages(ctx, 1)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.True(t, msgs[0].Sent)
		assert.Equal(t, "future", msgs[2].Content, "ordered by scheduled time")
	})
}

func TestGetAttachment(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(testConfig())

	_, err := st.AddAttachment(ctx, store.AddAttachmentParams{
		UserID:       1,
		FileID:       "f",
		FileUniqueID: "uq",
		FilePath:     "/tmp/f.jpg",
		MediaType:    "image",
	})
	require.NoError(t, err)

	att, err := st.GetAttachment(ctx, "uq")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/f.jpg", att.FilePath)

	_, err = st.GetAttachment(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
