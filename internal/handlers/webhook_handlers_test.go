package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgassist-backend/internal/ai"
	"tgassist-backend/internal/config"
	"tgassist-backend/internal/models"
	"tgassist-backend/internal/services"
	"tgassist-backend/internal/store/memory"
)

type fakeSender struct {
	mu        sync.Mutex
	messages  []string
	chats     []int64
	documents []string
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	f.chats = append(f.chats, chatID)
	return nil
}

func (f *fakeSender) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	return f.SendMessage(ctx, chatID, text)
}

func (f *fakeSender) SendDocument(_ context.Context, _ int64, filename, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, filename)
	return nil
}

func (f *fakeSender) SendTyping(_ context.Context, _ int64) error { return nil }

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func (f *fakeSender) last() string {
	msgs := f.sent()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type fakeCompleter struct {
	text string
}

func (f *fakeCompleter) Complete(_ context.Context, _ ai.CompletionRequest) (*ai.Completion, error) {
	return &ai.Completion{Text: f.text, TokensUsed: 10}, nil
}

type fakeFiles struct {
	downloads int
}

func (f *fakeFiles) Download(_ context.Context, _, fileUniqueID string) (string, error) {
	f.downloads++
	return "/tmp/" + fileUniqueID + ".jpg", nil
}

func webhookConfig() *config.Config {
	return &config.Config{
		DefaultModel:       "google/gemini-2.0-pro-exp-02-05:free",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1000,
		DefaultMode:        "friendly",
		DefaultLanguage:    "ru",
		HistoryLimit:       10,
		SummaryLimit:       20,
		ConversationModes: map[string]config.ConversationMode{
			"friendly": {
				Description:  "Дружелюбный режим для неформального общения",
				SystemPrompt: "Ты дружелюбный ассистент.",
				Temperature:  0.8,
			},
		},
		Templates: map[string]string{
			"explain": "Объясни простыми словами: {text}",
		},
	}
}

func newTestWebhook(t *testing.T) (*WebhookHandlers, *memory.MemoryStore, *fakeSender, *fakeFiles) {
	t.Helper()
	cfg := webhookConfig()
	st := memory.NewMemoryStore(cfg)
	sender := &fakeSender{}
	files := &fakeFiles{}
	cs := services.NewChatService(st, &fakeCompleter{text: "Ответ бота"}, sender, cfg)
	return NewWebhookHandlers(cs, sender, files, cfg), st, sender, files
}

func postUpdate(t *testing.T, h *WebhookHandlers, update models.TelegramUpdate) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(update)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleTelegramUpdate(rec, req)
	return rec
}

func textUpdate(userID int64, text string) models.TelegramUpdate {
	return models.TelegramUpdate{
		UpdateID: 1,
		Message: &models.TelegramMessage{
			From: &models.TelegramUser{ID: userID, FirstName: "Иван", Username: "ivan"},
			Chat: models.TelegramChat{ID: userID, Type: "private"},
			Text: text,
		},
	}
}

func TestHandleTelegramUpdate_InvalidJSON(t *testing.T) {
	h, _, _, _ := newTestWebhook(t)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.HandleTelegramUpdate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTelegramUpdate_Text(t *testing.T) {
	h, st, sender, _ := newTestWebhook(t)

	rec := postUpdate(t, h, textUpdate(1, "Привет, бот"))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "Ответ бота", sender.last())

	history, err := st.GetRecentMessages(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHandleTelegramUpdate_Start(t *testing.T) {
	h, st, sender, _ := newTestWebhook(t)

	postUpdate(t, h, textUpdate(1, "/start"))

	assert.Contains(t, sender.last(), "👋 Привет, Иван!")

	// /start registers the user.
	user, err := st.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ivan", user.Username)
}

func TestHandleTelegramUpdate_Help(t *testing.T) {
	h, _, sender, _ := newTestWebhook(t)

	postUpdate(t, h, textUpdate(1, "/help"))
	assert.Contains(t, sender.last(), "Список доступных команд")
}

func TestHandleTelegramUpdate_Settings(t *testing.T) {
	h, _, sender, _ := newTestWebhook(t)

	postUpdate(t, h, textUpdate(1, "/settings"))

	reply := sender.last()
	assert.Contains(t, reply, "⚙️ Текущие настройки:")
	assert.Contains(t, reply, "google/gemini-2.0-pro-exp-02-05:free")
	assert.Contains(t, reply, "friendly")
}

func TestHandleTelegramUpdate_UnknownCommand(t *testing.T) {
	h, _, sender, _ := newTestWebhook(t)

	postUpdate(t, h, textUpdate(1, "/frobnicate"))
	assert.Contains(t, sender.last(), "Неизвестная команда")
}

func TestHandleTelegramUpdate_Schedule(t *testing.T) {
	h, st, sender, _ := newTestWebhook(t)

	t.Run("usage text without arguments", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/schedule"))
		assert.Contains(t, sender.last(), "Формат: /schedule")
	})

	t.Run("stores the deferred message", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/schedule 23:59 напомни про отчет"))

		assert.Contains(t, sender.last(), "✅ Сообщение запланировано")
		assert.Contains(t, sender.last(), "напомни про отчет")

		due, err := st.GetDueDeferredMessages(context.Background(), 1<<60)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "напомни про отчет", due[0].Content)
	})

	t.Run("rejects bad time", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/schedule вчера привет"))
		assert.Contains(t, sender.last(), "❌ Неверный формат времени")
	})
}

func TestHandleTelegramUpdate_Template(t *testing.T) {
	h, _, sender, _ := newTestWebhook(t)

	t.Run("list", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/template"))
		assert.Contains(t, sender.last(), "explain")
	})

	t.Run("expansion routes through chat", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/template explain квантовая физика"))
		assert.Equal(t, "Ответ бота", sender.last())
	})

	t.Run("unknown template", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/template missing текст"))
		assert.Contains(t, sender.last(), "не найден")
	})
}

func TestHandleTelegramUpdate_Clear(t *testing.T) {
	h, st, sender, _ := newTestWebhook(t)
	ctx := context.Background()

	postUpdate(t, h, textUpdate(1, "Привет"))
	history, err := st.GetRecentMessages(ctx, 1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	postUpdate(t, h, textUpdate(1, "/clear"))
	assert.Contains(t, sender.last(), "Вы уверены")

	history, err = st.GetRecentMessages(ctx, 1, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, history, "bare /clear does not delete")

	postUpdate(t, h, textUpdate(1, "/clear confirm"))
	assert.Contains(t, sender.last(), "✅ История чата очищена.")

	history, err = st.GetRecentMessages(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandleTelegramUpdate_Export(t *testing.T) {
	h, _, sender, _ := newTestWebhook(t)

	t.Run("usage text without arguments", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/export"))
		assert.Contains(t, sender.last(), "Выберите формат")
	})

	t.Run("unsupported format", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "/export xml"))
		assert.Contains(t, sender.last(), "❌ Неподдерживаемый формат экспорта")
	})

	t.Run("dump goes out as a file", func(t *testing.T) {
		postUpdate(t, h, textUpdate(1, "Привет"))
		postUpdate(t, h, textUpdate(1, "/export text"))

		assert.Contains(t, sender.last(), "✅ История чата успешно экспортирована в формате TEXT")
		require.Len(t, sender.documents, 1)
		assert.Equal(t, "chat_history_1_text.txt", sender.documents[0])
	})
}

func TestHandleTelegramUpdate_Photo(t *testing.T) {
	h, st, sender, files := newTestWebhook(t)

	update := models.TelegramUpdate{
		Message: &models.TelegramMessage{
			From:    &models.TelegramUser{ID: 1, FirstName: "Иван"},
			Chat:    models.TelegramChat{ID: 1},
			Caption: "Что это?",
			Photo: []models.TelegramPhotoSize{
				{FileID: "small", FileUniqueID: "uniq-s", Width: 90},
				{FileID: "big", FileUniqueID: "uniq-b", Width: 800},
			},
		},
	}

	postUpdate(t, h, update)

	assert.Equal(t, 1, files.downloads)
	assert.Equal(t, "Ответ бота", sender.last())

	// The largest size is the one persisted.
	att, err := st.GetAttachment(context.Background(), "uniq-b")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/uniq-b.jpg", att.FilePath)
}

func TestHandleTelegramUpdate_Voice(t *testing.T) {
	h, _, sender, _ := newTestWebhook(t)

	update := models.TelegramUpdate{
		Message: &models.TelegramMessage{
			From:  &models.TelegramUser{ID: 1, FirstName: "Иван"},
			Chat:  models.TelegramChat{ID: 1},
			Voice: &models.TelegramVoice{FileID: "v", FileUniqueID: "uniq-v", Duration: 3},
		},
	}

	postUpdate(t, h, update)
	assert.Contains(t, sender.last(), "голосовое сообщение")
}

func TestHandleTelegramUpdate_Callback(t *testing.T) {
	h, st, sender, _ := newTestWebhook(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertUser(ctx, 1, "ivan", "Иван", ""))

	t.Run("model selection", func(t *testing.T) {
		postUpdate(t, h, models.TelegramUpdate{
			CallbackQuery: &models.TelegramCallbackQuery{
				ID:   "cb1",
				From: models.TelegramUser{ID: 1},
				Data: "model_anthropic/claude-3-haiku:free",
			},
		})

		assert.Contains(t, sender.last(), "✅ Модель изменена")

		user, err := st.GetUser(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "anthropic/claude-3-haiku:free", user.Settings.Model)
	})

	t.Run("malformed data is ignored", func(t *testing.T) {
		before := len(sender.sent())
		postUpdate(t, h, models.TelegramUpdate{
			CallbackQuery: &models.TelegramCallbackQuery{
				ID:   "cb2",
				From: models.TelegramUser{ID: 1},
				Data: "volume_11",
			},
		})
		assert.Len(t, sender.sent(), before, "no reply for unparseable callbacks")
	})
}

func TestHandleTelegramUpdate_Stats(t *testing.T) {
	h, _, sender, _ := newTestWebhook(t)

	postUpdate(t, h, textUpdate(1, "Привет"))
	postUpdate(t, h, textUpdate(1, "/stats"))

	reply := sender.last()
	assert.Contains(t, reply, "📊 Статистика использования бота:")
	assert.Contains(t, reply, "Всего сообщений: 2")
	assert.Contains(t, reply, "токенов")
}
