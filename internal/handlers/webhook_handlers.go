package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"tgassist-backend/internal/config"
	"tgassist-backend/internal/models"
	"tgassist-backend/internal/services"
	"tgassist-backend/pkg/httputil"
)

// FileStore persists platform files to local disk and hands back the path.
// The Telegram implementation lives in internal/integrations/telegram.
type FileStore interface {
	Download(ctx context.Context, fileID, fileUniqueID string) (string, error)
}

// WebhookHandlers receives Telegram updates and drives the request path.
type WebhookHandlers struct {
	chatService *services.ChatService
	sender      services.Sender
	files       FileStore
	cfg         *config.Config
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(cs *services.ChatService, sender services.Sender, files FileStore, cfg *config.Config) *WebhookHandlers {
	return &WebhookHandlers{
		chatService: cs,
		sender:      sender,
		files:       files,
		cfg:         cfg,
	}
}

// HandleTelegramUpdate decodes one webhook update and processes it. The
// webhook always acknowledges with 200 once the payload parses; processing
// failures are logged and surfaced to the user as an apology, never echoed
// back to Telegram (which would trigger redelivery loops).
func (h *WebhookHandlers) HandleTelegramUpdate(w http.ResponseWriter, r *http.Request) {
	var update models.TelegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid update payload: "+err.Error())
		return
	}

	ctx := r.Context()
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	}

	w.WriteHeader(http.StatusOK)
}

func eventFromMessage(msg *models.TelegramMessage) models.InboundEvent {
	ev := models.InboundEvent{
		UserID:    msg.Chat.ID,
		EventType: models.EventTypeText,
		Text:      msg.Text,
	}
	if msg.From != nil {
		ev.UserID = msg.From.ID
		ev.Username = msg.From.Username
		ev.FirstName = msg.From.FirstName
		ev.LastName = msg.From.LastName
	}
	return ev
}

func (h *WebhookHandlers) handleMessage(ctx context.Context, msg *models.TelegramMessage) {
	ev := eventFromMessage(msg)

	switch {
	case len(msg.Photo) > 0:
		// Highest-resolution size comes last.
		photo := msg.Photo[len(msg.Photo)-1]
		path, err := h.files.Download(ctx, photo.FileID, photo.FileUniqueID)
		if err != nil {
			log.Printf("ERROR [Webhook] Failed to download photo for user %d: %v", ev.UserID, err)
			h.reply(ctx, ev.UserID, "😔 Извините, не удалось обработать изображение. Пожалуйста, попробуйте еще раз.")
			return
		}
		ev.EventType = models.EventTypeImage
		ev.Text = msg.Caption
		ev.FileID = photo.FileID
		ev.FileUniqueID = photo.FileUniqueID
		ev.FilePath = path
		h.logIfErr(h.chatService.HandleImageMessage(ctx, ev))

	case msg.Voice != nil:
		ev.EventType = models.EventTypeVoice
		h.logIfErr(h.chatService.HandleVoiceMessage(ctx, ev))

	case strings.HasPrefix(msg.Text, "/"):
		h.handleCommand(ctx, ev)

	case msg.Text != "":
		h.logIfErr(h.chatService.HandleTextMessage(ctx, ev))
	}
}

func (h *WebhookHandlers) handleCallback(ctx context.Context, cb *models.TelegramCallbackQuery) {
	cmd, err := models.ParseSettingsCommand(cb.Data)
	if err != nil {
		log.Printf("WARN [Webhook] Ignoring callback from user %d: %v", cb.From.ID, err)
		return
	}

	reply, err := h.chatService.ApplySettingsCommand(ctx, cb.From.ID, cmd)
	if err != nil {
		log.Printf("ERROR [Webhook] Settings command failed for user %d: %v", cb.From.ID, err)
		h.reply(ctx, cb.From.ID, "😔 Не удалось применить настройку. Пожалуйста, попробуйте еще раз.")
		return
	}
	h.reply(ctx, cb.From.ID, reply)
}

func (h *WebhookHandlers) handleCommand(ctx context.Context, ev models.InboundEvent) {
	fields := strings.Fields(ev.Text)
	command := fields[0]
	args := fields[1:]

	switch command {
	case "/start":
		h.logIfErr(h.touchAndReply(ctx, ev, welcomeText(ev.FirstName)))

	case "/help":
		h.reply(ctx, ev.UserID, helpText)

	case "/settings":
		h.handleSettings(ctx, ev)

	case "/stats":
		h.handleStats(ctx, ev)

	case "/summary":
		h.logIfErr(h.chatService.Summarize(ctx, ev))

	case "/mode":
		h.handleMode(ctx, ev, args)

	case "/export":
		h.handleExport(ctx, ev, args)

	case "/clear":
		h.handleClear(ctx, ev, args)

	case "/template":
		h.handleTemplate(ctx, ev, args)

	case "/schedule":
		h.handleSchedule(ctx, ev, args)

	default:
		h.reply(ctx, ev.UserID, "Неизвестная команда. Используйте /help для списка команд.")
	}
}

func (h *WebhookHandlers) handleSettings(ctx context.Context, ev models.InboundEvent) {
	user, err := h.touchUser(ctx, ev)
	if err != nil {
		h.logIfErr(err)
		return
	}
	s := user.Settings
	text := fmt.Sprintf(
		"⚙️ Текущие настройки:\n\n"+
			"🤖 Модель: %s\n"+
			"🌡️ Температура: %g\n"+
			"📊 Макс. токенов: %d\n"+
			"🔄 Режим: %s\n"+
			"🌐 Язык: %s",
		s.Model, s.Temperature, s.MaxTokens, s.ConversationMode, s.Language)
	h.reply(ctx, ev.UserID, text)
}

var dayNames = map[string]string{
	"0": "Воскресенье",
	"1": "Понедельник",
	"2": "Вторник",
	"3": "Среда",
	"4": "Четверг",
	"5": "Пятница",
	"6": "Суббота",
}

func (h *WebhookHandlers) handleStats(ctx context.Context, ev models.InboundEvent) {
	if _, err := h.touchUser(ctx, ev); err != nil {
		h.logIfErr(err)
		return
	}

	stats, err := h.chatService.GetStats(ctx, ev.UserID)
	if err != nil {
		log.Printf("ERROR [Webhook] Failed to load stats for user %d: %v", ev.UserID, err)
		h.reply(ctx, ev.UserID, "Статистика не найдена. Попробуйте пообщаться с ботом сначала.")
		return
	}
	h.reply(ctx, ev.UserID, formatStats(stats))
}

func formatStats(stats *models.UserStats) string {
	modelsText := "Нет данных"
	if len(stats.TokensByModel) > 0 {
		var lines []string
		for _, model := range sortedKeys(stats.TokensByModel) {
			lines = append(lines, fmt.Sprintf("  • %s: %d токенов", model, stats.TokensByModel[model]))
		}
		modelsText = strings.Join(lines, "\n")
	}

	requestsText := "Нет данных"
	if len(stats.RequestsByType) > 0 {
		var lines []string
		for _, reqType := range sortedKeys(stats.RequestsByType) {
			lines = append(lines, fmt.Sprintf("  • %s: %d запросов", reqType, stats.RequestsByType[reqType]))
		}
		requestsText = strings.Join(lines, "\n")
	}

	activityText := "Нет данных"
	if len(stats.ActivityByDay) > 0 {
		var lines []string
		for _, day := range sortedKeys(stats.ActivityByDay) {
			name, ok := dayNames[day]
			if !ok {
				name = day
			}
			lines = append(lines, fmt.Sprintf("  • %s: %d сообщений", name, stats.ActivityByDay[day]))
		}
		activityText = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(
		"📊 Статистика использования бота:\n\n"+
			"💬 Всего сообщений: %d\n\n"+
			"🤖 Использование моделей:\n%s\n\n"+
			"🔄 Типы запросов:\n%s\n\n"+
			"📅 Активность по дням недели:\n%s",
		stats.MessageCount, modelsText, requestsText, activityText)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (h *WebhookHandlers) handleMode(ctx context.Context, ev models.InboundEvent, args []string) {
	if len(args) == 0 {
		var lines []string
		for _, name := range sortedModeNames(h.cfg) {
			lines = append(lines, fmt.Sprintf("• %s - %s", name, h.cfg.ConversationModes[name].Description))
		}
		h.reply(ctx, ev.UserID, "📝 Режимы общения:\n\n"+strings.Join(lines, "\n")+"\n\nИспользование: /mode [название]")
		return
	}

	reply, err := h.chatService.ApplySettingsCommand(ctx, ev.UserID, models.SelectMode{Name: args[0]})
	if err != nil {
		h.reply(ctx, ev.UserID, fmt.Sprintf("⚠️ Режим '%s' не найден. Используйте /mode для списка режимов.", args[0]))
		return
	}
	h.reply(ctx, ev.UserID, reply)
}

func sortedModeNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.ConversationModes))
	for name := range cfg.ConversationModes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *WebhookHandlers) handleExport(ctx context.Context, ev models.InboundEvent, args []string) {
	if len(args) == 0 {
		h.reply(ctx, ev.UserID, "Выберите формат для экспорта истории чата: /export text или /export json")
		return
	}

	reply, err := h.chatService.ApplySettingsCommand(ctx, ev.UserID, models.ExportHistory{Format: args[0]})
	if err != nil {
		h.reply(ctx, ev.UserID, "❌ Неподдерживаемый формат экспорта. Доступны: text, json")
		return
	}
	h.reply(ctx, ev.UserID, reply)
}

func (h *WebhookHandlers) handleClear(ctx context.Context, ev models.InboundEvent, args []string) {
	if len(args) == 0 || args[0] != "confirm" {
		h.reply(ctx, ev.UserID, "⚠️ Вы уверены, что хотите очистить всю историю чата? Это действие нельзя отменить.\n\nОтправьте /clear confirm для подтверждения.")
		return
	}

	reply, err := h.chatService.ApplySettingsCommand(ctx, ev.UserID, models.ClearHistory{Confirmed: true})
	if err != nil {
		h.logIfErr(err)
		return
	}
	h.reply(ctx, ev.UserID, reply)
}

func (h *WebhookHandlers) handleTemplate(ctx context.Context, ev models.InboundEvent, args []string) {
	if len(args) == 0 || args[0] == "list" {
		var lines []string
		for name, tmpl := range h.cfg.Templates {
			lines = append(lines, fmt.Sprintf("• %s: %s", name, tmpl))
		}
		sort.Strings(lines)
		h.reply(ctx, ev.UserID, "📝 Доступные шаблоны:\n\n"+strings.Join(lines, "\n")+"\n\nИспользование: /template [название] [текст]")
		return
	}

	if len(args) < 2 {
		h.reply(ctx, ev.UserID, fmt.Sprintf("Выбран шаблон '%s'. Добавьте текст: /template %s [текст]", args[0], args[0]))
		return
	}

	expanded, ok := h.chatService.ExpandTemplate(args[0], strings.Join(args[1:], " "))
	if !ok {
		h.reply(ctx, ev.UserID, fmt.Sprintf("⚠️ Шаблон '%s' не найден. Используйте /template list для просмотра доступных шаблонов.", args[0]))
		return
	}

	ev.Text = expanded
	h.logIfErr(h.chatService.HandleTextMessage(ctx, ev))
}

func (h *WebhookHandlers) handleSchedule(ctx context.Context, ev models.InboundEvent, args []string) {
	if len(args) < 2 {
		h.reply(ctx, ev.UserID,
			"⏰ Планирование сообщений\n\n"+
				"Вы можете запланировать сообщение, указав время и текст.\n\n"+
				"Формат: /schedule [время в формате ЧЧ:ММ] [текст сообщения]\n\n"+
				"Пример: /schedule 15:30 Напомни про встречу")
		return
	}

	if _, err := h.touchUser(ctx, ev); err != nil {
		h.logIfErr(err)
		return
	}

	msg, err := h.chatService.ScheduleMessage(ctx, ev.UserID, args[0], strings.Join(args[1:], " "))
	if err != nil {
		h.reply(ctx, ev.UserID, "❌ Неверный формат времени. Используйте формат ЧЧ:ММ, например, 15:30")
		return
	}

	at := time.Unix(msg.ScheduledTime, 0)
	h.reply(ctx, ev.UserID, fmt.Sprintf(
		"✅ Сообщение запланировано на %s в %s.\n\nТекст сообщения: %s",
		at.Format("02.01.2006"), at.Format("15:04"), msg.Content))
}

func (h *WebhookHandlers) touchUser(ctx context.Context, ev models.InboundEvent) (*models.User, error) {
	return h.chatService.TouchUser(ctx, ev)
}

func (h *WebhookHandlers) touchAndReply(ctx context.Context, ev models.InboundEvent, text string) error {
	if _, err := h.touchUser(ctx, ev); err != nil {
		return err
	}
	return h.sender.SendMessage(ctx, ev.UserID, text)
}

func (h *WebhookHandlers) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sender.SendMessage(ctx, chatID, text); err != nil {
		log.Printf("ERROR [Webhook] Failed to send reply to %d: %v", chatID, err)
	}
}

func (h *WebhookHandlers) logIfErr(err error) {
	if err != nil {
		log.Printf("ERROR [Webhook] %v", err)
	}
}

func welcomeText(firstName string) string {
	return fmt.Sprintf(
		"👋 Привет, %s! Я AI-ассистент.\n\n"+
			"Я могу общаться с вами, отвечать на вопросы и даже анализировать изображения!\n\n"+
			"Команды:\n"+
			"/help - Показать справку\n"+
			"/settings - Настройки бота\n"+
			"/stats - Статистика использования\n"+
			"/summary - Суммировать разговор\n"+
			"/export - Экспортировать историю чата\n"+
			"/clear - Очистить историю чата\n"+
			"/mode - Изменить режим общения\n"+
			"/schedule - Запланировать сообщение\n"+
			"/template - Управление шаблонами\n\n"+
			"🚀 Просто напишите мне сообщение или отправьте изображение, и я помогу вам!",
		firstName)
}

const helpText = "🤖 Список доступных команд:\n\n" +
	"/start - Начать диалог с ботом\n" +
	"/help - Показать эту справку\n" +
	"/settings - Настройки бота\n" +
	"/stats - Статистика использования\n" +
	"/summary - Суммировать текущий разговор\n" +
	"/export - Экспортировать историю чата\n" +
	"/clear - Очистить историю чата\n" +
	"/mode - Изменить режим общения\n" +
	"/template <название> - Использовать шаблон\n" +
	"/schedule - Запланировать сообщение\n\n" +
	"💡 Особенности:\n" +
	"• Отправьте текстовое сообщение для обычного общения\n" +
	"• Отправьте изображение для его анализа\n" +
	"• Отправьте голосовое сообщение для его обработки"
