package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tgassist-backend/internal/ai"
	"tgassist-backend/internal/config"
	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store"
)

// Sender delivers outbound messages to the platform. The real
// implementation lives in internal/integrations/telegram.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMarkdown(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, filename, caption string, content []byte) error
	SendTyping(ctx context.Context, chatID int64) error
}

// User-facing texts, kept verbatim across handlers.
const (
	apologyText      = "😔 Извините, произошла ошибка при генерации ответа. Пожалуйста, попробуйте еще раз."
	imageApologyText = "😔 Извините, не удалось обработать изображение. Пожалуйста, попробуйте еще раз."
	imageProcessing  = "🖼️ Обрабатываю изображение..."
	voiceUnderway    = "🎤 Получено голосовое сообщение. Функция преобразования голоса в текст находится в разработке."
	summaryApology   = "😔 Извините, не удалось суммировать разговор. Пожалуйста, попробуйте еще раз."
	emptySummaryText = "Нет истории чата для суммирования."
	exportCaption    = "📤 Экспорт истории чата"
)

const summarySystemPrompt = "Ты аналитический ассистент. Твоя задача - кратко суммировать ключевые моменты разговора."

// ChatService drives the request path: it turns inbound events into store
// updates, assembles prompts, calls the generative client and delivers the
// reply. Failures of the generative client never escape as errors to the
// user; they collapse into a single apology message.
type ChatService struct {
	store     store.Store
	completer ai.Completer
	sender    Sender
	cfg       *config.Config
}

// NewChatService creates a new ChatService.
func NewChatService(st store.Store, completer ai.Completer, sender Sender, cfg *config.Config) *ChatService {
	return &ChatService{
		store:     st,
		completer: completer,
		sender:    sender,
		cfg:       cfg,
	}
}

// TouchUser upserts the sender and returns the user with populated
// settings. Command handlers use it to count commands as activity.
func (s *ChatService) TouchUser(ctx context.Context, ev models.InboundEvent) (*models.User, error) {
	return s.touchUser(ctx, ev)
}

func (s *ChatService) touchUser(ctx context.Context, ev models.InboundEvent) (*models.User, error) {
	if err := s.store.UpsertUser(ctx, ev.UserID, ev.Username, ev.FirstName, ev.LastName); err != nil {
		return nil, fmt.Errorf("failed to upsert user %d: %w", ev.UserID, err)
	}
	user, err := s.store.GetUser(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", ev.UserID, err)
	}
	return user, nil
}

// AssemblePrompt prepends the mode's system instruction to the
// chronological history window. An empty history still yields a valid
// one-block prompt.
func (s *ChatService) AssemblePrompt(settings models.Settings, history []models.PromptMessage) []models.PromptMessage {
	mode := s.cfg.ModeOrDefault(settings.ConversationMode)
	prompt := make([]models.PromptMessage, 0, len(history)+1)
	prompt = append(prompt, models.TextPrompt(models.RoleSystem, mode.SystemPrompt))
	prompt = append(prompt, history...)
	return prompt
}

// HandleTextMessage processes a plain text inbound event end to end.
func (s *ChatService) HandleTextMessage(ctx context.Context, ev models.InboundEvent) error {
	user, err := s.touchUser(ctx, ev)
	if err != nil {
		return err
	}

	if err := s.sender.SendTyping(ctx, ev.UserID); err != nil {
		log.Printf("WARN [ChatService] Failed to send typing action to %d: %v", ev.UserID, err)
	}

	_, err = s.store.AppendMessage(ctx, store.AppendMessageParams{
		UserID:  ev.UserID,
		Role:    models.RoleUser,
		Content: ev.Text,
		Type:    models.MessageTypeText,
	})
	if err != nil {
		return err
	}

	history, err := s.store.GetRecentMessages(ctx, ev.UserID, s.cfg.HistoryLimit)
	if err != nil {
		return err
	}

	completion, err := s.completer.Complete(ctx, ai.CompletionRequest{
		Messages:    s.AssemblePrompt(user.Settings, history),
		Model:       user.Settings.Model,
		Temperature: user.Settings.Temperature,
		MaxTokens:   user.Settings.MaxTokens,
	})
	if err != nil {
		log.Printf("ERROR [ChatService] Completion failed for user %d: %v", ev.UserID, err)
		return s.sender.SendMessage(ctx, ev.UserID, apologyText)
	}

	// Usage is recorded before the reply goes out so stats stay correct
	// even when the send itself fails.
	s.recordUsage(ctx, ev.UserID, user.Settings.Model, completion.TokensUsed, models.RequestTypeChat)

	_, err = s.store.AppendMessage(ctx, store.AppendMessageParams{
		UserID:  ev.UserID,
		Role:    models.RoleAssistant,
		Content: completion.Text,
		Type:    models.MessageTypeText,
	})
	if err != nil {
		return err
	}

	return s.sender.SendMessage(ctx, ev.UserID, completion.Text)
}

// HandleImageMessage stores the attachment, appends an image message
// referencing it and asks a vision-capable model about the picture.
func (s *ChatService) HandleImageMessage(ctx context.Context, ev models.InboundEvent) error {
	user, err := s.touchUser(ctx, ev)
	if err != nil {
		return err
	}

	if err := s.sender.SendMessage(ctx, ev.UserID, imageProcessing); err != nil {
		log.Printf("WARN [ChatService] Failed to send processing notice to %d: %v", ev.UserID, err)
	}

	_, err = s.store.AddAttachment(ctx, store.AddAttachmentParams{
		UserID:        ev.UserID,
		FileID:        ev.FileID,
		FileUniqueID:  ev.FileUniqueID,
		FilePath:      ev.FilePath,
		MediaType:     "image",
		ProcessedText: ev.FilePath,
	})
	if err != nil {
		return err
	}

	caption := ev.Text
	if caption == "" {
		caption = "Что на этом изображении?"
	}

	attachmentID := ev.FileUniqueID
	_, err = s.store.AppendMessage(ctx, store.AppendMessageParams{
		UserID:       ev.UserID,
		Role:         models.RoleUser,
		Content:      caption,
		Type:         models.MessageTypeImage,
		AttachmentID: &attachmentID,
	})
	if err != nil {
		return err
	}

	model := user.Settings.Model
	if !ai.SupportsImages(model) {
		log.Printf("WARN [ChatService] Model %s does not support images, falling back to %s", model, ai.VisionFallbackModel)
		model = ai.VisionFallbackModel
	}

	prompt := []models.PromptMessage{{
		Role: models.RoleUser,
		Content: []models.ContentBlock{
			{Type: models.BlockTypeText, Text: caption},
			{Type: models.BlockTypeImageURL, ImageURL: "file://" + ev.FilePath},
		},
	}}

	completion, err := s.completer.Complete(ctx, ai.CompletionRequest{
		Messages:    prompt,
		Model:       model,
		Temperature: user.Settings.Temperature,
		MaxTokens:   user.Settings.MaxTokens,
	})
	if err != nil {
		log.Printf("ERROR [ChatService] Image completion failed for user %d: %v", ev.UserID, err)
		return s.sender.SendMessage(ctx, ev.UserID, imageApologyText)
	}

	s.recordUsage(ctx, ev.UserID, model, completion.TokensUsed, models.RequestTypeImage)

	_, err = s.store.AppendMessage(ctx, store.AppendMessageParams{
		UserID:  ev.UserID,
		Role:    models.RoleAssistant,
		Content: completion.Text,
		Type:    models.MessageTypeText,
	})
	if err != nil {
		return err
	}

	return s.sender.SendMessage(ctx, ev.UserID, completion.Text)
}

// HandleVoiceMessage acknowledges a voice event. Transcription is handled
// by an external collaborator and is not wired up yet.
func (s *ChatService) HandleVoiceMessage(ctx context.Context, ev models.InboundEvent) error {
	if _, err := s.touchUser(ctx, ev); err != nil {
		return err
	}
	return s.sender.SendMessage(ctx, ev.UserID, voiceUnderway)
}

// Summarize reassembles a wider history window into a flattened transcript
// and asks the model for a summary with a fixed low temperature and a
// constrained output budget, overriding the user's sampling settings for
// this one call.
func (s *ChatService) Summarize(ctx context.Context, ev models.InboundEvent) error {
	user, err := s.touchUser(ctx, ev)
	if err != nil {
		return err
	}

	history, err := s.store.GetRecentMessages(ctx, ev.UserID, s.cfg.SummaryLimit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return s.sender.SendMessage(ctx, ev.UserID, emptySummaryText)
	}

	if err := s.sender.SendTyping(ctx, ev.UserID); err != nil {
		log.Printf("WARN [ChatService] Failed to send typing action to %d: %v", ev.UserID, err)
	}

	transcript := flattenTranscript(history)
	prompt := []models.PromptMessage{
		models.TextPrompt(models.RoleSystem, summarySystemPrompt),
		models.TextPrompt(models.RoleUser, "Пожалуйста, суммируй следующий разговор:\n\n"+transcript),
	}

	completion, err := s.completer.Complete(ctx, ai.CompletionRequest{
		Messages:    prompt,
		Model:       user.Settings.Model,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		log.Printf("ERROR [ChatService] Summary completion failed for user %d: %v", ev.UserID, err)
		return s.sender.SendMessage(ctx, ev.UserID, summaryApology)
	}

	s.recordUsage(ctx, ev.UserID, user.Settings.Model, completion.TokensUsed, models.RequestTypeChat)

	return s.sender.SendMarkdown(ctx, ev.UserID, "📝 *Суммирование разговора:*\n\n"+completion.Text)
}

// flattenTranscript renders prompt messages as "Пользователь:/Ассистент:"
// lines, dropping system entries and image references.
func flattenTranscript(history []models.PromptMessage) string {
	var b strings.Builder
	for _, pm := range history {
		var author string
		switch pm.Role {
		case models.RoleUser:
			author = "Пользователь"
		case models.RoleAssistant:
			author = "Ассистент"
		default:
			continue
		}

		var text strings.Builder
		for _, block := range pm.Content {
			if block.Type == models.BlockTypeText {
				text.WriteString(block.Text)
			}
		}
		fmt.Fprintf(&b, "%s: %s\n\n", author, text.String())
	}
	return b.String()
}

// ScheduleMessage parses the requested delivery time and stores a deferred
// message for the background scheduler to pick up.
func (s *ChatService) ScheduleMessage(ctx context.Context, userID int64, timeStr, content string) (*models.DeferredMessage, error) {
	scheduledAt, err := ParseScheduleTime(timeStr, timeNow())
	if err != nil {
		return nil, err
	}

	id, err := s.store.AddDeferredMessage(ctx, userID, content, scheduledAt)
	if err != nil {
		return nil, err
	}

	return &models.DeferredMessage{
		ID:            id,
		UserID:        userID,
		Content:       content,
		ScheduledTime: scheduledAt,
	}, nil
}

// ListDeferredMessages returns the user's deferred messages, sent or not.
func (s *ChatService) ListDeferredMessages(ctx context.Context, userID int64) ([]models.DeferredMessage, error) {
	return s.store.ListDeferredMessages(ctx, userID)
}

// ExpandTemplate substitutes the user's text into a named prompt template.
func (s *ChatService) ExpandTemplate(name, text string) (string, bool) {
	tmpl, ok := s.cfg.Templates[name]
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(tmpl, "{text}", text), true
}

// GetStats returns the user's aggregate usage statistics.
func (s *ChatService) GetStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	return s.store.GetUserStats(ctx, userID)
}

// ExportHistory dumps the user's history in the requested format.
func (s *ChatService) ExportHistory(ctx context.Context, userID int64, format store.ExportFormat) (string, error) {
	return s.store.ExportHistory(ctx, userID, format)
}

// ClearHistory removes the user's conversation history.
func (s *ChatService) ClearHistory(ctx context.Context, userID int64) error {
	return s.store.ClearHistory(ctx, userID)
}

// GetUser returns the user with a fully populated settings bag.
func (s *ChatService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.GetUser(ctx, userID)
}

// recordUsage logs but does not propagate accounting failures; a lost
// usage row must not break the reply path.
func (s *ChatService) recordUsage(ctx context.Context, userID int64, model string, tokens int, requestType string) {
	if tokens <= 0 {
		return
	}
	if err := s.store.RecordUsage(ctx, userID, model, tokens, requestType); err != nil {
		log.Printf("ERROR [ChatService] Failed to record usage for user %d: %v", userID, err)
	}
}

// ApplySettingsCommand dispatches a decoded inline-keyboard command and
// returns the user-facing confirmation text.
func (s *ChatService) ApplySettingsCommand(ctx context.Context, userID int64, cmd models.SettingsCommand) (string, error) {
	switch c := cmd.(type) {
	case models.SelectModel:
		if err := s.store.UpdateUserSettings(ctx, userID, store.SettingsPatch{Model: &c.Name}); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Модель изменена на %s", c.Name), nil

	case models.SelectTemperature:
		if err := s.store.UpdateUserSettings(ctx, userID, store.SettingsPatch{Temperature: &c.Value}); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Температура установлена на %g", c.Value), nil

	case models.SelectTokenBudget:
		if err := s.store.UpdateUserSettings(ctx, userID, store.SettingsPatch{MaxTokens: &c.Limit}); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Максимальное количество токенов: %d", c.Limit), nil

	case models.SelectMode:
		mode, ok := s.cfg.ConversationModes[c.Name]
		if !ok {
			return "", fmt.Errorf("unknown conversation mode %q", c.Name)
		}
		if err := s.store.UpdateUserSettings(ctx, userID, store.SettingsPatch{ConversationMode: &c.Name}); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Режим общения: %s", mode.Description), nil

	case models.SelectLanguage:
		if err := s.store.UpdateUserSettings(ctx, userID, store.SettingsPatch{Language: &c.Code}); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Язык интерфейса: %s", c.Code), nil

	case models.ExportHistory:
		dump, err := s.store.ExportHistory(ctx, userID, store.ExportFormat(c.Format))
		if err != nil {
			if errors.Is(err, store.ErrUnsupportedFormat) {
				return "", err
			}
			return "", fmt.Errorf("failed to export history for user %d: %w", userID, err)
		}
		if dump == "" {
			return "История чата пуста.", nil
		}

		// The dump goes out as a file: a long history would exceed the
		// platform's message length limit as plain text.
		ext := "json"
		if store.ExportFormat(c.Format) == store.ExportFormatText {
			ext = "txt"
		}
		filename := fmt.Sprintf("chat_history_%d_%s.%s", userID, c.Format, ext)
		if err := s.sender.SendDocument(ctx, userID, filename, exportCaption, []byte(dump)); err != nil {
			return "", fmt.Errorf("failed to deliver history export to user %d: %w", userID, err)
		}
		return fmt.Sprintf("✅ История чата успешно экспортирована в формате %s", strings.ToUpper(c.Format)), nil

	case models.ClearHistory:
		if !c.Confirmed {
			return "❌ Очистка истории отменена.", nil
		}
		if err := s.store.ClearHistory(ctx, userID); err != nil {
			return "", err
		}
		return "✅ История чата очищена.", nil
	}

	return "", fmt.Errorf("unhandled settings command %T", cmd)
}
