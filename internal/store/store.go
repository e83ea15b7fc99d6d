package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tgassist-backend/internal/models"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrUnsupportedFormat is returned by ExportHistory for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportFormat selects the serialization of an exported chat history.
type ExportFormat string

const (
	ExportFormatText ExportFormat = "text"
	ExportFormatJSON ExportFormat = "json"
)

// AppendMessageParams contains parameters for appending a history message.
type AppendMessageParams struct {
	UserID       int64
	Role         string
	Content      string
	Type         string
	AttachmentID *string // platform file_unique_id, image messages only
}

// AddAttachmentParams contains parameters for recording a stored file.
type AddAttachmentParams struct {
	UserID        int64
	FileID        string
	FileUniqueID  string
	FilePath      string
	MediaType     string
	ProcessedText string
}

// SettingsPatch is a partial settings update. Nil fields are left
// untouched; the merge happens against the stored (or default) bag.
type SettingsPatch struct {
	Model            *string
	Temperature      *float64
	MaxTokens        *int
	ConversationMode *string
	Language         *string
}

// Apply merges the patch into s.
func (p SettingsPatch) Apply(s *models.Settings) {
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.ConversationMode != nil {
		s.ConversationMode = *p.ConversationMode
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
}

// Store defines the interface for database operations.
// This allows for mocking in tests and potential DB backend switching.
type Store interface {
	// User operations. UpsertUser is idempotent: it inserts with default
	// settings for new users and only refreshes display fields plus the
	// last-active timestamp for existing ones.
	UpsertUser(ctx context.Context, id int64, username, firstName, lastName string) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUserSettings(ctx context.Context, id int64, patch SettingsPatch) error

	// Message operations. GetRecentMessages returns the newest limit rows
	// in chronological order, already mapped to prompt format: image
	// messages with a processed attachment expand into a text block plus
	// an image-reference block, and rows with unknown roles are skipped.
	AppendMessage(ctx context.Context, arg AppendMessageParams) (int64, error)
	GetRecentMessages(ctx context.Context, userID int64, limit int) ([]models.PromptMessage, error)
	ClearHistory(ctx context.Context, userID int64) error
	ExportHistory(ctx context.Context, userID int64, format ExportFormat) (string, error)

	// Usage accounting.
	RecordUsage(ctx context.Context, userID int64, model string, tokensUsed int, requestType string) error
	GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error)

	// Attachments, keyed by the platform's file_unique_id.
	AddAttachment(ctx context.Context, arg AddAttachmentParams) (uuid.UUID, error)
	GetAttachment(ctx context.Context, fileUniqueID string) (*models.Attachment, error)

	// Deferred messages.
	AddDeferredMessage(ctx context.Context, userID int64, content string, scheduledAt int64) (int64, error)
	GetDueDeferredMessages(ctx context.Context, now int64) ([]models.DeferredMessage, error)
	ListDeferredMessages(ctx context.Context, userID int64) ([]models.DeferredMessage, error)
	MarkDeferredMessageSent(ctx context.Context, id int64) error
}

// FormatExport serializes a chronological message slice in the requested
// format. Shared by the Postgres and in-memory store implementations.
func FormatExport(messages []models.Message, format ExportFormat) (string, error) {
	switch format {
	case ExportFormatText:
		var lines []string
		for _, msg := range messages {
			timeStr := msg.CreatedAt.Format("2006-01-02 15:04:05")
			switch msg.Role {
			case models.RoleUser:
				lines = append(lines, fmt.Sprintf("[%s] Вы: %s", timeStr, msg.Content))
			case models.RoleAssistant:
				lines = append(lines, fmt.Sprintf("[%s] Бот: %s", timeStr, msg.Content))
			}
		}
		return strings.Join(lines, "\n\n"), nil

	case ExportFormatJSON:
		// An empty history serializes to "" in both formats so callers
		// have a single emptiness check.
		if len(messages) == 0 {
			return "", nil
		}
		type exportEntry struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			Timestamp int64  `json:"timestamp"`
			Time      string `json:"time"`
			Type      string `json:"type"`
		}
		entries := make([]exportEntry, 0, len(messages))
		for _, msg := range messages {
			entries = append(entries, exportEntry{
				Role:      msg.Role,
				Content:   msg.Content,
				Timestamp: msg.CreatedAt.Unix(),
				Time:      msg.CreatedAt.Format("2006-01-02 15:04:05"),
				Type:      msg.Type,
			})
		}
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal export: %w", err)
		}
		return string(out), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// ExpandToPrompt maps a stored message row to prompt format. The
// processedText argument is the extracted text of the referenced
// attachment, empty when there is none. A false second return means the
// row contributes nothing to the prompt (unknown role, or an image with no
// processed attachment).
func ExpandToPrompt(msg models.Message, processedText string) (models.PromptMessage, bool) {
	switch msg.Role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		return models.PromptMessage{}, false
	}

	switch msg.Type {
	case models.MessageTypeText:
		return models.TextPrompt(msg.Role, msg.Content), true

	case models.MessageTypeImage:
		if processedText == "" {
			return models.PromptMessage{}, false
		}
		caption := msg.Content
		if caption == "" {
			caption = "Что на этом изображении?"
		}
		return models.PromptMessage{
			Role: msg.Role,
			Content: []models.ContentBlock{
				{Type: models.BlockTypeText, Text: caption},
				{Type: models.BlockTypeImageURL, ImageURL: "file://" + processedText},
			},
		}, true
	}

	return models.PromptMessage{}, false
}
