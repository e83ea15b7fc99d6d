package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles accepted by the prompt assembler. Rows carrying any other
// role are filtered out when history is read back.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message type tags.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVoice = "voice"
)

// Usage request type tags.
const (
	RequestTypeChat  = "chat"
	RequestTypeImage = "image"
)

// Settings is the per-user settings bag, serialized as flat JSON in the
// users table. Readers never observe a partially populated bag: the store
// backfills missing keys from the system defaults at read time.
type Settings struct {
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	ConversationMode string  `json:"conversation_mode"`
	Language         string  `json:"language"`
}

// User is a Telegram account known to the bot. The ID is the platform's
// numeric identifier; users are upserted on every inbound event and never
// deleted in normal operation.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Settings   Settings  `json:"settings"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Message is one entry in a user's conversation history. Append-only;
// ordered by timestamp with row id as tie-break.
type Message struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	AttachmentID *string   `json:"attachment_id,omitempty"` // platform file_unique_id
	CreatedAt    time.Time `json:"created_at"`
}

// Attachment records a platform file stored on local disk, optionally with
// model-derived extracted text. Messages reference attachments by the
// platform's file_unique_id; an attachment never owns its messages.
type Attachment struct {
	ID            uuid.UUID `json:"id"`
	UserID        int64     `json:"user_id"`
	FileID        string    `json:"file_id"`
	FileUniqueID  string    `json:"file_unique_id"`
	FilePath      string    `json:"file_path"`
	MediaType     string    `json:"media_type"`
	ProcessedText string    `json:"processed_text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UsageRecord is one append-only accounting row for a model call.
type UsageRecord struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Model       string    `json:"model"`
	TokensUsed  int       `json:"tokens_used"`
	RequestType string    `json:"request_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeferredMessage is a user-authored message stored for future delivery by
// the background scheduler. Sent transitions once, false to true.
type DeferredMessage struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Content       string    `json:"content"`
	ScheduledTime int64     `json:"scheduled_time"` // unix seconds
	Sent          bool      `json:"sent"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserStats aggregates a user's activity for the /stats reply.
type UserStats struct {
	MessageCount   int            `json:"message_count"`
	TokensByModel  map[string]int `json:"tokens_by_model"`
	RequestsByType map[string]int `json:"requests_by_type"`
	ActivityByDay  map[string]int `json:"activity_by_day"` // 0=Sunday .. 6=Saturday
}

// Content block types submitted to the generative model.
const (
	BlockTypeText     = "text"
	BlockTypeImageURL = "image_url"
)

// ContentBlock is a typed unit of prompt content: plain text or an image
// reference.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// PromptMessage is one role-tagged element of the ordered prompt handed to
// the generative client.
type PromptMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextPrompt wraps a plain string as a single-block prompt message.
func TextPrompt(role, text string) PromptMessage {
	return PromptMessage{
		Role:    role,
		Content: []ContentBlock{{Type: BlockTypeText, Text: text}},
	}
}
