// Package memory provides an in-process store.Store used by tests and
// local development. It mirrors the Postgres implementation's semantics,
// including default-settings backfill and chronological message order.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"tgassist-backend/internal/config"
	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store"
)

var _ store.Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu          sync.RWMutex
	cfg         *config.Config
	users       map[int64]models.User
	messages    []models.Message
	attachments map[string]models.Attachment // key: file_unique_id
	usage       []models.UsageRecord
	deferred    []models.DeferredMessage
	nextMsgID   int64
	nextDefID   int64
	nextUsageID int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(cfg *config.Config) *MemoryStore {
	return &MemoryStore{
		cfg:         cfg,
		users:       make(map[int64]models.User),
		attachments: make(map[string]models.Attachment),
	}
}

func (m *MemoryStore) defaultSettings() models.Settings {
	return models.Settings{
		Model:            m.cfg.DefaultModel,
		Temperature:      m.cfg.DefaultTemperature,
		MaxTokens:        m.cfg.DefaultMaxTokens,
		ConversationMode: m.cfg.DefaultMode,
		Language:         m.cfg.DefaultLanguage,
	}
}

func (m *MemoryStore) UpsertUser(_ context.Context, id int64, username, firstName, lastName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if user, ok := m.users[id]; ok {
		user.Username = username
		user.FirstName = firstName
		user.LastName = lastName
		user.LastActive = now
		m.users[id] = user
		return nil
	}

	m.users[id] = models.User{
		ID:         id,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		Settings:   m.defaultSettings(),
		CreatedAt:  now,
		LastActive: now,
	}
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (m *MemoryStore) UpdateUserSettings(_ context.Context, id int64, patch store.SettingsPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	patch.Apply(&user.Settings)
	user.LastActive = time.Now()
	m.users[id] = user
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, arg store.AppendMessageParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgType := arg.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	m.nextMsgID++
	msg := models.Message{
		ID:           m.nextMsgID,
		UserID:       arg.UserID,
		Role:         arg.Role,
		Content:      arg.Content,
		Type:         msgType,
		AttachmentID: arg.AttachmentID,
		CreatedAt:    time.Now(),
	}
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

// userMessages returns the user's messages in chronological order
// (timestamp, then insertion order).
func (m *MemoryStore) userMessages(userID int64) []models.Message {
	var msgs []models.Message
	for _, msg := range m.messages {
		if msg.UserID == userID {
			msgs = append(msgs, msg)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

func (m *MemoryStore) GetRecentMessages(_ context.Context, userID int64, limit int) ([]models.PromptMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.userMessages(userID)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	prompt := make([]models.PromptMessage, 0, len(msgs))
	for _, msg := range msgs {
		var processedText string
		if msg.AttachmentID != nil {
			if att, ok := m.attachments[*msg.AttachmentID]; ok {
				processedText = att.ProcessedText
			}
		}
		if pm, ok := store.ExpandToPrompt(msg, processedText); ok {
			prompt = append(prompt, pm)
		}
	}
	return prompt, nil
}

func (m *MemoryStore) ClearHistory(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.UserID != userID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *MemoryStore) ExportHistory(_ context.Context, userID int64, format store.ExportFormat) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return store.FormatExport(m.userMessages(userID), format)
}

func (m *MemoryStore) RecordUsage(_ context.Context, userID int64, model string, tokensUsed int, requestType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextUsageID++
	m.usage = append(m.usage, models.UsageRecord{
		ID:          m.nextUsageID,
		UserID:      userID,
		Model:       model,
		TokensUsed:  tokensUsed,
		RequestType: requestType,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (m *MemoryStore) GetUserStats(_ context.Context, userID int64) (*models.UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.UserStats{
		TokensByModel:  map[string]int{},
		RequestsByType: map[string]int{},
		ActivityByDay:  map[string]int{},
	}
	for _, msg := range m.messages {
		if msg.UserID != userID {
			continue
		}
		stats.MessageCount++
		day := strconv.Itoa(int(msg.CreatedAt.Weekday()))
		stats.ActivityByDay[day]++
	}
	for _, rec := range m.usage {
		if rec.UserID != userID {
			continue
		}
		stats.TokensByModel[rec.Model] += rec.TokensUsed
		stats.RequestsByType[rec.RequestType]++
	}
	return stats, nil
}

func (m *MemoryStore) AddAttachment(_ context.Context, arg store.AddAttachmentParams) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	att := models.Attachment{
		ID:            uuid.New(),
		UserID:        arg.UserID,
		FileID:        arg.FileID,
		FileUniqueID:  arg.FileUniqueID,
		FilePath:      arg.FilePath,
		MediaType:     arg.MediaType,
		ProcessedText: arg.ProcessedText,
		CreatedAt:     time.Now(),
	}
	m.attachments[att.FileUniqueID] = att
	return att.ID, nil
}

func (m *MemoryStore) GetAttachment(_ context.Context, fileUniqueID string) (*models.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	att, ok := m.attachments[fileUniqueID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &att, nil
}

func (m *MemoryStore) AddDeferredMessage(_ context.Context, userID int64, content string, scheduledAt int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextDefID++
	m.deferred = append(m.deferred, models.DeferredMessage{
		ID:            m.nextDefID,
		UserID:        userID,
		Content:       content,
		ScheduledTime: scheduledAt,
		Sent:          false,
		CreatedAt:     time.Now(),
	})
	return m.nextDefID, nil
}

func (m *MemoryStore) GetDueDeferredMessages(_ context.Context, now int64) ([]models.DeferredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []models.DeferredMessage
	for _, msg := range m.deferred {
		if !msg.Sent && msg.ScheduledTime <= now {
			due = append(due, msg)
		}
	}
	return due, nil
}

func (m *MemoryStore) ListDeferredMessages(_ context.Context, userID int64) ([]models.DeferredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var msgs []models.DeferredMessage
	for _, msg := range m.deferred {
		if msg.UserID == userID {
			msgs = append(msgs, msg)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].ScheduledTime != msgs[j].ScheduledTime {
			return msgs[i].ScheduledTime < msgs[j].ScheduledTime
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}

func (m *MemoryStore) MarkDeferredMessageSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.deferred {
		if m.deferred[i].ID == id {
			m.deferred[i].Sent = true
			return nil
		}
	}
	return store.ErrNotFound
}
