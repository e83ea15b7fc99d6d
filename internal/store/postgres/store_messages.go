package postgres

import (
	"context"
	"fmt"

	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store"
)

const appendMessage = `-- name: AppendMessage :one
INSERT INTO messages (user_id, role, content, message_type, attachment_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;
`

// AppendMessage adds one row to the user's history and returns its id.
func (s *PostgresStore) AppendMessage(ctx context.Context, arg store.AppendMessageParams) (int64, error) {
	msgType := arg.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	var id int64
	err := s.db.QueryRow(ctx, appendMessage,
		arg.UserID,
		arg.Role,
		arg.Content,
		msgType,
		arg.AttachmentID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("database error appending message for user %d: %w", arg.UserID, err)
	}
	return id, nil
}

const getRecentMessages = `-- name: GetRecentMessages :many
SELECT m.role, m.content, m.message_type, m.attachment_id, m.created_at, COALESCE(a.processed_text, '')
FROM messages m
LEFT JOIN attachments a ON m.attachment_id = a.file_unique_id
WHERE m.user_id = $1
ORDER BY m.created_at DESC, m.id DESC
LIMIT $2;
`

// GetRecentMessages fetches the newest limit rows and returns them oldest
// first, mapped to prompt format. Image messages with a processed
// attachment expand into a text block plus an image-reference block; rows
// with roles outside user/assistant/system are skipped.
func (s *PostgresStore) GetRecentMessages(ctx context.Context, userID int64, limit int) ([]models.PromptMessage, error) {
	rows, err := s.db.Query(ctx, getRecentMessages, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("database error querying history for user %d: %w", userID, err)
	}
	defer rows.Close()

	type historyRow struct {
		msg           models.Message
		processedText string
	}

	var fetched []historyRow
	for rows.Next() {
		var row historyRow
		if err := rows.Scan(
			&row.msg.Role,
			&row.msg.Content,
			&row.msg.Type,
			&row.msg.AttachmentID,
			&row.msg.CreatedAt,
			&row.processedText,
		); err != nil {
			return nil, fmt.Errorf("error scanning history row: %w", err)
		}
		fetched = append(fetched, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	// Rows arrive newest first; walk backwards to restore chronological
	// order for prompt assembly.
	prompt := make([]models.PromptMessage, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		if pm, ok := store.ExpandToPrompt(fetched[i].msg, fetched[i].processedText); ok {
			prompt = append(prompt, pm)
		}
	}
	return prompt, nil
}

const clearHistory = `-- name: ClearHistory :exec
DELETE FROM messages
WHERE user_id = $1;
`

// ClearHistory deletes all messages for the user. Attachments and usage
// records are untouched.
func (s *PostgresStore) ClearHistory(ctx context.Context, userID int64) error {
	if _, err := s.db.Exec(ctx, clearHistory, userID); err != nil {
		return fmt.Errorf("database error clearing history for user %d: %w", userID, err)
	}
	return nil
}

const exportHistory = `-- name: ExportHistory :many
SELECT role, content, message_type, created_at
FROM messages
WHERE user_id = $1
ORDER BY created_at ASC, id ASC;
`

// ExportHistory dumps the user's full history in the requested format.
// Unknown formats return store.ErrUnsupportedFormat.
func (s *PostgresStore) ExportHistory(ctx context.Context, userID int64, format store.ExportFormat) (string, error) {
	rows, err := s.db.Query(ctx, exportHistory, userID)
	if err != nil {
		return "", fmt.Errorf("database error exporting history for user %d: %w", userID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Type, &msg.CreatedAt); err != nil {
			return "", fmt.Errorf("error scanning export row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating export rows: %w", err)
	}

	return store.FormatExport(messages, format)
}
