package postgres

import (
	"context"
	"fmt"

	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store"
)

const addDeferredMessage = `-- name: AddDeferredMessage :one
INSERT INTO scheduled_messages (user_id, content, scheduled_time)
VALUES ($1, $2, $3)
RETURNING id;
`

// AddDeferredMessage stores a message for future delivery and returns its id.
func (s *PostgresStore) AddDeferredMessage(ctx context.Context, userID int64, content string, scheduledAt int64) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, addDeferredMessage, userID, content, scheduledAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("database error adding deferred message for user %d: %w", userID, err)
	}
	return id, nil
}

const getDueDeferredMessages = `-- name: GetDueDeferredMessages :many
SELECT id, user_id, content, scheduled_time, sent, created_at
FROM scheduled_messages
WHERE scheduled_time <= $1 AND sent = FALSE;
`

// GetDueDeferredMessages returns all unsent messages whose scheduled time
// has passed. The sent flag is the sole source of truth for delivery
// status; dispatch order among the returned rows is unspecified.
func (s *PostgresStore) GetDueDeferredMessages(ctx context.Context, now int64) ([]models.DeferredMessage, error) {
	rows, err := s.db.Query(ctx, getDueDeferredMessages, now)
	if err != nil {
		return nil, fmt.Errorf("database error querying due deferred messages: %w", err)
	}
	defer rows.Close()

	var due []models.DeferredMessage
	for rows.Next() {
		var msg models.DeferredMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.Content,
			&msg.ScheduledTime,
			&msg.Sent,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning deferred message row: %w", err)
		}
		due = append(due, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deferred message rows: %w", err)
	}
	return due, nil
}

const listDeferredMessages = `-- name: ListDeferredMessages :many
SELECT id, user_id, content, scheduled_time, sent, created_at
FROM scheduled_messages
WHERE user_id = $1
ORDER BY scheduled_time ASC, id ASC;
`

// ListDeferredMessages returns all of a user's deferred messages, sent or
// not, ordered by delivery time.
func (s *PostgresStore) ListDeferredMessages(ctx context.Context, userID int64) ([]models.DeferredMessage, error) {
	rows, err := s.db.Query(ctx, listDeferredMessages, userID)
	if err != nil {
		return nil, fmt.Errorf("database error listing deferred messages for user %d: %w", userID, err)
	}
	defer rows.Close()

	var msgs []models.DeferredMessage
	for rows.Next() {
		var msg models.DeferredMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.Content,
			&msg.ScheduledTime,
			&msg.Sent,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning deferred message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deferred message rows: %w", err)
	}
	return msgs, nil
}

const markDeferredMessageSent = `-- name: MarkDeferredMessageSent :exec
UPDATE scheduled_messages
SET sent = TRUE
WHERE id = $1;
`

// MarkDeferredMessageSent flips the sent flag. The transition is one-way
// and idempotent: marking an already-sent message is a no-op.
func (s *PostgresStore) MarkDeferredMessageSent(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, markDeferredMessageSent, id)
	if err != nil {
		return fmt.Errorf("database error marking deferred message %d sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
