package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store"
)

const addAttachment = `-- name: AddAttachment :one
INSERT INTO attachments (id, user_id, file_id, file_unique_id, file_path, media_type, processed_text)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (file_unique_id) DO UPDATE
SET file_path = EXCLUDED.file_path,
    media_type = EXCLUDED.media_type,
    processed_text = EXCLUDED.processed_text
RETURNING id;
`

// AddAttachment records a stored platform file and returns its id. The same
// platform file sent again refreshes the stored path and extracted text
// instead of failing on the unique constraint.
func (s *PostgresStore) AddAttachment(ctx context.Context, arg store.AddAttachmentParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, addAttachment,
		uuid.New(),
		arg.UserID,
		arg.FileID,
		arg.FileUniqueID,
		arg.FilePath,
		arg.MediaType,
		arg.ProcessedText,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("database error adding attachment for user %d: %w", arg.UserID, err)
	}
	return id, nil
}

const getAttachment = `-- name: GetAttachment :one
SELECT id, user_id, file_id, file_unique_id, file_path, media_type, processed_text, created_at
FROM attachments
WHERE file_unique_id = $1;
`

// GetAttachment looks an attachment up by the platform's file_unique_id.
// Returns store.ErrNotFound if there is none.
func (s *PostgresStore) GetAttachment(ctx context.Context, fileUniqueID string) (*models.Attachment, error) {
	var att models.Attachment
	err := s.db.QueryRow(ctx, getAttachment, fileUniqueID).Scan(
		&att.ID,
		&att.UserID,
		&att.FileID,
		&att.FileUniqueID,
		&att.FilePath,
		&att.MediaType,
		&att.ProcessedText,
		&att.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error fetching attachment %s: %w", fileUniqueID, err)
	}
	return &att, nil
}
