package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgassist-backend/internal/config"
	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

// PostgresStore persists users, messages, attachments, usage records and
// deferred messages. Every operation is a short independent transaction;
// retry policy belongs to callers.
type PostgresStore struct {
	db  *pgxpool.Pool
	cfg *config.Config
}

func NewPostgresStore(db *pgxpool.Pool, cfg *config.Config) *PostgresStore {
	return &PostgresStore{db: db, cfg: cfg}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id     BIGINT PRIMARY KEY,
		username    TEXT NOT NULL DEFAULT '',
		first_name  TEXT NOT NULL DEFAULT '',
		last_name   TEXT NOT NULL DEFAULT '',
		settings    JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_active TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id            BIGSERIAL PRIMARY KEY,
		user_id       BIGINT NOT NULL REFERENCES users (user_id),
		role          TEXT NOT NULL,
		content       TEXT NOT NULL,
		message_type  TEXT NOT NULL DEFAULT 'text',
		attachment_id TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages (user_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id             UUID PRIMARY KEY,
		user_id        BIGINT NOT NULL REFERENCES users (user_id),
		file_id        TEXT NOT NULL,
		file_unique_id TEXT NOT NULL UNIQUE,
		file_path      TEXT NOT NULL,
		media_type     TEXT NOT NULL,
		processed_text TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS usage_stats (
		id           BIGSERIAL PRIMARY KEY,
		user_id      BIGINT NOT NULL REFERENCES users (user_id),
		model        TEXT NOT NULL,
		tokens_used  INTEGER NOT NULL,
		request_type TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_messages (
		id             BIGSERIAL PRIMARY KEY,
		user_id        BIGINT NOT NULL REFERENCES users (user_id),
		content        TEXT NOT NULL,
		scheduled_time BIGINT NOT NULL,
		sent           BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_messages (scheduled_time) WHERE sent = FALSE`,
}

// EnsureSchema creates the tables on startup if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	log.Println("[PostgresStore] Schema ensured.")
	return nil
}

// defaultSettings builds a fully populated settings bag from the system
// defaults.
func (s *PostgresStore) defaultSettings() models.Settings {
	return models.Settings{
		Model:            s.cfg.DefaultModel,
		Temperature:      s.cfg.DefaultTemperature,
		MaxTokens:        s.cfg.DefaultMaxTokens,
		ConversationMode: s.cfg.DefaultMode,
		Language:         s.cfg.DefaultLanguage,
	}
}

// decodeSettings backfills a stored settings payload with defaults. A NULL
// column or a partial bag both come out fully populated.
func (s *PostgresStore) decodeSettings(raw []byte) (models.Settings, error) {
	settings := s.defaultSettings()
	if len(raw) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return models.Settings{}, fmt.Errorf("failed to decode settings bag: %w", err)
	}
	return settings, nil
}

const upsertUser = `-- name: UpsertUser :exec
INSERT INTO users (user_id, username, first_name, last_name, settings, created_at, last_active)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE
SET username = EXCLUDED.username,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    last_active = NOW();
`

// UpsertUser inserts a new user with default settings, or refreshes display
// fields and the last-active timestamp for an existing one. The settings
// bag of an existing user is never touched here.
func (s *PostgresStore) UpsertUser(ctx context.Context, id int64, username, firstName, lastName string) error {
	defaults, err := json.Marshal(s.defaultSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal default settings: %w", err)
	}

	if _, err := s.db.Exec(ctx, upsertUser, id, username, firstName, lastName, defaults); err != nil {
		return fmt.Errorf("database error upserting user %d: %w", id, err)
	}
	return nil
}

const getUser = `-- name: GetUser :one
SELECT user_id, username, first_name, last_name, settings, created_at, last_active
FROM users
WHERE user_id = $1;
`

// GetUser returns the user with a fully populated settings bag.
// Returns store.ErrNotFound if the user does not exist.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var (
		user        models.User
		rawSettings []byte
	)
	err := s.db.QueryRow(ctx, getUser, id).Scan(
		&user.ID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&rawSettings,
		&user.CreatedAt,
		&user.LastActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error fetching user %d: %w", id, err)
	}

	user.Settings, err = s.decodeSettings(rawSettings)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

const updateUserSettings = `-- name: UpdateUserSettings :exec
UPDATE users
SET settings = $1, last_active = $2
WHERE user_id = $3;
`

// UpdateUserSettings merges the patch into the stored (or default) settings
// bag and bumps last_active. Concurrent updates for the same user are
// last-writer-wins; there is no optimistic locking on the bag.
func (s *PostgresStore) UpdateUserSettings(ctx context.Context, id int64, patch store.SettingsPatch) error {
	var rawSettings []byte
	err := s.db.QueryRow(ctx, `SELECT settings FROM users WHERE user_id = $1`, id).Scan(&rawSettings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("database error reading settings for user %d: %w", id, err)
	}

	settings, err := s.decodeSettings(rawSettings)
	if err != nil {
		return err
	}
	patch.Apply(&settings)

	merged, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal merged settings: %w", err)
	}

	tag, err := s.db.Exec(ctx, updateUserSettings, merged, time.Now(), id)
	if err != nil {
		return fmt.Errorf("database error updating settings for user %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
