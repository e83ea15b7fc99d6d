package postgres

import (
	"context"
	"fmt"

	"tgassist-backend/internal/models"
)

const recordUsage = `-- name: RecordUsage :exec
INSERT INTO usage_stats (user_id, model, tokens_used, request_type)
VALUES ($1, $2, $3, $4);
`

// RecordUsage appends one accounting row for a model call.
func (s *PostgresStore) RecordUsage(ctx context.Context, userID int64, model string, tokensUsed int, requestType string) error {
	if _, err := s.db.Exec(ctx, recordUsage, userID, model, tokensUsed, requestType); err != nil {
		return fmt.Errorf("database error recording usage for user %d: %w", userID, err)
	}
	return nil
}

const countMessages = `-- name: CountMessages :one
SELECT COUNT(*) FROM messages WHERE user_id = $1;
`

const tokensByModel = `-- name: TokensByModel :many
SELECT model, SUM(tokens_used)
FROM usage_stats
WHERE user_id = $1
GROUP BY model;
`

const requestsByType = `-- name: RequestsByType :many
SELECT request_type, COUNT(*)
FROM usage_stats
WHERE user_id = $1
GROUP BY request_type;
`

const activityByDay = `-- name: ActivityByDay :many
SELECT EXTRACT(DOW FROM created_at)::TEXT AS day, COUNT(*)
FROM messages
WHERE user_id = $1
GROUP BY day;
`

// GetUserStats aggregates a user's activity: total messages, tokens per
// model, requests per type, and messages per day of week (0=Sunday).
func (s *PostgresStore) GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	stats := &models.UserStats{
		TokensByModel:  map[string]int{},
		RequestsByType: map[string]int{},
		ActivityByDay:  map[string]int{},
	}

	if err := s.db.QueryRow(ctx, countMessages, userID).Scan(&stats.MessageCount); err != nil {
		return nil, fmt.Errorf("database error counting messages for user %d: %w", userID, err)
	}

	rows, err := s.db.Query(ctx, tokensByModel, userID)
	if err != nil {
		return nil, fmt.Errorf("database error aggregating tokens for user %d: %w", userID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			model  string
			tokens int
		)
		if err := rows.Scan(&model, &tokens); err != nil {
			return nil, fmt.Errorf("error scanning token aggregate: %w", err)
		}
		stats.TokensByModel[model] = tokens
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token aggregates: %w", err)
	}

	rows, err = s.db.Query(ctx, requestsByType, userID)
	if err != nil {
		return nil, fmt.Errorf("database error aggregating requests for user %d: %w", userID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			reqType string
			count   int
		)
		if err := rows.Scan(&reqType, &count); err != nil {
			return nil, fmt.Errorf("error scanning request aggregate: %w", err)
		}
		stats.RequestsByType[reqType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request aggregates: %w", err)
	}

	rows, err = s.db.Query(ctx, activityByDay, userID)
	if err != nil {
		return nil, fmt.Errorf("database error aggregating activity for user %d: %w", userID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			day   string
			count int
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("error scanning activity aggregate: %w", err)
		}
		stats.ActivityByDay[day] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity aggregates: %w", err)
	}

	return stats, nil
}
