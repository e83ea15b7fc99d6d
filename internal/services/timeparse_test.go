package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	t.Run("time later today", func(t *testing.T) {
		ts, err := ParseScheduleTime("15:30", now)
		require.NoError(t, err)

		at := time.Unix(ts, 0)
		assert.Equal(t, 10, at.Day())
		assert.Equal(t, 15, at.Hour())
		assert.Equal(t, 30, at.Minute())
	})

	t.Run("past time rolls to tomorrow", func(t *testing.T) {
		ts, err := ParseScheduleTime("09:00", now)
		require.NoError(t, err)

		at := time.Unix(ts, 0)
		assert.Equal(t, 11, at.Day())
		assert.Equal(t, 9, at.Hour())
	})

	t.Run("time with seconds", func(t *testing.T) {
		ts, err := ParseScheduleTime("15:30:45", now)
		require.NoError(t, err)
		assert.Equal(t, 45, time.Unix(ts, 0).Second())
	})

	t.Run("explicit date", func(t *testing.T) {
		ts, err := ParseScheduleTime("25.12.2025 18:00", now)
		require.NoError(t, err)

		at := time.Unix(ts, 0)
		assert.Equal(t, time.December, at.Month())
		assert.Equal(t, 25, at.Day())
		assert.Equal(t, 18, at.Hour())
	})

	t.Run("iso date", func(t *testing.T) {
		ts, err := ParseScheduleTime("2025-12-25 18:00", now)
		require.NoError(t, err)
		assert.Equal(t, 25, time.Unix(ts, 0).Day())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseScheduleTime("в полдень", now)
		assert.Error(t, err)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := ParseScheduleTime("25:99", now)
		assert.Error(t, err)
	})
}
