package services

import (
	"fmt"
	"time"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// Accepted delivery-time layouts. Time-only layouts resolve against the
// current date and roll over to tomorrow when the moment already passed.
var scheduleLayouts = []string{
	"15:04",
	"15:04:05",
	"02.01.2006 15:04",
	"2006-01-02 15:04",
	"02-01-2006 15:04",
	"02/01/2006 15:04",
}

// ParseScheduleTime parses a user-entered delivery time into a UNIX
// timestamp.
func ParseScheduleTime(timeStr string, now time.Time) (int64, error) {
	for _, layout := range scheduleLayouts {
		parsed, err := time.ParseInLocation(layout, timeStr, now.Location())
		if err != nil {
			continue
		}

		timeOnly := layout == "15:04" || layout == "15:04:05"
		if timeOnly {
			parsed = time.Date(now.Year(), now.Month(), now.Day(),
				parsed.Hour(), parsed.Minute(), parsed.Second(), 0, now.Location())
			if parsed.Before(now) {
				parsed = parsed.Add(24 * time.Hour)
			}
		}
		return parsed.Unix(), nil
	}
	return 0, fmt.Errorf("unrecognized time format %q, use HH:MM", timeStr)
}
