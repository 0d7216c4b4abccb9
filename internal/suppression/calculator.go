// Package suppression evaluates quiet-hours windows.
package suppression

import (
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
)

// IsSuppressed reports whether now falls strictly inside the configured
// quiet-hours window. Boundaries are exclusive: an instant equal to the start
// or the end of a window is not suppressed. A nil config never suppresses.
//
// When the config names a timezone, now is converted to it before the wall
// clock comparison; otherwise now's own location is used.
func IsSuppressed(cfg *domain.SuppressionConfig, now time.Time) bool {
	if cfg == nil {
		return false
	}

	now = now.In(cfg.Location(now.Location()))

	switch cfg.Mode {
	case domain.SuppressionModeAbsolute:
		return inAbsoluteWindow(cfg, now)
	case domain.SuppressionModeRecurring:
		return inRecurringWindow(cfg, now)
	default:
		return false
	}
}

func inAbsoluteWindow(cfg *domain.SuppressionConfig, now time.Time) bool {
	if cfg.StartDate == nil || cfg.EndDate == nil {
		return false
	}
	start := cfg.StartDate.At(cfg.StartTime, now.Location())
	end := cfg.EndDate.At(cfg.EndTime, now.Location())
	return now.After(start) && now.Before(end)
}

func inRecurringWindow(cfg *domain.SuppressionConfig, now time.Time) bool {
	overnight := cfg.Overnight()

	for _, wd := range cfg.Weekdays {
		// Anchor the window on the latest occurrence of the weekday that is
		// not after today, so an overnight window started yesterday still
		// covers this morning, including across the Sunday/Monday boundary.
		offset := (int(now.Weekday()) - int(wd) + 7) % 7
		anchor := time.Date(now.Year(), now.Month(), now.Day()-offset, 0, 0, 0, 0, now.Location())
		y, m, d := anchor.Date()

		start := cfg.StartTime.On(y, m, d, now.Location())
		end := cfg.EndTime.On(y, m, d, now.Location())
		if overnight {
			end = cfg.EndTime.On(y, m, d+1, now.Location())
		}

		if now.After(start) && now.Before(end) {
			return true
		}
	}

	return false
}
