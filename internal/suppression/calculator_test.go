package suppression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bissquit/alert-relay/internal/domain"
)

func recurring(start, end string, days ...time.Weekday) *domain.SuppressionConfig {
	s, _ := domain.ParseTimeOfDay(start)
	e, _ := domain.ParseTimeOfDay(end)
	weekdays := make([]domain.Weekday, 0, len(days))
	for _, d := range days {
		weekdays = append(weekdays, domain.Weekday(d))
	}
	return &domain.SuppressionConfig{
		Mode:      domain.SuppressionModeRecurring,
		StartTime: s,
		EndTime:   e,
		Weekdays:  weekdays,
	}
}

// 2026-10-12 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.October, day, hour, minute, 0, 0, time.UTC)
}

func TestIsSuppressed_OvernightBoundaries(t *testing.T) {
	cfg := recurring("22:00", "06:00", time.Monday)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"tuesday 05:59 inside", at(13, 5, 59), true},
		{"tuesday 06:00 end exclusive", at(13, 6, 0), false},
		{"monday 21:59 before start", at(12, 21, 59), false},
		{"monday 22:00 start exclusive", at(12, 22, 0), false},
		{"monday 22:01 inside", at(12, 22, 1), true},
		{"monday 23:59 inside", at(12, 23, 59), true},
		{"tuesday 00:00 inside", at(13, 0, 0), true},
		{"wednesday 05:00 outside", at(14, 5, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSuppressed(cfg, tt.now))
		})
	}
}

func TestIsSuppressed_SameDayWindow(t *testing.T) {
	cfg := recurring("09:00", "17:00", time.Wednesday, time.Friday)

	assert.True(t, IsSuppressed(cfg, at(14, 12, 0)), "wednesday noon")
	assert.True(t, IsSuppressed(cfg, at(16, 9, 1)), "friday morning")
	assert.False(t, IsSuppressed(cfg, at(15, 12, 0)), "thursday")
	assert.False(t, IsSuppressed(cfg, at(14, 17, 0)), "end exclusive")
	assert.False(t, IsSuppressed(cfg, at(14, 9, 0)), "start exclusive")
}

func TestIsSuppressed_OvernightAcrossWeekBoundary(t *testing.T) {
	cfg := recurring("23:00", "07:00", time.Sunday)

	// 2026-10-18 is a Sunday, 2026-10-19 the following Monday.
	assert.True(t, IsSuppressed(cfg, at(18, 23, 30)))
	assert.True(t, IsSuppressed(cfg, at(19, 6, 59)))
	assert.False(t, IsSuppressed(cfg, at(19, 7, 0)))
}

func TestIsSuppressed_EqualStartEndNeverSuppresses(t *testing.T) {
	cfg := recurring("08:00", "08:00", time.Monday)

	assert.False(t, IsSuppressed(cfg, at(12, 8, 0)))
	assert.False(t, IsSuppressed(cfg, at(12, 12, 0)))
}

func TestIsSuppressed_Absolute(t *testing.T) {
	start := domain.Date{Year: 2026, Month: time.October, Day: 12}
	end := domain.Date{Year: 2026, Month: time.October, Day: 14}
	cfg := &domain.SuppressionConfig{
		Mode:      domain.SuppressionModeAbsolute,
		StartDate: &start,
		StartTime: domain.TimeOfDay{Hour: 20},
		EndDate:   &end,
		EndTime:   domain.TimeOfDay{Hour: 8},
	}

	assert.False(t, IsSuppressed(cfg, at(12, 20, 0)), "start exclusive")
	assert.True(t, IsSuppressed(cfg, at(12, 20, 1)))
	assert.True(t, IsSuppressed(cfg, at(13, 12, 0)))
	assert.True(t, IsSuppressed(cfg, at(14, 7, 59)))
	assert.False(t, IsSuppressed(cfg, at(14, 8, 0)), "end exclusive")
	assert.False(t, IsSuppressed(cfg, at(15, 0, 0)))
}

func TestIsSuppressed_AbsoluteMissingDates(t *testing.T) {
	cfg := &domain.SuppressionConfig{Mode: domain.SuppressionModeAbsolute}
	assert.False(t, IsSuppressed(cfg, at(12, 12, 0)))
}

func TestIsSuppressed_Timezone(t *testing.T) {
	cfg := recurring("22:00", "06:00", time.Monday)
	cfg.Timezone = "Asia/Tokyo"

	// 13:30 UTC on Monday is 22:30 in Tokyo.
	assert.True(t, IsSuppressed(cfg, at(12, 13, 30)))
	// 22:30 UTC on Monday is 07:30 Tuesday in Tokyo.
	assert.False(t, IsSuppressed(cfg, at(12, 22, 30)))
}

func TestIsSuppressed_NilAndUnknownMode(t *testing.T) {
	assert.False(t, IsSuppressed(nil, time.Now()))
	assert.False(t, IsSuppressed(&domain.SuppressionConfig{Mode: "OTHER"}, time.Now()))
}
