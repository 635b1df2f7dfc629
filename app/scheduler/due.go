package scheduler

import (
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
)

// IsSavedSearchDue reports whether s should be evaluated on a tick at now (UTC).
// Instant searches are due on every tick. Periodic searches are due during
// their configured hour; weekly ones also need the weekday (0 = Sunday) and
// monthly ones the day of month, where days past the month's end fall on its
// last day.
func IsSavedSearchDue(s *models.SavedSearch, now time.Time) bool {
	if s == nil || !s.Schedulable() {
		return false
	}
	now = now.UTC()

	switch s.AlertFrequency {
	case models.AlertFrequencyInstant:
		return true
	case models.AlertFrequencyDaily:
		return now.Hour() == s.AlertTime
	case models.AlertFrequencyWeekly:
		if s.AlertDay == nil {
			return false
		}
		return now.Hour() == s.AlertTime && int(now.Weekday()) == *s.AlertDay
	case models.AlertFrequencyMonthly:
		if s.AlertDay == nil {
			return false
		}
		return now.Hour() == s.AlertTime && now.Day() == monthlyAlertDay(*s.AlertDay, now)
	default:
		return false
	}
}

func monthlyAlertDay(day int, now time.Time) int {
	if last := utils.DaysInMonth(now); day > last {
		return last
	}
	return day
}

// IsAudienceDue reports whether an auto-sync audience should start a new
// attempt. latest is the newest sync record, if any; an attempt that is still
// running and younger than staleAfter blocks a new one.
func IsAudienceDue(a *models.Audience, latest *models.AudienceSyncRecord, now time.Time, staleAfter time.Duration) bool {
	if a == nil || !a.IsActive || !a.AutoSync {
		return false
	}
	if a.NextSyncAt != nil && a.NextSyncAt.After(now) {
		return false
	}
	return latest == nil || !latest.Running(now, staleAfter)
}
