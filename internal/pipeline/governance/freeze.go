package governance

import (
	"fmt"
	"strings"
	"time"
)

// FreezeWindow is the change-freeze calendar: a weekly cutoff (no deploys from
// AfterHour on Weekday) plus explicit blackout dates.
type FreezeWindow struct {
	Weekday   time.Weekday
	AfterHour int
	Blackouts map[string]bool // "2006-01-02" keys
}

// ParseFreezeWindow builds a window from config strings. An empty weekday
// disables the weekly cutoff.
func ParseFreezeWindow(weekday string, afterHour int, blackoutDates []string) (FreezeWindow, error) {
	w := FreezeWindow{AfterHour: afterHour, Blackouts: make(map[string]bool, len(blackoutDates))}
	w.Weekday = -1
	if weekday != "" {
		parsed, err := parseWeekday(weekday)
		if err != nil {
			return FreezeWindow{}, err
		}
		w.Weekday = parsed
	}
	for _, d := range blackoutDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return FreezeWindow{}, fmt.Errorf("bad blackout date %q: %w", d, err)
		}
		w.Blackouts[d] = true
	}
	return w, nil
}

// Covers reports whether the given instant falls inside the freeze, with a
// human-readable reason.
func (w FreezeWindow) Covers(now time.Time) (bool, string) {
	if w.Blackouts[now.Format("2006-01-02")] {
		return true, fmt.Sprintf("blackout date %s", now.Format("2006-01-02"))
	}
	if w.Weekday >= 0 && now.Weekday() == w.Weekday && now.Hour() >= w.AfterHour {
		return true, fmt.Sprintf("%s freeze from %02d:00", w.Weekday, w.AfterHour)
	}
	return false, ""
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
