package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidScheduledStart is returned for scheduled-start strings that are not "H:MM AM/PM".
var ErrInvalidScheduledStart = errors.New("invalid scheduled start")

// WallClock is an hour/minute pair on a 24-hour clock with no date or zone.
type WallClock struct {
	Hour   int
	Minute int
}

// MinuteOfDay returns the number of minutes since midnight.
func (c WallClock) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}

func (c WallClock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseScheduledStart parses a 12-hour "H:MM AM/PM" string such as "1:45 PM".
// Matching of the meridiem is case-insensitive and the space before it is optional.
func ParseScheduledStart(s string) (WallClock, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	var meridiem string
	switch {
	case strings.HasSuffix(raw, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(raw, "PM"):
		meridiem = "PM"
	default:
		return WallClock{}, fmt.Errorf("%w: %q: missing AM/PM", ErrInvalidScheduledStart, s)
	}
	clock := strings.TrimSpace(strings.TrimSuffix(raw, meridiem))

	hh, mm, ok := strings.Cut(clock, ":")
	if !ok || len(mm) != 2 || hh == "" || len(hh) > 2 || !digits(hh) || !digits(mm) {
		return WallClock{}, fmt.Errorf("%w: %q", ErrInvalidScheduledStart, s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 1 || hour > 12 {
		return WallClock{}, fmt.Errorf("%w: %q: hour out of range", ErrInvalidScheduledStart, s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return WallClock{}, fmt.Errorf("%w: %q: minute out of range", ErrInvalidScheduledStart, s)
	}

	// 12 AM is midnight, 12 PM is noon.
	hour %= 12
	if meridiem == "PM" {
		hour += 12
	}
	return WallClock{Hour: hour, Minute: minute}, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
