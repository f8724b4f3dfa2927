package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"offer_booster/internal/model"
)

var triggerTimeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// TriggerTime is a wall-clock time of day in the process's local zone.
type TriggerTime struct {
	Hour   int
	Minute int
}

// ParseTriggerTime accepts strict 24-hour HH:MM only: "9:00", "24:00" and
// "09:00:00" are all rejected.
func ParseTriggerTime(s string) (TriggerTime, error) {
	m := triggerTimeRe.FindStringSubmatch(s)
	if m == nil {
		return TriggerTime{}, fmt.Errorf("%w: run_time %q must be HH:MM (24-hour)", model.ErrConfigInvalid, s)
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return TriggerTime{Hour: h, Minute: minute}, nil
}

func (t TriggerTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the trigger instant on day's calendar date.
func (t TriggerTime) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// NextRun is today's trigger when after is strictly before it, otherwise
// tomorrow's.
func (t TriggerTime) NextRun(after time.Time) time.Time {
	today := t.On(after)
	if after.Before(today) {
		return today
	}
	return t.On(after.AddDate(0, 0, 1))
}
