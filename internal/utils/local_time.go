package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUserLocalTime is sent when the host zone cannot be determined.
const DefaultUserLocalTime = "480"

// UserLocalTime returns the host's UTC offset in minutes as the API's
// userlocaltime header value. A TZ variable naming an unknown zone counts as
// unavailable.
func UserLocalTime(now time.Time) string {
	if tz, ok := os.LookupEnv("TZ"); ok && strings.TrimSpace(tz) != "" {
		loc, err := time.LoadLocation(strings.TrimPrefix(strings.TrimSpace(tz), ":"))
		if err != nil {
			return DefaultUserLocalTime
		}
		now = now.In(loc)
	}
	return OffsetMinutes(now)
}

func OffsetMinutes(t time.Time) string {
	_, offset := t.Zone()
	return strconv.Itoa(offset / 60)
}
