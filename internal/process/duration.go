package process

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTimerDuration applies when a timer declares no usable duration.
const DefaultTimerDuration = 5 * time.Minute

// ParseDuration parses the time part of an ISO-8601 duration: "PT" followed
// by any of hours, minutes and seconds, in that order ("PT1H30M",
// "PT0.5S"). Date components (years, months, weeks, days) are not supported.
// A string with no recognized component, or one whose total does not fit in
// a time.Duration, yields DefaultTimerDuration.
func ParseDuration(s string) time.Duration {
	d, ok := parseTimeDuration(s)
	if !ok {
		return DefaultTimerDuration
	}
	return d
}

// parseTimeDuration reports ok=false when s has no recognized component.
// Parsing stops at the first malformed or out-of-order component; the
// components read before it still count.
func parseTimeDuration(s string) (time.Duration, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	rest, found := strings.CutPrefix(s, "PT")
	if !found {
		return 0, false
	}

	var (
		total time.Duration
		seen  int
		order = "HMS"
		pos   int
	)
	for rest != "" {
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			break
		}
		unit := rest[i]
		idx := strings.IndexByte(order[pos:], unit)
		if idx < 0 {
			break
		}
		n, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			break
		}

		var scale time.Duration
		switch unit {
		case 'H':
			scale = time.Hour
		case 'M':
			scale = time.Minute
		case 'S':
			scale = time.Second
		}
		v := n * float64(scale)
		if v >= float64(math.MaxInt64)-float64(total) {
			return 0, false
		}
		total += time.Duration(v)
		seen++
		pos += idx + 1
		rest = rest[i+1:]
	}
	return total, seen > 0
}

// cycleInterval extracts the interval of a repeating interval such as
// "R3/PT10S" or "R/PT1M".
func cycleInterval(cycle string) (time.Duration, bool) {
	cycle = strings.TrimSpace(cycle)
	if cycle == "" {
		return 0, false
	}
	if i := strings.LastIndexByte(cycle, '/'); i >= 0 {
		cycle = cycle[i+1:]
	}
	return parseTimeDuration(cycle)
}
