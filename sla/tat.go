package sla

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	MinutesPerHour = 60
	MinutesPerDay  = 24 * MinutesPerHour
)

// MaxTatMinutes bounds any parsed duration; larger values are treated as malformed.
const MaxTatMinutes = 366 * MinutesPerDay

const tatUnit = `(days|day|d|hours|hour|hrs|hr|h|minutes|minute|mins|min|m)`

var (
	// tatTokenPattern matches one "<N> <unit>" token ("3 d", "10 min", "2hrs").
	tatTokenPattern = regexp.MustCompile(`(?i)(\d+)\s*` + tatUnit)
	// tatStringPattern is the whole accepted grammar: tokens separated by spaces or commas.
	tatStringPattern = regexp.MustCompile(`(?i)^(?:\d+\s*` + tatUnit + `[\s,]*)+$`)
)

// ParseTatMinutes converts a free-form duration string such as "3 d, 2 h, 10 m"
// into whole minutes. Tokens may appear in any order and any subset.
// Empty input, anything outside the token grammar ("2 months") and totals
// above MaxTatMinutes yield 0; it never fails.
func ParseTatMinutes(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" || !tatStringPattern.MatchString(raw) {
		return 0
	}
	total := 0
	for _, m := range tatTokenPattern.FindAllStringSubmatch(raw, -1) {
		if len(m[1]) > 9 {
			return 0
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0
		}
		switch strings.ToLower(m[2])[0] {
		case 'd':
			total += n * MinutesPerDay
		case 'h':
			total += n * MinutesPerHour
		case 'm':
			total += n
		}
		if total > MaxTatMinutes {
			return 0
		}
	}
	return total
}

// ParseTatPointer is ParseTatMinutes for nullable columns.
func ParseTatPointer(raw *string) int {
	if raw == nil {
		return 0
	}
	return ParseTatMinutes(*raw)
}

// FormatTat renders minutes the way realized TAT columns are stored,
// e.g. 1570 -> "1 d, 2 h, 10 m". Leading zero units are omitted.
func FormatTat(minutes int) string {
	if minutes <= 0 {
		return "0 m"
	}
	d := minutes / MinutesPerDay
	h := (minutes % MinutesPerDay) / MinutesPerHour
	m := minutes % MinutesPerHour

	parts := make([]string, 0, 3)
	if d > 0 {
		parts = append(parts, fmt.Sprintf("%d d", d))
	}
	if d > 0 || h > 0 {
		parts = append(parts, fmt.Sprintf("%d h", h))
	}
	parts = append(parts, fmt.Sprintf("%d m", m))
	return strings.Join(parts, ", ")
}

// FormatParts renders explicit parts as "<d> d, <h> h, <m> m".
func FormatParts(days, hours, minutes int) string {
	return fmt.Sprintf("%d d, %d h, %d m", days, hours, minutes)
}
