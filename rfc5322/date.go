package rfc5322

import (
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// legacyZones maps obsolete RFC 2822 zone names to numeric offsets, per
// obsolete RFC 822 forms.
var legacyZones = map[string]string{
	"UT": "+0000", "GMT": "+0000", "UTC": "+0000",
	"EST": "-0500", "EDT": "-0400",
	"CST": "-0600", "CDT": "-0500",
	"MST": "-0700", "MDT": "-0600",
	"PST": "-0800", "PDT": "-0700",
}

// ParseDate parses an RFC 5322 (or obsolete RFC 2822) Date header value.
// Two-digit years immediately following a month abbreviation are expanded
// as RFC 2822 §4.3 directs: 00-49 -> 2000-2049, 50-99 -> 1950-1999. Legacy zone names
// are rewritten to their numeric offsets before handing off to time.Parse.
func ParseDate(raw string) (time.Time, bool) {
	s := normalizeDate(raw)
	layouts := []string{
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
		"2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04 -0700",
		"2 Jan 2006 15:04 -0700",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeDate rewrites legacy zone names and expands two-digit years.
func normalizeDate(raw string) string {
	fields := strings.Fields(raw)
	for i, f := range fields {
		if z, ok := legacyZones[strings.ToUpper(f)]; ok {
			fields[i] = z
		}
	}
	for i := 0; i < len(fields)-1; i++ {
		if _, isMonth := months[strings.ToLower(fields[i])]; !isMonth {
			continue
		}
		y := fields[i+1]
		if len(y) == 2 {
			if n, err := strconv.Atoi(y); err == nil {
				if n <= 49 {
					fields[i+1] = strconv.Itoa(2000 + n)
				} else {
					fields[i+1] = strconv.Itoa(1900 + n)
				}
			}
		}
	}
	return strings.Join(fields, " ")
}
