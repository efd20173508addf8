package fetcher

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Terminal-bound CLIs decorate their output heavily; everything control
// related has to go before the usage line can be matched.
var (
	ansiEscapeRe  = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()][0-9A-B]`)
	percentLeftRe = regexp.MustCompile(`(\d+)%\s+left`)
	resetsInRe    = regexp.MustCompile(`\(resets in ([^)]+)\)`)
	durationRe    = regexp.MustCompile(`(\d+)\s*([dhms])`)
)

// stripTerminalControl removes ANSI escape sequences and carriage returns.
func stripTerminalControl(s string) string {
	s = ansiEscapeRe.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "")
}

// parseUsageLine extracts "<N>% left" and an optional "(resets in <dur>)"
// from one already-stripped output line.
func parseUsageLine(line string, now time.Time) (percent float64, resetAt *time.Time, ok bool) {
	m := percentLeftRe.FindStringSubmatch(line)
	if m == nil {
		return 0, nil, false
	}
	value, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, nil, false
	}
	percent = float64(value)

	if rm := resetsInRe.FindStringSubmatch(line); rm != nil {
		if d, dok := parseLooseDuration(rm[1]); dok {
			at := now.Add(d).UTC()
			resetAt = &at
		}
	}
	return percent, resetAt, true
}

// parseLooseDuration understands "2d 3h", "4h 30m", "45m", "90s".
func parseLooseDuration(s string) (time.Duration, bool) {
	matches := durationRe.FindAllStringSubmatch(strings.ToLower(s), -1)
	if len(matches) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		switch m[2] {
		case "d":
			total += time.Duration(n) * 24 * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}
	return total, true
}
