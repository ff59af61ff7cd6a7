package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Laky-64/gologging"
)

// SecToMin converts a duration in seconds to a formatted string (MM:SS or HH:MM:SS).
// It returns "0:00" for negative inputs and logs a warning.
func SecToMin(seconds int) string {
	if seconds < 0 {
		gologging.WarnF("SecToMin received a negative duration: %d", seconds)
		return "0:00"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// ToSeconds parses a display duration such as "3:25" or "1:02:03" into seconds.
// It returns nil when the string is empty or any part is not a number.
func ToSeconds(duration string) *int {
	duration = strings.TrimSpace(duration)
	if duration == "" {
		return nil
	}

	parts := strings.Split(duration, ":")
	if len(parts) > 3 {
		return nil
	}

	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil
		}
		total = total*60 + n
	}
	return &total
}

// Truncate shortens s to at most limit runes. A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// StripQuery drops everything after the first '?' of a URL.
func StripQuery(rawURL string) string {
	return strings.SplitN(rawURL, "?", 2)[0]
}
