package auth

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var ttlPattern = regexp.MustCompile(`^(\d+)([dw])$`)

// ParseTTL parses a token lifetime.
// Supported formats:
//   - "never" or "" (empty) - 0, tokens do not expire
//   - "7d" - 7 days
//   - "2w" - 2 weeks
//   - Any valid Go duration like "30m", "12h", "2h30m"
func ParseTTL(s string) (time.Duration, error) {
	if s == "" || s == "never" {
		return 0, nil
	}

	if dur, err := time.ParseDuration(s); err == nil {
		if dur < 0 {
			return 0, fmt.Errorf("negative token lifetime: %s", s)
		}
		return dur, nil
	}

	matches := ttlPattern.FindStringSubmatch(s)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid token lifetime: %s (use 'never', '7d', '2w', or any Go duration like '30m')", s)
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid number in token lifetime: %s", s)
	}
	switch matches[2] {
	case "w":
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return time.Duration(num) * 24 * time.Hour, nil
	}
}

// expiry returns now+ttl, or nil when ttl is zero.
func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}
