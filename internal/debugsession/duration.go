package debugsession

import (
	"math"
	"strconv"
	"strings"
	"time"

	"cifleet/internal/apperr"
)

var units = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseDuration parses a renewal duration such as "2h", "30m", "1d" or
// "90s". A bare number is read as hours. The result must be positive.
func ParseDuration(s string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return 0, apperr.Validation("duration is required")
	}

	unit, num := time.Hour, raw
	if u, ok := units[raw[len(raw)-1]]; ok {
		unit, num = u, raw[:len(raw)-1]
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0, apperr.Validation("invalid duration %q, expected a positive number with an h, m, s or d suffix", s)
	}
	if n*float64(unit) >= math.MaxInt64 {
		return 0, apperr.Validation("duration %q is too large", s)
	}
	return time.Duration(n * float64(unit)), nil
}
