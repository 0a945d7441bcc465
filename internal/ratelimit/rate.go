package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRate turns a "<count>/<window>" spec such as "5/minute" into a Config.
// Recognized windows: second, minute, hour, day.
func ParseRate(spec string) (Config, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "/", 2)
	if len(parts) != 2 {
		return Config{}, fmt.Errorf("invalid rate %q: want <count>/<window>", spec)
	}

	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return Config{}, fmt.Errorf("invalid rate %q: count must be a positive integer", spec)
	}

	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "second":
		window = time.Second
	case "minute":
		window = time.Minute
	case "hour":
		window = time.Hour
	case "day":
		window = 24 * time.Hour
	default:
		return Config{}, fmt.Errorf("invalid rate %q: unknown window %q", spec, parts[1])
	}

	return Config{Capacity: count, Window: window}, nil
}
